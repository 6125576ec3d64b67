// Command repcrec runs a replicated, multi-version transaction simulator
// against an instruction script, the way the original teacher tooling this
// project grew out of ships a single "bunbase"-style entrypoint for its
// domain logic.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/repcrec/internal/engine"
	"github.com/kartikbazzad/repcrec/pkg/config"
	"github.com/kartikbazzad/repcrec/pkg/logger"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "repcrec",
	Short: "Replicated multi-version transaction simulator",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&cfg.NumSites, "sites", cfg.NumSites, "number of sites in the fleet")
	flags.IntVar(&cfg.NumVariables, "variables", cfg.NumVariables, "number of variables")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN, or ERROR")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	runCmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run an instruction script against the simulator",
		Long: "Run replays an instruction script (begin/beginRO/R/W/end/fail/recover/dump\n" +
			"clauses, one or more per line, separated by semicolons) strictly in\n" +
			"order. With no arguments the script is read from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: runScript,
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the repcrec version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("repcrec 0.1.0")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	loaded := cfg
	if err := config.Load("REPCREC", &loaded); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if !flags.Changed("sites") {
		cfg.NumSites = loaded.NumSites
	}
	if !flags.Changed("variables") {
		cfg.NumVariables = loaded.NumVariables
	}
	if !flags.Changed("log-level") {
		cfg.LogLevel = loaded.LogLevel
	}
	if !flags.Changed("log-format") {
		cfg.LogFormat = loaded.LogFormat
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}

	sim := engine.New(cfg.NumSites, cfg.NumVariables, cmd.OutOrStdout())
	if err := sim.Run(in); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
