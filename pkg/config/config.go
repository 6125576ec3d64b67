// Package config loads repcrec's runtime configuration from environment
// variables (and an optional .env file), the same layered way the rest of
// the Bunbase tooling this project grew out of does it.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the simulator accepts. Values default to
// the base spec's fixed sizes (10 sites, 20 variables) unless overridden.
type Config struct {
	NumSites     int    `mapstructure:"num_sites"`
	NumVariables int    `mapstructure:"num_variables"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
}

// Default returns the base-spec defaults.
func Default() Config {
	return Config{
		NumSites:     10,
		NumVariables: 20,
		LogLevel:     "INFO",
		LogFormat:    "text",
	}
}

// Load fills target (typically a *Config) from environment variables
// prefixed with prefix (case-insensitive) and, if present, a ".env" file in
// the working directory. Unset fields keep whatever value target already
// holds, so callers should seed target with Default() first.
func Load(prefix string, target *Config) error {
	v := viper.New()

	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Optional file; a parse error in it is not fatal to a run that
			// doesn't need it, but env/CLI overrides still apply below.
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.TrimPrefix(propKey, "_"))
		v.Set(propKey, value)
	}

	return v.Unmarshal(target)
}
