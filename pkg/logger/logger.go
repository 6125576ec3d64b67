// Package logger provides the process-wide structured logger used by every
// repcrec subsystem.
package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once sync.Once
	log  *slog.Logger
)

// Config controls how the global logger is constructed.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, text
}

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(cfg Config) {
	once.Do(func() {
		log = build(cfg)
		slog.SetDefault(log)
	})
}

func build(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Get returns the global logger, initializing it with defaults if no one has
// called Init yet.
func Get() *slog.Logger {
	if log == nil {
		Init(Config{Level: "INFO", Format: "text"})
	}
	return log
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
