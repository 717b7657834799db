// Package log configures the process-wide slog logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr at logLevel (debug, info, warn or
// error). Unknown levels fall back to info.
func Setup(logLevel string) *slog.Logger {
	level := ParseLevel(logLevel)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return logger
}

func ParseLevel(logLevel string) slog.Level {
	var level slog.Level

	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err != nil {
		return slog.LevelInfo
	}

	return level
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
