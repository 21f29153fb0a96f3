// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the root *slog.Logger, installs it as the default, and
// returns it. The level string is parsed the way slog spells levels
// ("debug", "info", "warn", "error", case-insensitive); anything
// unrecognized, including empty, means info.
func Setup(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if s := strings.TrimSpace(level); s != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(s)); err == nil {
			lvl = parsed
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}
