// Package rlog builds the process-wide [slog.Logger] from a
// [config.LogLevel], generalizing the inline logger construction the
// teacher repo did once in main() into a reusable package every binary
// (racore-server, racore-discord) can call the same way.
package rlog

import (
	"log/slog"
	"os"

	"github.com/runanywhere/racore/internal/config"
)

// New builds a text-handler [slog.Logger] writing to stderr at the
// verbosity named by level. An empty or unrecognised level falls back to
// info, matching [config.LogLevel.IsValid]'s default.
func New(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: toSlogLevel(level)}))
}

// SetDefault builds a logger for level and installs it as slog's package-wide
// default, returning it for callers that also want a direct reference.
func SetDefault(level config.LogLevel) *slog.Logger {
	logger := New(level)
	slog.SetDefault(logger)
	return logger
}

func toSlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
