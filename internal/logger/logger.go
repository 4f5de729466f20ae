// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service and session context so log lines
// from ledgerd, simfeed, and report can be correlated per trading session.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init creates and returns a structured logger for the given service and
// trading session. The logger outputs JSON to stdout and is installed as
// the slog default so package-level slog calls share the context.
func Init(service, session string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
		slog.String("session", session),
	)

	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a LOG_LEVEL string to a slog.Level.
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Symbol returns the conventional per-instrument attribute, so every
// component tags instrument-scoped lines the same way.
func Symbol(sym string) slog.Attr {
	return slog.String("symbol", sym)
}
