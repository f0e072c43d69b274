// Package logging builds the agent's slog logger. Cron-spawned runs log
// plain text for the mail cron sends on output; the daemon logs JSON so the
// lines are ingestible.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a text logger at the given level.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// NewJSON creates a JSON logger at the given level.
func NewJSON(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
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
