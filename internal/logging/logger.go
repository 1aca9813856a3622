// Package logging builds the process logger and the per-request logging
// middleware.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a LOG_LEVEL value onto a slog level. ok is false for
// empty or unknown values.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger creates a structured logger appropriate for the environment.
// Production logs JSON at Info; anything else logs text at Debug. A
// recognized level overrides the environment default.
func NewLogger(env, level string) *slog.Logger {
	production := env == "production"

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if production {
		opts.Level = slog.LevelInfo
	}

	if l, ok := ParseLevel(level); ok {
		opts.Level = l
	}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("service", "whoopgpt"))
}
