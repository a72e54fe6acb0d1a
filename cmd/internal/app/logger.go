package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a structured logger with an explicit level and format
// ("json", "text" or "pretty") and installs it as the slog default.
func NewLogger(level, format string, color bool) *slog.Logger {
	log := slog.New(newLogHandler(os.Stdout, parseLogLevel(level), format, color))
	slog.SetDefault(log)
	return log
}

func newLogHandler(w io.Writer, lvl slog.Level, format string, color bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pretty":
		return newPrettyHandler(w, opts, color)
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
