// Package logger sets up the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvLevel is consulted when no level is configured
const EnvLevel = "BRIDLE_LOG_LEVEL"

// Init installs a text handler writing to w (stderr when nil) as the default slog logger.
// level is one of debug, info, warn or error; empty falls back to $BRIDLE_LOG_LEVEL and then
// to warn, so that a normal run only shows the test summary.
func Init(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	if level == "" {
		level = os.Getenv(EnvLevel)
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(h))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
