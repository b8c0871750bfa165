package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/casecore/internal/failure"
)

// Levels beyond slog's built-ins.
const (
	LevelMaintainerDebug = slog.LevelDebug - 4
	LevelNone            = slog.Level(1 << 10)
)

// ParseLogLevel maps a configured level name onto slog. Names are case
// insensitive; the empty string is warn.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return LevelNone, nil
	case "error":
		return slog.LevelError, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "maintainerdebug":
		return LevelMaintainerDebug, nil
	}
	return 0, failure.Configuration(nil,
		"unknown log level %q: use none, error, warn, info, debug or maintainerDebug", name)
}

// NewLogger builds the text logger used by the CLI.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
