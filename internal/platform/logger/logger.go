package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/orbdash/internal/config"
)

// ParseLevel converts a configured level name into a slog.Level. The second
// return value is false for unknown names.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// level backs the logger installed by Setup so it can change at runtime.
var level = new(slog.LevelVar)

// New creates a JSON logger writing to w at the given level.
func New(w io.Writer, leveler slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: leveler}))
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger on stdout
// with the configured level and sets it as the default logger.
func Setup(cfg config.LogConfig) (*slog.Logger, error) {
	parsed, ok := ParseLevel(cfg.Level)
	if !ok {
		// Create a temporary logger to output the warning
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	level.Set(parsed)
	logger := New(os.Stdout, level)

	// This allows using the slog package functions directly (slog.Info, slog.Error, etc.)
	slog.SetDefault(logger)

	return logger, nil
}

// SetLevel changes the level of the logger created by Setup.
func SetLevel(name string) error {
	parsed, ok := ParseLevel(name)
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	level.Set(parsed)
	return nil
}
