package config

import (
	"fmt"
	"log/slog"
	"os"
)

// NewLogger builds a *slog.Logger writing to stderr, matching the
// teacher's mcpserver.createLogger: stdout is reserved for MCP stdio
// framing, so logging never writes there (spec.md §4.0.1).
func NewLogger(levelStr string) (*slog.Logger, error) {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}
