// =============================================================================
// Merchant Analytics - Logging
// =============================================================================
//
// Structured logging for the pipeline, the CRM sync and the HTTP API.
// Human progress output (the ✓/✗ lines) stays on stdout in cmd/; this logger
// writes machine-readable records to stderr or the configured log file.
//
// =============================================================================

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New builds a logger writing to w.
//
// PARAMETERS:
//   - level: "debug", "info", "warn" or "error". Unknown values mean info.
//   - format: "json" or "text".
//   - w: The destination.
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Open builds a logger for the configured file, or stderr when file is empty.
// The returned close function is always non-nil.
func Open(level, format, file string) (*slog.Logger, func() error, error) {
	if file == "" {
		return New(level, format, os.Stderr), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return New(level, format, f), f.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
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
