// Package logger provides structured logging setup for the GOWA manager.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/GowaManager/internal/config"
)

// New creates a *slog.Logger from the given Logging config. Output is JSON
// to stdout with a "service" attribute on every record. When cfg.Async is
// true records pass through a buffered channel; the caller must call
// Closer.Close() on shutdown to flush what remains.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	// The service attribute is bound to the JSON handler before any async
	// wrapping, so records from the returned logger go through the queue.
	var h = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	var closer Closer = nopCloser{}
	if cfg.Async {
		async := newAsyncHandler(h, 8192)
		h = async
		closer = async
	}

	return slog.New(h), closer
}

// ParseLevel converts a string log level to slog.Level. Unknown values
// resolve to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
