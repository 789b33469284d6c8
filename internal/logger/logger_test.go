package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/Strob0t/GowaManager/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSyncAndAsync(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "test"})
	if log == nil {
		t.Fatal("nil logger")
	}
	closer.Close()

	log, closer = New(config.Logging{Level: "debug", Service: "test", Async: true})
	log.Info("queued")
	closer.Close() // must flush without deadlock
}

// countingHandler records how many records it handled.
type countingHandler struct {
	mu sync.Mutex
	n  int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *countingHandler) Handle(context.Context, slog.Record) error {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
	return nil
}
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func TestAsyncHandlerFlushesOnClose(t *testing.T) {
	inner := &countingHandler{}
	h := newAsyncHandler(inner, 128)
	log := slog.New(h)

	for range 50 {
		log.Info("message")
	}
	h.Close()

	if got := inner.count(); got != 50 {
		t.Errorf("handled %d records, want 50", got)
	}
	if h.Dropped() != 0 {
		t.Errorf("dropped = %d", h.Dropped())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	inner := &countingHandler{}
	h := &asyncHandler{inner: inner, ch: make(chan slog.Record, 1)}
	// No drain goroutine: the queue fills immediately.

	log := slog.New(h)
	log.Info("first")
	log.Info("second")
	log.Info("third")

	if h.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", h.Dropped())
	}
}
