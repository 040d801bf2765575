package types

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-abc")
	}

	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	stored := slog.New(slog.DiscardHandler)
	fallback := slog.New(slog.DiscardHandler)

	t.Run("returns stored logger", func(t *testing.T) {
		ctx := WithLogger(context.Background(), stored)
		if got := LoggerFromContext(ctx, fallback); got != stored {
			t.Error("expected stored logger")
		}
	})

	t.Run("returns fallback when unset", func(t *testing.T) {
		if got := LoggerFromContext(context.Background(), fallback); got != fallback {
			t.Error("expected fallback logger")
		}
	})

	t.Run("returns default when both unset", func(t *testing.T) {
		if got := LoggerFromContext(context.Background(), nil); got != slog.Default() {
			t.Error("expected slog.Default()")
		}
	})
}
