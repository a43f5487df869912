package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatal("expected default logger")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("expected logger from context")
	}
}

func TestWithContextAddsPollAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).WithGroup("reconcile")

	if WithContext(context.Background(), base) != base {
		t.Fatal("expected logger unchanged without attrs")
	}

	ctx := ContextWithAttrs(context.Background(), slog.String("poll_id", "p-1"))
	ctx = ContextWithAttrs(ctx, slog.Int64("attempt", 2))
	WithContext(ctx, base).Info("open orders reconciled")

	out := buf.String()
	for _, want := range []string{"reconcile.poll_id=p-1", "reconcile.attempt=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestContextWithAttrsDoesNotAlias(t *testing.T) {
	parent := ContextWithAttrs(context.Background(), slog.String("a", "1"))
	left := ContextWithAttrs(parent, slog.String("b", "2"))
	right := ContextWithAttrs(parent, slog.String("c", "3"))

	if n := len(AttrsFromContext(parent)); n != 1 {
		t.Fatalf("parent attrs changed: %d", n)
	}
	if got := AttrsFromContext(left)[1].Key; got != "b" {
		t.Fatalf("left attrs = %q", got)
	}
	if got := AttrsFromContext(right)[1].Key; got != "c" {
		t.Fatalf("right attrs = %q", got)
	}
}

type failingHandler struct {
	recordingHandler
	err error
}

func (h *failingHandler) Handle(ctx context.Context, r slog.Record) error {
	_ = h.recordingHandler.Handle(ctx, r)
	return h.err
}

func TestMultiHandlerJoinsErrors(t *testing.T) {
	sinkErr := errors.New("queue full")
	failing := &failingHandler{err: sinkErr}
	ok := &recordingHandler{}

	h := NewMultiHandler(failing, nil, ok)
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "poll completed", 0))
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if failing.count != 1 || ok.count != 1 {
		t.Fatalf("expected both children to see the record, got %d and %d", failing.count, ok.count)
	}
}

type recordingHandler struct {
	count int
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(context.Context, slog.Record) error {
	h.count++
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
