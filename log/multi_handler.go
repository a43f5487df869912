package log

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// MultiHandler fans records out to the console handler and the app_logs
// sink.
//
// TODO: switch to slog.NewMultiHandler once go.mod moves to Go 1.26.
type MultiHandler struct {
	children []slog.Handler
}

// NewMultiHandler skips nil handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{children: slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool {
		return h == nil
	})}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(h.children, func(child slog.Handler) bool {
		return child.Enabled(ctx, level)
	})
}

// Handle passes a clone of record to every enabled child, even after one of
// them fails, and joins their errors.
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, child := range h.children {
		if child.Enabled(ctx, record.Level) {
			errs = append(errs, child.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(child slog.Handler) slog.Handler { return child.WithAttrs(attrs) })
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(child slog.Handler) slog.Handler { return child.WithGroup(name) })
}

func (h *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	children := make([]slog.Handler, len(h.children))
	for i, child := range h.children {
		children[i] = fn(child)
	}
	return &MultiHandler{children: children}
}
