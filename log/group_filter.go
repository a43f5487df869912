package log

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// GroupFilterHandler drops records by the slog groups of the logger that
// produced them. A record passes when none of its groups is denied and, if
// an allow list exists, at least one of its groups is allowed.
type GroupFilterHandler struct {
	next   slog.Handler
	allow  []string
	deny   []string
	groups []string
}

// NewGroupFilterHandler wraps next. Entries name groups case-insensitively;
// a leading "-" denies the group instead, e.g. []string{"-storage"} keeps
// everything except statement tracing. With no usable entries next is
// returned unchanged.
func NewGroupFilterHandler(next slog.Handler, groups []string) slog.Handler {
	if next == nil {
		return nil
	}
	var allow, deny []string
	for _, raw := range groups {
		name := strings.ToLower(strings.TrimSpace(raw))
		if denied, ok := strings.CutPrefix(name, "-"); ok {
			if denied = strings.TrimSpace(denied); denied != "" {
				deny = append(deny, denied)
			}
			continue
		}
		if name != "" {
			allow = append(allow, name)
		}
	}
	if len(allow) == 0 && len(deny) == 0 {
		return next
	}
	return &GroupFilterHandler{next: next, allow: allow, deny: deny}
}

func (h *GroupFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.emits() && h.next.Enabled(ctx, level)
}

func (h *GroupFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.emits() {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *GroupFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *GroupFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.groups = append(slices.Clip(h.groups), strings.ToLower(name))
	return &clone
}

func (h *GroupFilterHandler) emits() bool {
	for _, g := range h.groups {
		if slices.Contains(h.deny, g) {
			return false
		}
	}
	if len(h.allow) == 0 {
		return true
	}
	for _, g := range h.groups {
		if slices.Contains(h.allow, g) {
			return true
		}
	}
	return false
}
