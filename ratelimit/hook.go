package ratelimit

import (
	"context"
	"fmt"

	"github.com/tptracker/tptracker/gw2"
)

// RequestHook makes every upstream request of a gw2.Client wait for a slot
// of l. Paged lists consume one slot per page; the request path names the
// operation.
func RequestHook(l *Limiter) gw2.RequestHook {
	return func(ctx context.Context, path string) error {
		if err := l.Wait(ctx, path); err != nil {
			return fmt.Errorf("rate limit %s: %w", path, err)
		}
		return nil
	}
}
