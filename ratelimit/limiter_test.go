package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"testing/synctest"
	"time"
)

func runLimiterTest(t *testing.T, fn func(t *testing.T)) {
	t.Helper()
	synctest.Test(t, fn)
}

func TestLimiter_ConsumesWithinWindow(t *testing.T) {
	runLimiterTest(t, func(t *testing.T) {
		l := NewLimiter(Config{RequestsPerMinute: 3, Logger: slog.Default()})
		ctx := t.Context()

		for i := 0; i < 3; i++ {
			if err := l.Wait(ctx, "CurrentOrders/buys"); err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
		}

		consumed, limit, waiting := l.Stats()
		if consumed != 3 || limit != 3 || waiting != 0 {
			t.Fatalf("Stats() = (%d, %d, %d), want (3, 3, 0)", consumed, limit, waiting)
		}
	})
}

func TestLimiter_BlocksUntilWindowReset(t *testing.T) {
	runLimiterTest(t, func(t *testing.T) {
		l := NewLimiter(Config{
			RequestsPerMinute: 2,
			WindowDuration:    500 * time.Millisecond,
		})
		ctx := t.Context()
		start := time.Now()

		for i := 0; i < 2; i++ {
			if err := l.Wait(ctx, "Delivery"); err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
		}

		done := make(chan error, 1)
		go func() {
			done <- l.Wait(ctx, "Delivery")
		}()

		synctest.Wait()
		if _, _, waiting := l.Stats(); waiting != 1 {
			t.Fatalf("expected one waiter, got %d", waiting)
		}

		select {
		case err := <-done:
			t.Fatalf("third Wait returned early: %v", err)
		default:
		}

		if err := <-done; err != nil {
			t.Fatalf("Wait after reset failed: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
			t.Fatalf("Wait returned after %v, before the window reset", elapsed)
		}

		consumed, _, waiting := l.Stats()
		if consumed != 1 || waiting != 0 {
			t.Fatalf("Stats() after reset = consumed %d waiting %d, want 1 and 0", consumed, waiting)
		}
	})
}

func TestLimiter_ContextCancellation(t *testing.T) {
	runLimiterTest(t, func(t *testing.T) {
		l := NewLimiter(Config{RequestsPerMinute: 1})
		if err := l.Wait(t.Context(), "CompletedHistory/buys"); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()

		err := l.Wait(ctx, "CompletedHistory/sells")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if _, _, waiting := l.Stats(); waiting != 0 {
			t.Fatalf("cancelled waiter still counted: %d", waiting)
		}
	})
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Wait(context.Background(), "CurrentOrders/buys"); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if consumed, _, _ := l.Stats(); consumed != 0 {
		t.Fatalf("unlimited limiter should not count, got %d", consumed)
	}
}

func TestLimiter_RequiresOperation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	if err := l.Wait(context.Background(), ""); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	runLimiterTest(t, func(t *testing.T) {
		l := NewLimiter(Config{RequestsPerMinute: 10, WindowDuration: time.Second})
		ctx := t.Context()

		var wg sync.WaitGroup
		errs := make(chan error, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- l.Wait(ctx, "CurrentOrders/sells")
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
		}

		// 25 calls at 10 per window need three windows.
		if consumed, _, _ := l.Stats(); consumed != 5 {
			t.Fatalf("expected 5 consumed in the last window, got %d", consumed)
		}
	})
}
