package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrInvalidOperation = errors.New("ratelimit: operation name required")

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int           // <= 0 disables limiting
	WindowDuration    time.Duration // Defaults to 60 seconds if zero
	Logger            *slog.Logger  // Optional logger
}

// Limiter implements a fixed-window rate limiter shared by every tenant's
// upstream calls. Callers that find the window exhausted block until the
// next window opens.
type Limiter struct {
	mu sync.Mutex

	limit  int
	window time.Duration
	logger *slog.Logger

	windowStart time.Time
	consumed    int
	waiting     int
}

// NewLimiter creates a new rate limiter with the given configuration
func NewLimiter(cfg Config) *Limiter {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		limit:       cfg.RequestsPerMinute,
		window:      cfg.WindowDuration,
		logger:      cfg.Logger.WithGroup("ratelimit"),
		windowStart: time.Now(),
	}
}

// Wait consumes one slot for operation, blocking until one is free or ctx
// is done.
func (l *Limiter) Wait(ctx context.Context, operation string) error {
	if operation == "" {
		return ErrInvalidOperation
	}
	if l.limit <= 0 {
		return nil
	}

	var startWait time.Time
	for {
		l.mu.Lock()
		l.resetWindowIfNeeded()
		if l.consumed < l.limit {
			l.consumed++
			if !startWait.IsZero() {
				l.waiting--
			}
			consumed := l.consumed
			l.mu.Unlock()

			attrs := []any{
				slog.String("operation", operation),
				slog.Int("window_consumed", consumed),
				slog.Int("window_limit", l.limit),
			}
			if !startWait.IsZero() {
				attrs = append(attrs, slog.Duration("wait_duration", time.Since(startWait)))
			}
			l.logger.Debug("rate limit consume", attrs...)
			return nil
		}

		nextWindow := l.windowStart.Add(l.window)
		if startWait.IsZero() {
			startWait = time.Now()
			l.waiting++
			l.logger.Info("rate limit window exhausted",
				slog.String("operation", operation),
				slog.Int("window_limit", l.limit),
				slog.Int("waiting", l.waiting),
				slog.Duration("until_reset", time.Until(nextWindow)),
			)
		}
		l.mu.Unlock()

		timer := time.NewTimer(time.Until(nextWindow))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Stats returns current rate limiter statistics (for testing/monitoring)
func (l *Limiter) Stats() (consumed, limit, waiting int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetWindowIfNeeded()
	return l.consumed, l.limit, l.waiting
}

// resetWindowIfNeeded must be called with l.mu held.
func (l *Limiter) resetWindowIfNeeded() {
	now := time.Now()
	if now.Sub(l.windowStart) < l.window {
		return
	}
	elapsed := now.Sub(l.windowStart)
	l.windowStart = l.windowStart.Add(elapsed.Truncate(l.window))
	if l.consumed > 0 {
		l.logger.Debug("rate limit window reset",
			slog.Int("previous_consumed", l.consumed),
			slog.Int("window_limit", l.limit),
		)
	}
	l.consumed = 0
}
