package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/client-go/util/workqueue"

	"github.com/tptracker/tptracker/tptracker"
)

const (
	DefaultSchedule    = "@every 1m"
	DefaultWorkers     = 4
	DefaultPollTimeout = 2 * time.Minute
)

// TenantStore lists and resolves registered tenants.
type TenantStore interface {
	TenantLookup
	ListTenants(ctx context.Context) ([]tptracker.Tenant, error)
}

// PollFunc runs one poll cycle.
type PollFunc func(ctx context.Context, tenant tptracker.Tenant) (tptracker.PollRun, error)

// Scheduler enqueues every tenant on each cron tick and drains the queue
// with a fixed pool of workers. The queue never hands the same tenant to two
// workers at once, and a tenant enqueued again while it waits is collapsed
// into the pending entry.
type Scheduler struct {
	poll     PollFunc
	tenants  TenantStore
	queue    workqueue.TypedInterface[tptracker.TenantID]
	schedule string
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedule sets the cron spec, e.g. "@every 30s" or "*/5 * * * *".
func WithSchedule(spec string) SchedulerOption {
	return func(s *Scheduler) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithWorkers sets the number of tenants polled concurrently.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPollTimeout bounds a single poll cycle.
func WithPollTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSchedulerLogger overrides the logger used for diagnostics.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewScheduler(poll PollFunc, tenants TenantStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		poll:     poll,
		tenants:  tenants,
		schedule: DefaultSchedule,
		workers:  DefaultWorkers,
		timeout:  DefaultPollTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithGroup("scheduler")
	s.queue = workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[tptracker.TenantID]{
		Name: "tenants",
	})
	return s
}

// EnqueueAll adds every registered tenant to the queue.
func (s *Scheduler) EnqueueAll(ctx context.Context) error {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		s.queue.Add(t.ID)
	}
	s.logger.Debug("tenants enqueued", slog.Int("tenants", len(tenants)), slog.Int("queue_len", s.queue.Len()))
	return nil
}

// Run polls every tenant immediately and then on each schedule tick until
// ctx is cancelled. In-flight polls finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.EnqueueAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("enqueue tenants", slog.String("error", err.Error()))
		}
	}); err != nil {
		s.queue.ShutDown()
		return fmt.Errorf("parse schedule %q: %w", s.schedule, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.runWorker(ctx, &wg)
	}

	if err := s.EnqueueAll(ctx); err != nil {
		s.logger.Warn("initial enqueue", slog.String("error", err.Error()))
	}

	c.Start()
	s.logger.Info("scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("workers", s.workers),
		slog.Duration("poll_timeout", s.timeout),
	)

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.queue.ShutDown()
	wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		id, shutdown := s.queue.Get()
		if shutdown {
			return
		}
		s.process(ctx, id)
	}
}

func (s *Scheduler) process(ctx context.Context, id tptracker.TenantID) {
	defer s.queue.Done(id)

	if ctx.Err() != nil {
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tenant, err := s.tenants.GetTenant(pollCtx, id)
	if err != nil {
		s.logger.Warn("resolve tenant", slog.Int64("tenant", int64(id)), slog.String("error", err.Error()))
		return
	}

	// Failures are journaled by the poll itself; the next tick retries.
	_, _ = s.poll(pollCtx, tenant)
}
