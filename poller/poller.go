// Package poller runs poll cycles: fetch a tenant's open orders, reconcile
// them, derive lifecycle events and journal the outcome.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tptracker/tptracker/gw2"
	"github.com/tptracker/tptracker/lifecycle"
	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/normalize"
	"github.com/tptracker/tptracker/reconcile"
	"github.com/tptracker/tptracker/tptracker"
)

// Marketplace fetches a tenant's trading post state.
type Marketplace interface {
	CurrentOrders(ctx context.Context, apiKey string) (gw2.Snapshot, error)
	CompletedHistory(ctx context.Context, apiKey string) (gw2.Snapshot, error)
}

// Reconciler applies a snapshot to the open-order table.
type Reconciler interface {
	Reconcile(ctx context.Context, tenant tptracker.TenantID, orders []tptracker.Order, now time.Time) (reconcile.Result, error)
}

// Deriver appends lifecycle events for a snapshot.
type Deriver interface {
	Derive(ctx context.Context, tenant tptracker.TenantID, orders []tptracker.Order, now time.Time) ([]tptracker.Event, error)
}

// Journal records poll outcomes.
type Journal interface {
	RecordPollRun(ctx context.Context, run tptracker.PollRun) error
}

// Poller runs one poll cycle per call. It does not serialise calls for the
// same tenant; the Scheduler does.
type Poller struct {
	market     Marketplace
	reconciler Reconciler
	deriver    Deriver
	journal    Journal
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the poll time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func New(market Marketplace, reconciler Reconciler, deriver Deriver, journal Journal, opts ...Option) *Poller {
	p := &Poller{
		market:     market,
		reconciler: reconciler,
		deriver:    deriver,
		journal:    journal,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithGroup("poller")
	return p
}

// PollTenant runs one cycle for tenant and journals it. The returned run is
// always populated; err is the first failure, classified into the
// tptracker error taxonomy.
//
// An upstream or snapshot failure aborts before anything is written. The
// reconcile and lifecycle passes commit separately, so a lifecycle failure
// leaves the committed reconcile in place.
func (p *Poller) PollTenant(ctx context.Context, tenant tptracker.Tenant) (tptracker.PollRun, error) {
	run := tptracker.PollRun{
		ID:        p.newID(),
		Tenant:    tenant.ID,
		StartedAt: p.pollTime(),
	}

	logger := p.logger.With(
		slog.String("poll_id", run.ID),
		slog.Int64("tenant", int64(tenant.ID)),
		slog.String("tenant_name", tenant.Name),
		slog.String("key_fingerprint", tptracker.KeyFingerprint(tenant.APIKey)),
	)
	ctx = rlog.ContextWithAttrs(ctx, slog.String("poll_id", run.ID))
	ctx = rlog.ContextWithLogger(ctx, logger)

	err := p.poll(ctx, tenant, &run)

	run.FinishedAt = p.pollTime()
	run.Status = tptracker.PollOK
	if err != nil {
		run.Status = tptracker.PollFailed
		run.ErrorKind = tptracker.ClassifyError(err)
		run.Error = err.Error()
	}

	// The journal write must not be cut short by the poll's own deadline.
	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if jerr := p.journal.RecordPollRun(journalCtx, run); jerr != nil {
		logger.Warn("record poll run", slog.String("error", jerr.Error()))
	}

	if err != nil {
		logger.Warn("poll failed",
			slog.String("kind", string(run.ErrorKind)),
			slog.String("error", err.Error()),
		)
		return run, err
	}

	logger.Info("poll completed",
		slog.Int("orders", run.OrdersSeen),
		slog.Int("fills", run.FillsCreated),
		slog.Int("events", run.EventsCreated),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (p *Poller) poll(ctx context.Context, tenant tptracker.Tenant, run *tptracker.PollRun) error {
	now := run.StartedAt

	snap, err := p.market.CurrentOrders(ctx, tenant.APIKey)
	if err != nil {
		return fmt.Errorf("fetch current orders: %w", classifyUpstream(err))
	}

	orders, err := normalize.Orders(snap.Buys, snap.Sells, now)
	if err != nil {
		return fmt.Errorf("normalize snapshot: %w", err)
	}
	run.OrdersSeen = len(orders)

	res, err := p.reconciler.Reconcile(ctx, tenant.ID, orders, now)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	run.FillsCreated = len(res.Fills)

	events, err := p.deriver.Derive(ctx, tenant.ID, orders, now)
	if err != nil {
		return fmt.Errorf("derive events: %w", err)
	}
	run.EventsCreated = len(events)
	return nil
}

func (p *Poller) pollTime() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

// classifyUpstream maps context expiry onto ErrUpstreamUnavailable so a
// timed-out poll is journaled as an upstream failure.
func classifyUpstream(err error) error {
	if tptracker.ClassifyError(err) != tptracker.ErrorKindOther {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", tptracker.ErrUpstreamUnavailable, err)
	}
	return err
}

// TenantLookup resolves a tenant's API key.
type TenantLookup interface {
	GetTenant(ctx context.Context, id tptracker.TenantID) (tptracker.Tenant, error)
}

// History adapts a Marketplace to lifecycle.HistoryFetcher by resolving the
// tenant's API key and normalizing the completed transactions.
type History struct {
	Market  Marketplace
	Tenants TenantLookup
	Now     func() time.Time
}

var _ lifecycle.HistoryFetcher = (*History)(nil)

func (h *History) CompletedHistory(ctx context.Context, id tptracker.TenantID) ([]tptracker.Order, error) {
	tenant, err := h.Tenants.GetTenant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %d: %w", id, err)
	}

	snap, err := h.Market.CompletedHistory(ctx, tenant.APIKey)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return normalize.History(snap.Buys, snap.Sells, now())
}
