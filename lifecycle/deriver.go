// Package lifecycle derives placed, filled, canceled and relisted events from
// successive open-order snapshots.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/storage"
	"github.com/tptracker/tptracker/tptracker"
)

// ErrActiveSetChanged aborts a derivation whose transactional read of the
// active set disagrees with the read used to decide on the history fetch.
var ErrActiveSetChanged = errors.New("lifecycle: active set changed during derivation")

// Store exposes the event log of one tenant.
type Store interface {
	ListActivePlaced(ctx context.Context, tenant tptracker.TenantID) ([]tptracker.ActiveOrder, error)
	WithTenantTx(ctx context.Context, tenant tptracker.TenantID, fn func(storage.Tx) error) error
}

// HistoryFetcher returns the tenant's recently completed orders, buys and
// sells combined.
type HistoryFetcher interface {
	CompletedHistory(ctx context.Context, tenant tptracker.TenantID) ([]tptracker.Order, error)
}

// Deriver appends lifecycle events for a snapshot.
type Deriver struct {
	store   Store
	history HistoryFetcher
	logger  *slog.Logger
}

func New(store Store, history HistoryFetcher, logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{
		store:   store,
		history: history,
		logger:  logger.WithGroup("lifecycle"),
	}
}

// Derive appends the events implied by orders and returns them with their
// ids. Completed history is fetched at most once and only when an active
// order is missing from the snapshot. If that fetch fails nothing is
// written and the error matches tptracker.ErrUpstreamUnavailable.
func (d *Deriver) Derive(ctx context.Context, tenant tptracker.TenantID, orders []tptracker.Order, now time.Time) ([]tptracker.Event, error) {
	logger := rlog.WithContext(ctx, d.logger)
	start := time.Now()

	active, err := d.store.ListActivePlaced(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: read active orders: %w", tptracker.ErrStoreTransaction, err)
	}

	var (
		history []tptracker.Order
		fetched bool
	)
	if missing := Missing(active, orders); len(missing) > 0 {
		history, err = d.history.CompletedHistory(ctx, tenant)
		if err != nil {
			if tptracker.ClassifyError(err) == tptracker.ErrorKindOther {
				err = fmt.Errorf("%w: %w", tptracker.ErrUpstreamUnavailable, err)
			}
			logger.Warn("completed history unavailable",
				slog.Int64("tenant", int64(tenant)),
				slog.Int("missing", len(missing)),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("fetch completed history: %w", err)
		}
		fetched = true
	}

	var events []tptracker.Event
	err = d.store.WithTenantTx(ctx, tenant, func(tx storage.Tx) error {
		events = nil

		current, err := tx.ActivePlaced(ctx)
		if err != nil {
			return err
		}
		if !fetched && len(Missing(current, orders)) > 0 {
			return fmt.Errorf("%w: %w", tptracker.ErrStoreTransaction, ErrActiveSetChanged)
		}

		for _, ev := range Match(current, orders, history, now) {
			ev.Tenant = tenant
			id, err := tx.AppendEvent(ctx, ev)
			if err != nil {
				return err
			}
			ev.ID = id
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		logger.Debug("order event", slog.Int64("tenant", int64(tenant)), slog.String("event", ev.String()))
	}
	logger.Info("events derived",
		slog.Int64("tenant", int64(tenant)),
		slog.Int("active", len(active)),
		slog.Bool("history_fetched", fetched),
		slog.Int("events", len(events)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return events, nil
}
