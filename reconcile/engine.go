// Package reconcile diffs a tenant's open-order snapshot against the stored
// open-order set and records the fills implied by shrinking quantities.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/storage"
	"github.com/tptracker/tptracker/tptracker"
)

// Store opens tenant-scoped transactions.
type Store interface {
	WithTenantTx(ctx context.Context, tenant tptracker.TenantID, fn func(storage.Tx) error) error
}

// Result summarises one committed reconciliation.
type Result struct {
	Fills    []tptracker.Fill
	Upserted int
	Inserted int
	Deleted  []int64
}

// Engine applies snapshots to the open-order table.
type Engine struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		logger: logger.WithGroup("reconcile"),
	}
}

// Reconcile loads the tenant's open orders, applies the diff against orders
// and commits everything in one transaction. On error nothing is written and
// the returned Result is empty.
func (e *Engine) Reconcile(ctx context.Context, tenant tptracker.TenantID, orders []tptracker.Order, now time.Time) (Result, error) {
	logger := rlog.WithContext(ctx, e.logger)
	start := time.Now()
	var res Result

	err := e.store.WithTenantTx(ctx, tenant, func(tx storage.Tx) error {
		res = Result{}

		prev, err := tx.OpenOrders(ctx)
		if err != nil {
			return err
		}

		plan, err := Diff(prev, orders, now)
		if err != nil {
			return err
		}

		for _, fill := range plan.Fills {
			fill.Tenant = tenant
			id, err := tx.AppendFill(ctx, fill)
			if err != nil {
				return err
			}
			fill.ID = id
			res.Fills = append(res.Fills, fill)
		}

		for _, row := range plan.Upserts {
			if err := tx.UpsertOpenOrder(ctx, row); err != nil {
				return err
			}
		}

		for _, orderID := range plan.Deletes {
			if err := tx.DeleteOpenOrder(ctx, orderID); err != nil {
				return err
			}
		}

		res.Upserted = len(plan.Upserts)
		res.Inserted = plan.Inserted
		res.Deleted = plan.Deletes
		return nil
	})
	if err != nil {
		logger.Warn("reconcile failed",
			slog.Int64("tenant", int64(tenant)),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	for _, fill := range res.Fills {
		logger.Debug("fill detected",
			slog.Int64("tenant", int64(tenant)),
			slog.Int64("order_id", *fill.OrderID),
			slog.Int64("quantity", fill.Quantity),
			slog.Int64("unit_price", fill.UnitPrice),
			slog.Int64("exchange_fee", fill.ExchangeFee),
		)
	}

	logger.Info("open orders reconciled",
		slog.Int64("tenant", int64(tenant)),
		slog.Int("orders", len(orders)),
		slog.Int("inserted", res.Inserted),
		slog.Int("fills", len(res.Fills)),
		slog.Int("deleted", len(res.Deleted)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
