package reconcile

import (
	"fmt"
	"time"

	"github.com/tptracker/tptracker/tptracker"
)

// Plan is the set of mutations that brings the stored open-order set of one
// tenant in line with a snapshot.
type Plan struct {
	// Upserts holds one row per snapshot order, in snapshot order.
	Upserts []tptracker.OpenOrder
	// Inserted counts the Upserts that were not previously known.
	Inserted int
	// Fills holds one fill per known order whose open quantity decreased.
	Fills []tptracker.Fill
	// Deletes lists previously open orders missing from the snapshot.
	Deletes []int64
}

// Diff computes the plan for orders against prev. It has no side effects and
// is deterministic for equal inputs.
//
// A known order whose open quantity dropped produces a fill for the
// difference, priced at the current snapshot price. The stored listing fee
// and creation time of a known order are carried over unchanged. A new
// order pays the listing fee on its full quantity when it is a sell.
func Diff(prev []tptracker.OpenOrder, orders []tptracker.Order, now time.Time) (Plan, error) {
	known := make(map[int64]tptracker.OpenOrder, len(prev))
	for _, row := range prev {
		known[row.OrderID] = row
	}

	plan := Plan{
		Upserts: make([]tptracker.OpenOrder, 0, len(orders)),
	}
	seen := make(map[int64]struct{}, len(orders))

	for _, o := range orders {
		if !o.Side.Valid() {
			return Plan{}, fmt.Errorf("%w: order %d: unknown side %q", tptracker.ErrInconsistentSnapshot, o.ID, o.Side)
		}
		if o.Quantity < 0 || o.UnitPrice < 0 {
			return Plan{}, fmt.Errorf("%w: order %d: negative price or quantity", tptracker.ErrInconsistentSnapshot, o.ID)
		}
		if _, dup := seen[o.ID]; dup {
			return Plan{}, fmt.Errorf("%w: order %d listed twice", tptracker.ErrInconsistentSnapshot, o.ID)
		}
		seen[o.ID] = struct{}{}

		old, ok := known[o.ID]
		if !ok {
			created := o.CreatedAt
			if created.IsZero() {
				created = now
			}
			plan.Upserts = append(plan.Upserts, tptracker.OpenOrder{
				OrderID:       o.ID,
				ItemID:        o.ItemID,
				Side:          o.Side,
				UnitPrice:     o.UnitPrice,
				QuantityTotal: o.Quantity,
				QuantityOpen:  o.Quantity,
				ListingFee:    tptracker.ListingFee(o.Side, o.UnitPrice, o.Quantity),
				CreatedAt:     created,
				UpdatedAt:     now,
				LastSeenAt:    now,
			})
			plan.Inserted++
			continue
		}

		if delta := old.QuantityOpen - o.Quantity; delta > 0 {
			orderID := o.ID
			plan.Fills = append(plan.Fills, tptracker.Fill{
				OrderID:     &orderID,
				ItemID:      o.ItemID,
				Side:        o.Side,
				Quantity:    delta,
				UnitPrice:   o.UnitPrice,
				OccurredAt:  now,
				ExchangeFee: tptracker.ExchangeFee(o.Side, o.UnitPrice, delta),
			})
		}

		// quantity_total never shrinks: the fills of an order sum to total
		// minus open.
		total := old.QuantityTotal
		if o.Quantity > total {
			total = o.Quantity
		}
		plan.Upserts = append(plan.Upserts, tptracker.OpenOrder{
			OrderID:       o.ID,
			ItemID:        o.ItemID,
			Side:          o.Side,
			UnitPrice:     o.UnitPrice,
			QuantityTotal: total,
			QuantityOpen:  o.Quantity,
			ListingFee:    old.ListingFee,
			CreatedAt:     old.CreatedAt,
			UpdatedAt:     now,
			LastSeenAt:    now,
		})
	}

	for _, row := range prev {
		if _, ok := seen[row.OrderID]; !ok {
			plan.Deletes = append(plan.Deletes, row.OrderID)
		}
	}

	return plan, nil
}
