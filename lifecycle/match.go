package lifecycle

import (
	"time"

	"github.com/tptracker/tptracker/tptracker"
)

type relistKey struct {
	itemID   int64
	quantity int64
}

// Match derives the lifecycle events for one snapshot. active is the set of
// orders with an open placement, in placement order; history holds recently
// completed orders and may be nil when nothing went missing.
//
// Events are returned in append order: placements for new ids in snapshot
// order, then one terminal event per missing active order in active order,
// then relist annotations in cancellation order.
//
// A canceled event carries the order's last listed quantity and price, so
// a partially filled order reports what was still open when it vanished.
//
// Relist pairing is first match on (item id, remaining quantity). A canceled order
// takes the earliest unconsumed new order with the same key, regardless of
// price or side, and every new order pairs at most once.
func Match(active []tptracker.ActiveOrder, orders []tptracker.Order, history []tptracker.Order, now time.Time) []tptracker.Event {
	activeIDs := make(map[int64]struct{}, len(active))
	for _, a := range active {
		activeIDs[a.OrderID] = struct{}{}
	}

	inSnapshot := make(map[int64]struct{}, len(orders))
	var (
		events     []tptracker.Event
		newOrders  []tptracker.Order
		candidates = make(map[relistKey][]int)
	)

	for _, o := range orders {
		if _, dup := inSnapshot[o.ID]; dup {
			continue
		}
		inSnapshot[o.ID] = struct{}{}
		if _, ok := activeIDs[o.ID]; ok {
			continue
		}

		fee := tptracker.ListingFee(o.Side, o.UnitPrice, o.Quantity)
		events = append(events, tptracker.Event{
			OrderID:    o.ID,
			ItemID:     o.ItemID,
			Side:       o.Side,
			Type:       tptracker.EventPlaced,
			Quantity:   o.Quantity,
			Price:      o.UnitPrice,
			Fee:        &fee,
			OccurredAt: now,
		})

		key := relistKey{itemID: o.ItemID, quantity: o.Quantity}
		candidates[key] = append(candidates[key], len(newOrders))
		newOrders = append(newOrders, o)
	}

	completed := make(map[int64]tptracker.Order, len(history))
	for _, h := range history {
		if _, ok := completed[h.ID]; !ok {
			completed[h.ID] = h
		}
	}

	var canceled []tptracker.ActiveOrder
	for _, a := range active {
		if _, ok := inSnapshot[a.OrderID]; ok {
			continue
		}

		if h, ok := completed[a.OrderID]; ok {
			fee := tptracker.ExchangeFee(a.Side, h.UnitPrice, h.Quantity)
			events = append(events, tptracker.Event{
				OrderID:    a.OrderID,
				ItemID:     a.ItemID,
				Side:       a.Side,
				Type:       tptracker.EventFilled,
				Quantity:   h.Quantity,
				Price:      h.UnitPrice,
				Fee:        &fee,
				OccurredAt: now,
			})
			continue
		}

		quantity, price := a.Remaining()
		events = append(events, tptracker.Event{
			OrderID:    a.OrderID,
			ItemID:     a.ItemID,
			Side:       a.Side,
			Type:       tptracker.EventCanceled,
			Quantity:   quantity,
			Price:      price,
			OccurredAt: now,
		})
		canceled = append(canceled, a)
	}

	for _, c := range canceled {
		quantity, _ := c.Remaining()
		key := relistKey{itemID: c.ItemID, quantity: quantity}
		queue := candidates[key]
		if len(queue) == 0 {
			continue
		}
		next := newOrders[queue[0]]
		candidates[key] = queue[1:]

		fee := tptracker.ListingFee(next.Side, next.UnitPrice, next.Quantity)
		events = append(events, tptracker.Event{
			OrderID:    c.OrderID,
			ItemID:     c.ItemID,
			Side:       c.Side,
			Type:       tptracker.EventRelisted,
			Quantity:   next.Quantity,
			Price:      next.UnitPrice,
			Fee:        &fee,
			OccurredAt: now,
		})
	}

	return events
}

// Missing returns the active orders absent from orders, in active order.
func Missing(active []tptracker.ActiveOrder, orders []tptracker.Order) []tptracker.ActiveOrder {
	present := make(map[int64]struct{}, len(orders))
	for _, o := range orders {
		present[o.ID] = struct{}{}
	}
	var out []tptracker.ActiveOrder
	for _, a := range active {
		if _, ok := present[a.OrderID]; !ok {
			out = append(out, a)
		}
	}
	return out
}
