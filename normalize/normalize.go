// Package normalize converts raw marketplace records into canonical orders.
//
// Endpoints disagree on field names, so every canonical field has a fixed
// priority list of source keys. The first key present in a record wins; the
// lists never change between calls.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tptracker/tptracker/tptracker"
)

// OrderFields lists the accepted source keys for order records, highest
// priority first.
var OrderFields = FieldPriority{
	ID:       []string{"id", "order_id"},
	ItemID:   []string{"item_id"},
	Price:    []string{"price", "unit_price"},
	Quantity: []string{"quantity", "count"},
	Created:  []string{"created"},
}

// DeliveryFields lists the accepted source keys for delivery box items. The
// delivery endpoint reports unit_price/count natively.
var DeliveryFields = FieldPriority{
	ItemID:   []string{"item_id", "id"},
	Price:    []string{"unit_price", "price"},
	Quantity: []string{"count", "quantity"},
}

// FieldPriority maps canonical fields to ordered source keys.
type FieldPriority struct {
	ID       []string
	ItemID   []string
	Price    []string
	Quantity []string
	Created  []string
}

// Orders normalizes one snapshot. Buys come first, then sells, each in the
// order returned by the marketplace. A missing created timestamp defaults to
// now. Any missing required field or duplicated order id fails the whole
// snapshot with tptracker.ErrInconsistentSnapshot.
func Orders(buys, sells []tptracker.RawRecord, now time.Time) ([]tptracker.Order, error) {
	return normalizeSides(buys, sells, now, true)
}

// History normalizes completed-order history the way Orders does, except
// that an order id may repeat across rows. Callers pick which row counts.
func History(buys, sells []tptracker.RawRecord, now time.Time) ([]tptracker.Order, error) {
	return normalizeSides(buys, sells, now, false)
}

func normalizeSides(buys, sells []tptracker.RawRecord, now time.Time, unique bool) ([]tptracker.Order, error) {
	out := make([]tptracker.Order, 0, len(buys)+len(sells))
	seen := make(map[int64]struct{}, len(buys)+len(sells))

	appendSide := func(records []tptracker.RawRecord, side tptracker.Side) error {
		for i, raw := range records {
			order, err := Order(raw, side, now)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", side, i, err)
			}
			if unique {
				if _, dup := seen[order.ID]; dup {
					return fmt.Errorf("%w: order %d listed twice", tptracker.ErrInconsistentSnapshot, order.ID)
				}
				seen[order.ID] = struct{}{}
			}
			out = append(out, order)
		}
		return nil
	}

	if err := appendSide(buys, tptracker.SideBuy); err != nil {
		return nil, err
	}
	if err := appendSide(sells, tptracker.SideSell); err != nil {
		return nil, err
	}
	return out, nil
}

// Order normalizes a single record for the given side.
func Order(raw tptracker.RawRecord, side tptracker.Side, now time.Time) (tptracker.Order, error) {
	if !side.Valid() {
		return tptracker.Order{}, fmt.Errorf("%w: unknown side %q", tptracker.ErrInconsistentSnapshot, side)
	}

	id, err := requiredInt(raw, OrderFields.ID, "id")
	if err != nil {
		return tptracker.Order{}, err
	}
	itemID, err := requiredInt(raw, OrderFields.ItemID, "item_id")
	if err != nil {
		return tptracker.Order{}, fmt.Errorf("order %d: %w", id, err)
	}
	price, err := requiredInt(raw, OrderFields.Price, "price")
	if err != nil {
		return tptracker.Order{}, fmt.Errorf("order %d: %w", id, err)
	}
	qty, err := requiredInt(raw, OrderFields.Quantity, "quantity")
	if err != nil {
		return tptracker.Order{}, fmt.Errorf("order %d: %w", id, err)
	}

	created := now
	if _, v, ok := lookup(raw, OrderFields.Created); ok {
		s, isString := v.(string)
		if !isString {
			return tptracker.Order{}, fmt.Errorf("%w: order %d: created is %T", tptracker.ErrInconsistentSnapshot, id, v)
		}
		if strings.TrimSpace(s) != "" {
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return tptracker.Order{}, fmt.Errorf("%w: order %d: created: %v", tptracker.ErrInconsistentSnapshot, id, err)
			}
			created = parsed.UTC()
		}
	}

	return tptracker.Order{
		ID:        id,
		ItemID:    itemID,
		Side:      side,
		UnitPrice: price,
		Quantity:  qty,
		CreatedAt: created,
	}, nil
}

// DeliveryItem is one stack waiting in the delivery box.
type DeliveryItem struct {
	ItemID    int64
	UnitPrice int64
	Count     int64
}

// DeliveryItems normalizes delivery box entries. Only the item id is
// required; price and count default to zero like the dashboard always did.
func DeliveryItems(records []tptracker.RawRecord) ([]DeliveryItem, error) {
	out := make([]DeliveryItem, 0, len(records))
	for i, raw := range records {
		itemID, err := requiredInt(raw, DeliveryFields.ItemID, "item_id")
		if err != nil {
			return nil, fmt.Errorf("delivery[%d]: %w", i, err)
		}
		price, err := optionalInt(raw, DeliveryFields.Price)
		if err != nil {
			return nil, fmt.Errorf("delivery[%d]: %w", i, err)
		}
		count, err := optionalInt(raw, DeliveryFields.Quantity)
		if err != nil {
			return nil, fmt.Errorf("delivery[%d]: %w", i, err)
		}
		out = append(out, DeliveryItem{ItemID: itemID, UnitPrice: price, Count: count})
	}
	return out, nil
}

// lookup returns the first key from keys present in raw with a non-nil value.
func lookup(raw tptracker.RawRecord, keys []string) (string, any, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return key, v, true
		}
	}
	return "", nil, false
}

func requiredInt(raw tptracker.RawRecord, keys []string, field string) (int64, error) {
	key, v, ok := lookup(raw, keys)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s (tried %s)", tptracker.ErrInconsistentSnapshot, field, strings.Join(keys, ", "))
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", tptracker.ErrInconsistentSnapshot, key, err)
	}
	return n, nil
}

func optionalInt(raw tptracker.RawRecord, keys []string) (int64, error) {
	key, v, ok := lookup(raw, keys)
	if !ok {
		return 0, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", tptracker.ErrInconsistentSnapshot, key, err)
	}
	return n, nil
}

func toInt(v any) (int64, error) {
	var n int64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", val.String())
		}
		n = parsed
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return 0, fmt.Errorf("not an integer: %v", val)
		}
		n = int64(val)
	case int:
		n = int64(val)
	case int64:
		n = val
	case int32:
		n = int64(val)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
