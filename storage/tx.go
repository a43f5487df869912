package storage

import (
	"context"
	"fmt"

	"github.com/tptracker/tptracker/storage/sqlcgen"
	"github.com/tptracker/tptracker/tptracker"
)

// Tx is the set of order-state operations available inside one tenant
// transaction. Every method is scoped to the tenant the transaction was
// opened for.
type Tx interface {
	Tenant() tptracker.TenantID
	OpenOrders(ctx context.Context) ([]tptracker.OpenOrder, error)
	UpsertOpenOrder(ctx context.Context, order tptracker.OpenOrder) error
	DeleteOpenOrder(ctx context.Context, orderID int64) error
	AppendFill(ctx context.Context, fill tptracker.Fill) (int64, error)
	ActivePlaced(ctx context.Context) ([]tptracker.ActiveOrder, error)
	AppendEvent(ctx context.Context, event tptracker.Event) (int64, error)
}

type tenantTx struct {
	queries *sqlcgen.Queries
	tenant  tptracker.TenantID
}

func (t *tenantTx) Tenant() tptracker.TenantID {
	return t.tenant
}

func (t *tenantTx) OpenOrders(ctx context.Context) ([]tptracker.OpenOrder, error) {
	rows, err := t.queries.ListOpenOrders(ctx, int64(t.tenant))
	if err != nil {
		return nil, err
	}
	return openOrdersFromRows(rows), nil
}

func (t *tenantTx) UpsertOpenOrder(ctx context.Context, order tptracker.OpenOrder) error {
	if !order.Side.Valid() {
		return fmt.Errorf("upsert open order %d: invalid side %q", order.OrderID, order.Side)
	}
	return t.queries.UpsertOpenOrder(ctx, sqlcgen.UpsertOpenOrderParams{
		TenantID:      int64(t.tenant),
		OrderID:       order.OrderID,
		ItemID:        order.ItemID,
		Side:          string(order.Side),
		UnitPrice:     order.UnitPrice,
		QuantityTotal: order.QuantityTotal,
		QuantityOpen:  order.QuantityOpen,
		ListingFee:    order.ListingFee,
		CreatedAtUtc:  toMillis(order.CreatedAt),
		UpdatedAtUtc:  toMillis(order.UpdatedAt),
		LastSeenUtc:   toMillis(order.LastSeenAt),
	})
}

// DeleteOpenOrder moves the row into closed_orders so the lifecycle pass can
// still see the order's last listed quantity and price.
func (t *tenantTx) DeleteOpenOrder(ctx context.Context, orderID int64) error {
	err := t.queries.ArchiveOpenOrder(ctx, sqlcgen.ArchiveOpenOrderParams{
		TenantID: int64(t.tenant),
		OrderID:  orderID,
	})
	if err != nil {
		return err
	}
	_, err = t.queries.DeleteOpenOrder(ctx, sqlcgen.DeleteOpenOrderParams{
		TenantID: int64(t.tenant),
		OrderID:  orderID,
	})
	return err
}

func (t *tenantTx) AppendFill(ctx context.Context, fill tptracker.Fill) (int64, error) {
	if fill.Tenant != 0 && fill.Tenant != t.tenant {
		return 0, fmt.Errorf("append fill: tenant %d in transaction for tenant %d", fill.Tenant, t.tenant)
	}
	return t.queries.InsertFill(ctx, sqlcgen.InsertFillParams{
		TenantID:      int64(t.tenant),
		OrderID:       fill.OrderID,
		ItemID:        fill.ItemID,
		Side:          string(fill.Side),
		Quantity:      fill.Quantity,
		UnitPrice:     fill.UnitPrice,
		OccurredAtUtc: toMillis(fill.OccurredAt),
		ExchangeFee:   fill.ExchangeFee,
	})
}

func (t *tenantTx) ActivePlaced(ctx context.Context) ([]tptracker.ActiveOrder, error) {
	rows, err := t.queries.ListActivePlaced(ctx, int64(t.tenant))
	if err != nil {
		return nil, err
	}
	return activeFromRows(rows), nil
}

func (t *tenantTx) AppendEvent(ctx context.Context, event tptracker.Event) (int64, error) {
	if event.Tenant != 0 && event.Tenant != t.tenant {
		return 0, fmt.Errorf("append event: tenant %d in transaction for tenant %d", event.Tenant, t.tenant)
	}
	id, err := t.queries.InsertOrderEvent(ctx, sqlcgen.InsertOrderEventParams{
		TenantID:      int64(t.tenant),
		OrderID:       event.OrderID,
		ItemID:        event.ItemID,
		Side:          string(event.Side),
		EventType:     string(event.Type),
		Quantity:      event.Quantity,
		Price:         event.Price,
		Fee:           event.Fee,
		OccurredAtUtc: toMillis(event.OccurredAt),
	})
	if err != nil {
		return 0, err
	}
	if event.Type.Terminal() {
		err = t.queries.DeleteClosedOrder(ctx, sqlcgen.DeleteClosedOrderParams{
			TenantID: int64(t.tenant),
			OrderID:  event.OrderID,
		})
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}
