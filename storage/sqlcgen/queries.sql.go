package sqlcgen

import (
	"context"
	"encoding/json"
)

const archiveOpenOrder = `-- name: ArchiveOpenOrder :exec
INSERT OR REPLACE INTO closed_orders (tenant_id, order_id, item_id, side, unit_price, quantity_open, last_seen_utc)
SELECT tenant_id, order_id, item_id, side, unit_price, quantity_open, last_seen_utc
FROM open_orders
WHERE tenant_id = ? AND order_id = ?
`

type ArchiveOpenOrderParams struct {
	TenantID int64 `json:"tenant_id"`
	OrderID  int64 `json:"order_id"`
}

func (q *Queries) ArchiveOpenOrder(ctx context.Context, arg ArchiveOpenOrderParams) error {
	_, err := q.db.ExecContext(ctx, archiveOpenOrder, arg.TenantID, arg.OrderID)
	return err
}

const deleteClosedOrder = `-- name: DeleteClosedOrder :exec
DELETE FROM closed_orders WHERE tenant_id = ? AND order_id = ?
`

type DeleteClosedOrderParams struct {
	TenantID int64 `json:"tenant_id"`
	OrderID  int64 `json:"order_id"`
}

func (q *Queries) DeleteClosedOrder(ctx context.Context, arg DeleteClosedOrderParams) error {
	_, err := q.db.ExecContext(ctx, deleteClosedOrder, arg.TenantID, arg.OrderID)
	return err
}

const deleteOpenOrder = `-- name: DeleteOpenOrder :execrows
DELETE FROM open_orders WHERE tenant_id = ? AND order_id = ?
`

type DeleteOpenOrderParams struct {
	TenantID int64 `json:"tenant_id"`
	OrderID  int64 `json:"order_id"`
}

func (q *Queries) DeleteOpenOrder(ctx context.Context, arg DeleteOpenOrderParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteOpenOrder, arg.TenantID, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getTenant = `-- name: GetTenant :one
SELECT id, name, api_key, created_at_utc FROM tenants WHERE id = ?
`

func (q *Queries) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, getTenant, id)
	var i Tenant
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ApiKey,
		&i.CreatedAtUtc,
	)
	return i, err
}

const getTenantByName = `-- name: GetTenantByName :one
SELECT id, name, api_key, created_at_utc FROM tenants WHERE name = ?
`

func (q *Queries) GetTenantByName(ctx context.Context, name string) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, getTenantByName, name)
	var i Tenant
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ApiKey,
		&i.CreatedAtUtc,
	)
	return i, err
}

const insertAppLogEntry = `-- name: InsertAppLogEntry :exec
INSERT INTO app_logs (
    timestamp_millis, level_text, scope, message, attrs_json, source_file, source_line, source_function, tenant_id, poll_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertAppLogEntryParams struct {
	TimestampMillis int64           `json:"timestamp_millis"`
	LevelText       string          `json:"level_text"`
	Scope           *string         `json:"scope"`
	Message         string          `json:"message"`
	AttrsJson       json.RawMessage `json:"attrs_json"`
	SourceFile      *string         `json:"source_file"`
	SourceLine      *int64          `json:"source_line"`
	SourceFunction  *string         `json:"source_function"`
	TenantID        *int64          `json:"tenant_id"`
	PollID          *string         `json:"poll_id"`
}

func (q *Queries) InsertAppLogEntry(ctx context.Context, arg InsertAppLogEntryParams) error {
	_, err := q.db.ExecContext(ctx, insertAppLogEntry,
		arg.TimestampMillis,
		arg.LevelText,
		arg.Scope,
		arg.Message,
		arg.AttrsJson,
		arg.SourceFile,
		arg.SourceLine,
		arg.SourceFunction,
		arg.TenantID,
		arg.PollID,
	)
	return err
}

const insertFill = `-- name: InsertFill :one
INSERT INTO fills (tenant_id, order_id, item_id, side, quantity, unit_price, occurred_at_utc, exchange_fee)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertFillParams struct {
	TenantID      int64  `json:"tenant_id"`
	OrderID       *int64 `json:"order_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	OccurredAtUtc int64  `json:"occurred_at_utc"`
	ExchangeFee   int64  `json:"exchange_fee"`
}

func (q *Queries) InsertFill(ctx context.Context, arg InsertFillParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertFill,
		arg.TenantID,
		arg.OrderID,
		arg.ItemID,
		arg.Side,
		arg.Quantity,
		arg.UnitPrice,
		arg.OccurredAtUtc,
		arg.ExchangeFee,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertOrderEvent = `-- name: InsertOrderEvent :one
INSERT INTO order_events (tenant_id, order_id, item_id, side, event_type, quantity, price, fee, occurred_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertOrderEventParams struct {
	TenantID      int64  `json:"tenant_id"`
	OrderID       int64  `json:"order_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	EventType     string `json:"event_type"`
	Quantity      int64  `json:"quantity"`
	Price         int64  `json:"price"`
	Fee           *int64 `json:"fee"`
	OccurredAtUtc int64  `json:"occurred_at_utc"`
}

func (q *Queries) InsertOrderEvent(ctx context.Context, arg InsertOrderEventParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertOrderEvent,
		arg.TenantID,
		arg.OrderID,
		arg.ItemID,
		arg.Side,
		arg.EventType,
		arg.Quantity,
		arg.Price,
		arg.Fee,
		arg.OccurredAtUtc,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertPollRun = `-- name: InsertPollRun :exec
INSERT INTO poll_runs (
    id, tenant_id, started_at_utc, finished_at_utc, status, error_kind, error_text,
    orders_seen, fills_created, events_created
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertPollRunParams struct {
	ID            string  `json:"id"`
	TenantID      int64   `json:"tenant_id"`
	StartedAtUtc  int64   `json:"started_at_utc"`
	FinishedAtUtc int64   `json:"finished_at_utc"`
	Status        string  `json:"status"`
	ErrorKind     *string `json:"error_kind"`
	ErrorText     *string `json:"error_text"`
	OrdersSeen    int64   `json:"orders_seen"`
	FillsCreated  int64   `json:"fills_created"`
	EventsCreated int64   `json:"events_created"`
}

func (q *Queries) InsertPollRun(ctx context.Context, arg InsertPollRunParams) error {
	_, err := q.db.ExecContext(ctx, insertPollRun,
		arg.ID,
		arg.TenantID,
		arg.StartedAtUtc,
		arg.FinishedAtUtc,
		arg.Status,
		arg.ErrorKind,
		arg.ErrorText,
		arg.OrdersSeen,
		arg.FillsCreated,
		arg.EventsCreated,
	)
	return err
}

const listActivePlaced = `-- name: ListActivePlaced :many
SELECT p.order_id, p.item_id, p.side, p.quantity, p.price, p.occurred_at_utc,
       COALESCE(o.quantity_open, c.quantity_open) AS last_quantity,
       COALESCE(o.unit_price, c.unit_price) AS last_price
FROM order_events p
LEFT JOIN open_orders o ON o.tenant_id = p.tenant_id AND o.order_id = p.order_id
LEFT JOIN closed_orders c ON c.tenant_id = p.tenant_id AND c.order_id = p.order_id
WHERE p.tenant_id = ?
  AND p.event_type = 'placed'
  AND NOT EXISTS (
      SELECT 1 FROM order_events t
      WHERE t.tenant_id = p.tenant_id
        AND t.order_id = p.order_id
        AND t.id > p.id
        AND t.event_type IN ('filled', 'canceled', 'relisted')
  )
ORDER BY p.id
`

type ListActivePlacedRow struct {
	OrderID       int64  `json:"order_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	Price         int64  `json:"price"`
	OccurredAtUtc int64  `json:"occurred_at_utc"`
	LastQuantity  *int64 `json:"last_quantity"`
	LastPrice     *int64 `json:"last_price"`
}

func (q *Queries) ListActivePlaced(ctx context.Context, tenantID int64) ([]ListActivePlacedRow, error) {
	rows, err := q.db.QueryContext(ctx, listActivePlaced, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListActivePlacedRow
	for rows.Next() {
		var i ListActivePlacedRow
		if err := rows.Scan(
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.Quantity,
			&i.Price,
			&i.OccurredAtUtc,
			&i.LastQuantity,
			&i.LastPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listFills = `-- name: ListFills :many
SELECT id, tenant_id, order_id, item_id, side, quantity, unit_price, occurred_at_utc, exchange_fee
FROM fills
WHERE tenant_id = ? AND occurred_at_utc >= ?
ORDER BY occurred_at_utc, id
LIMIT ?
`

type ListFillsParams struct {
	TenantID      int64 `json:"tenant_id"`
	OccurredAtUtc int64 `json:"occurred_at_utc"`
	Limit         int64 `json:"limit"`
}

func (q *Queries) ListFills(ctx context.Context, arg ListFillsParams) ([]Fill, error) {
	rows, err := q.db.QueryContext(ctx, listFills, arg.TenantID, arg.OccurredAtUtc, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Fill
	for rows.Next() {
		var i Fill
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.Quantity,
			&i.UnitPrice,
			&i.OccurredAtUtc,
			&i.ExchangeFee,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listFillsForOrder = `-- name: ListFillsForOrder :many
SELECT id, tenant_id, order_id, item_id, side, quantity, unit_price, occurred_at_utc, exchange_fee
FROM fills
WHERE tenant_id = ? AND order_id = ?
ORDER BY occurred_at_utc, id
`

type ListFillsForOrderParams struct {
	TenantID int64  `json:"tenant_id"`
	OrderID  *int64 `json:"order_id"`
}

func (q *Queries) ListFillsForOrder(ctx context.Context, arg ListFillsForOrderParams) ([]Fill, error) {
	rows, err := q.db.QueryContext(ctx, listFillsForOrder, arg.TenantID, arg.OrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Fill
	for rows.Next() {
		var i Fill
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.Quantity,
			&i.UnitPrice,
			&i.OccurredAtUtc,
			&i.ExchangeFee,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOpenOrders = `-- name: ListOpenOrders :many
SELECT tenant_id, order_id, item_id, side, unit_price, quantity_total, quantity_open,
       listing_fee, created_at_utc, updated_at_utc, last_seen_utc
FROM open_orders
WHERE tenant_id = ?
ORDER BY created_at_utc, order_id
`

func (q *Queries) ListOpenOrders(ctx context.Context, tenantID int64) ([]OpenOrder, error) {
	rows, err := q.db.QueryContext(ctx, listOpenOrders, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OpenOrder
	for rows.Next() {
		var i OpenOrder
		if err := rows.Scan(
			&i.TenantID,
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.UnitPrice,
			&i.QuantityTotal,
			&i.QuantityOpen,
			&i.ListingFee,
			&i.CreatedAtUtc,
			&i.UpdatedAtUtc,
			&i.LastSeenUtc,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderEvents = `-- name: ListOrderEvents :many
SELECT id, tenant_id, order_id, item_id, side, event_type, quantity, price, fee, occurred_at_utc
FROM order_events
WHERE tenant_id = ?
ORDER BY occurred_at_utc, id
LIMIT ?
`

type ListOrderEventsParams struct {
	TenantID int64 `json:"tenant_id"`
	Limit    int64 `json:"limit"`
}

func (q *Queries) ListOrderEvents(ctx context.Context, arg ListOrderEventsParams) ([]OrderEvent, error) {
	rows, err := q.db.QueryContext(ctx, listOrderEvents, arg.TenantID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderEvent
	for rows.Next() {
		var i OrderEvent
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.EventType,
			&i.Quantity,
			&i.Price,
			&i.Fee,
			&i.OccurredAtUtc,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderEventsForOrder = `-- name: ListOrderEventsForOrder :many
SELECT id, tenant_id, order_id, item_id, side, event_type, quantity, price, fee, occurred_at_utc
FROM order_events
WHERE tenant_id = ? AND order_id = ?
ORDER BY occurred_at_utc, id
`

type ListOrderEventsForOrderParams struct {
	TenantID int64 `json:"tenant_id"`
	OrderID  int64 `json:"order_id"`
}

func (q *Queries) ListOrderEventsForOrder(ctx context.Context, arg ListOrderEventsForOrderParams) ([]OrderEvent, error) {
	rows, err := q.db.QueryContext(ctx, listOrderEventsForOrder, arg.TenantID, arg.OrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderEvent
	for rows.Next() {
		var i OrderEvent
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.OrderID,
			&i.ItemID,
			&i.Side,
			&i.EventType,
			&i.Quantity,
			&i.Price,
			&i.Fee,
			&i.OccurredAtUtc,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPollRuns = `-- name: ListPollRuns :many
SELECT id, tenant_id, started_at_utc, finished_at_utc, status, error_kind, error_text,
       orders_seen, fills_created, events_created
FROM poll_runs
WHERE tenant_id = ?
ORDER BY started_at_utc DESC, id
LIMIT ?
`

type ListPollRunsParams struct {
	TenantID int64 `json:"tenant_id"`
	Limit    int64 `json:"limit"`
}

func (q *Queries) ListPollRuns(ctx context.Context, arg ListPollRunsParams) ([]PollRun, error) {
	rows, err := q.db.QueryContext(ctx, listPollRuns, arg.TenantID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PollRun
	for rows.Next() {
		var i PollRun
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.StartedAtUtc,
			&i.FinishedAtUtc,
			&i.Status,
			&i.ErrorKind,
			&i.ErrorText,
			&i.OrdersSeen,
			&i.FillsCreated,
			&i.EventsCreated,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listTenants = `-- name: ListTenants :many
SELECT id, name, api_key, created_at_utc FROM tenants ORDER BY id
`

func (q *Queries) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := q.db.QueryContext(ctx, listTenants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Tenant
	for rows.Next() {
		var i Tenant
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.ApiKey,
			&i.CreatedAtUtc,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertOpenOrder = `-- name: UpsertOpenOrder :exec
INSERT INTO open_orders (
    tenant_id, order_id, item_id, side, unit_price, quantity_total, quantity_open,
    listing_fee, created_at_utc, updated_at_utc, last_seen_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, order_id) DO UPDATE SET
    item_id        = excluded.item_id,
    side           = excluded.side,
    unit_price     = excluded.unit_price,
    quantity_total = excluded.quantity_total,
    quantity_open  = excluded.quantity_open,
    updated_at_utc = excluded.updated_at_utc,
    last_seen_utc  = excluded.last_seen_utc
`

type UpsertOpenOrderParams struct {
	TenantID      int64  `json:"tenant_id"`
	OrderID       int64  `json:"order_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	UnitPrice     int64  `json:"unit_price"`
	QuantityTotal int64  `json:"quantity_total"`
	QuantityOpen  int64  `json:"quantity_open"`
	ListingFee    int64  `json:"listing_fee"`
	CreatedAtUtc  int64  `json:"created_at_utc"`
	UpdatedAtUtc  int64  `json:"updated_at_utc"`
	LastSeenUtc   int64  `json:"last_seen_utc"`
}

func (q *Queries) UpsertOpenOrder(ctx context.Context, arg UpsertOpenOrderParams) error {
	_, err := q.db.ExecContext(ctx, upsertOpenOrder,
		arg.TenantID,
		arg.OrderID,
		arg.ItemID,
		arg.Side,
		arg.UnitPrice,
		arg.QuantityTotal,
		arg.QuantityOpen,
		arg.ListingFee,
		arg.CreatedAtUtc,
		arg.UpdatedAtUtc,
		arg.LastSeenUtc,
	)
	return err
}

const upsertTenant = `-- name: UpsertTenant :one
INSERT INTO tenants (name, api_key, created_at_utc)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET api_key = excluded.api_key
RETURNING id, name, api_key, created_at_utc
`

type UpsertTenantParams struct {
	Name         string `json:"name"`
	ApiKey       string `json:"api_key"`
	CreatedAtUtc int64  `json:"created_at_utc"`
}

func (q *Queries) UpsertTenant(ctx context.Context, arg UpsertTenantParams) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, upsertTenant, arg.Name, arg.ApiKey, arg.CreatedAtUtc)
	var i Tenant
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ApiKey,
		&i.CreatedAtUtc,
	)
	return i, err
}
