package sqlcgen

import (
	"encoding/json"
)

type AppLog struct {
	ID              int64           `json:"id"`
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

type ClosedOrder struct {
	TenantID     int64  `json:"tenant_id"`
	OrderID      int64  `json:"order_id"`
	ItemID       int64  `json:"item_id"`
	Side         string `json:"side"`
	UnitPrice    int64  `json:"unit_price"`
	QuantityOpen int64  `json:"quantity_open"`
	LastSeenUtc  int64  `json:"last_seen_utc"`
}

type Fill struct {
	ID            int64  `json:"id"`
	TenantID      int64  `json:"tenant_id"`
	OrderID       *int64 `json:"order_id"`
	ItemID        int64  `json:"item_id"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	OccurredAtUtc int64  `json:"occurred_at_utc"`
	ExchangeFee   int64  `json:"exchange_fee"`
}

type OpenOrder struct {
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

type OrderEvent struct {
	ID            int64  `json:"id"`
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

type PollRun struct {
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

type Tenant struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ApiKey       string `json:"api_key"`
	CreatedAtUtc int64  `json:"created_at_utc"`
}
