package api

import (
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/tptracker/tptracker/gw2"
	"github.com/tptracker/tptracker/tptracker"
)

// TenantRecord never carries the API key; KeyFingerprint identifies it.
type TenantRecord struct {
	Id             int64     `json:"id"`
	Name           string    `json:"name"`
	KeyFingerprint string    `json:"key_fingerprint"`
	CreatedAt      time.Time `json:"created_at"`
}

type OpenOrderRecord struct {
	OrderId       int64     `json:"order_id"`
	ItemId        int64     `json:"item_id"`
	Side          string    `json:"side"`
	UnitPrice     int64     `json:"unit_price"`
	QuantityTotal int64     `json:"quantity_total"`
	QuantityOpen  int64     `json:"quantity_open"`
	ListingFee    int64     `json:"listing_fee"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

type FillRecord struct {
	Id          int64                    `json:"id"`
	OrderId     nullable.Nullable[int64] `json:"order_id"`
	ItemId      int64                    `json:"item_id"`
	Side        string                   `json:"side"`
	Quantity    int64                    `json:"quantity"`
	UnitPrice   int64                    `json:"unit_price"`
	ExchangeFee int64                    `json:"exchange_fee"`
	OccurredAt  time.Time                `json:"occurred_at"`
}

type EventRecord struct {
	Id         int64                    `json:"id"`
	OrderId    int64                    `json:"order_id"`
	ItemId     int64                    `json:"item_id"`
	Side       string                   `json:"side"`
	Type       string                   `json:"type"`
	Quantity   int64                    `json:"quantity"`
	Price      int64                    `json:"price"`
	Fee        nullable.Nullable[int64] `json:"fee"`
	OccurredAt time.Time                `json:"occurred_at"`
}

type PollRunRecord struct {
	Id            string                    `json:"id"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	Status        string                    `json:"status"`
	ErrorKind     nullable.Nullable[string] `json:"error_kind"`
	Error         nullable.Nullable[string] `json:"error"`
	OrdersSeen    int                       `json:"orders_seen"`
	FillsCreated  int                       `json:"fills_created"`
	EventsCreated int                       `json:"events_created"`
}

type DeliveryItemRecord struct {
	ItemId    int64 `json:"item_id"`
	UnitPrice int64 `json:"unit_price"`
	Count     int64 `json:"count"`
}

type DeliveryRecord struct {
	Coins int64                `json:"coins"`
	Items []DeliveryItemRecord `json:"items"`
}

// ListResponse wraps every collection endpoint.
type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func makeTenantRecord(t tptracker.Tenant) TenantRecord {
	return TenantRecord{
		Id:             int64(t.ID),
		Name:           t.Name,
		KeyFingerprint: tptracker.KeyFingerprint(t.APIKey),
		CreatedAt:      t.CreatedAt,
	}
}

func makeOpenOrderRecords(rows []tptracker.OpenOrder) []OpenOrderRecord {
	out := make([]OpenOrderRecord, 0, len(rows))
	for _, o := range rows {
		out = append(out, OpenOrderRecord{
			OrderId:       o.OrderID,
			ItemId:        o.ItemID,
			Side:          string(o.Side),
			UnitPrice:     o.UnitPrice,
			QuantityTotal: o.QuantityTotal,
			QuantityOpen:  o.QuantityOpen,
			ListingFee:    o.ListingFee,
			CreatedAt:     o.CreatedAt,
			UpdatedAt:     o.UpdatedAt,
			LastSeenAt:    o.LastSeenAt,
		})
	}
	return out
}

func makeFillRecords(rows []tptracker.Fill) []FillRecord {
	out := make([]FillRecord, 0, len(rows))
	for _, f := range rows {
		out = append(out, FillRecord{
			Id:          f.ID,
			OrderId:     nullableFromPtr(f.OrderID),
			ItemId:      f.ItemID,
			Side:        string(f.Side),
			Quantity:    f.Quantity,
			UnitPrice:   f.UnitPrice,
			ExchangeFee: f.ExchangeFee,
			OccurredAt:  f.OccurredAt,
		})
	}
	return out
}

func makeEventRecords(rows []tptracker.Event) []EventRecord {
	out := make([]EventRecord, 0, len(rows))
	for _, e := range rows {
		out = append(out, EventRecord{
			Id:         e.ID,
			OrderId:    e.OrderID,
			ItemId:     e.ItemID,
			Side:       string(e.Side),
			Type:       string(e.Type),
			Quantity:   e.Quantity,
			Price:      e.Price,
			Fee:        nullableFromPtr(e.Fee),
			OccurredAt: e.OccurredAt,
		})
	}
	return out
}

func makePollRunRecords(rows []tptracker.PollRun) []PollRunRecord {
	out := make([]PollRunRecord, 0, len(rows))
	for _, r := range rows {
		rec := PollRunRecord{
			Id:            r.ID,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Status:        string(r.Status),
			ErrorKind:     nullable.NewNullNullable[string](),
			Error:         nullable.NewNullNullable[string](),
			OrdersSeen:    r.OrdersSeen,
			FillsCreated:  r.FillsCreated,
			EventsCreated: r.EventsCreated,
		}
		if r.ErrorKind != tptracker.ErrorKindNone {
			rec.ErrorKind = nullable.NewNullableWithValue(string(r.ErrorKind))
		}
		if r.Error != "" {
			rec.Error = nullable.NewNullableWithValue(r.Error)
		}
		out = append(out, rec)
	}
	return out
}

func makeDeliveryRecord(d gw2.Delivery) DeliveryRecord {
	items := make([]DeliveryItemRecord, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, DeliveryItemRecord{
			ItemId:    it.ItemID,
			UnitPrice: it.UnitPrice,
			Count:     it.Count,
		})
	}
	return DeliveryRecord{Coins: d.Coins, Items: items}
}

func nullableFromPtr[T any](v *T) nullable.Nullable[T] {
	if v == nil {
		return nullable.NewNullNullable[T]()
	}
	return nullable.NewNullableWithValue(*v)
}
