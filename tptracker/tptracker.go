package tptracker

import (
	"errors"
	"fmt"
	"time"
)

// TenantID identifies one upstream account whose orders are tracked
// independently. Order ids are only unique within a tenant.
type TenantID int64

// Tenant is a registered upstream account.
type Tenant struct {
	ID        TenantID
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// Side is the direction of an order on the marketplace.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is the canonical shape of one open order as observed in a single
// snapshot. Prices are in minor currency units.
type Order struct {
	ID        int64
	ItemID    int64
	Side      Side
	UnitPrice int64
	Quantity  int64
	CreatedAt time.Time
}

// OpenOrder is the last known state of an order that was open at the most
// recent poll.
type OpenOrder struct {
	OrderID       int64
	ItemID        int64
	Side          Side
	UnitPrice     int64
	QuantityTotal int64
	QuantityOpen  int64
	ListingFee    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSeenAt    time.Time
}

// Fill records a decrease of quantity_open detected between two polls.
// OccurredAt is the poll time that detected it, not the true fill time.
type Fill struct {
	ID          int64
	Tenant      TenantID
	OrderID     *int64
	ItemID      int64
	Side        Side
	Quantity    int64
	UnitPrice   int64
	OccurredAt  time.Time
	ExchangeFee int64
}

// EventType enumerates the lifecycle transitions recorded in the event log.
type EventType string

const (
	EventPlaced   EventType = "placed"
	EventFilled   EventType = "filled"
	EventCanceled EventType = "canceled"
	EventRelisted EventType = "relisted"
)

// Terminal reports whether the event closes the placement it follows.
func (t EventType) Terminal() bool {
	switch t {
	case EventFilled, EventCanceled, EventRelisted:
		return true
	default:
		return false
	}
}

// Event is one append-only lifecycle transition. Fee is nil when the
// transition carries no charge (cancellation).
type Event struct {
	ID         int64
	Tenant     TenantID
	OrderID    int64
	ItemID     int64
	Side       Side
	Type       EventType
	Quantity   int64
	Price      int64
	Fee        *int64
	OccurredAt time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s order=%d item=%d qty=%d price=%d", e.Type, e.OrderID, e.ItemID, e.Quantity, e.Price)
}

// ActiveOrder is an order with a placed event and no later terminal event.
// Quantity and price are the values recorded at placement. LastListed is
// the order as the most recent snapshot that contained it showed it, nil
// when no such snapshot was stored.
type ActiveOrder struct {
	OrderID    int64
	ItemID     int64
	Side       Side
	Quantity   int64
	Price      int64
	PlacedAt   time.Time
	LastListed *Listing
}

// Listing is the open quantity and unit price of an order in one snapshot.
type Listing struct {
	Quantity  int64
	UnitPrice int64
}

// Remaining returns the last listed quantity and price, falling back to the
// placement values.
func (a ActiveOrder) Remaining() (quantity, price int64) {
	if a.LastListed != nil {
		return a.LastListed.Quantity, a.LastListed.UnitPrice
	}
	return a.Quantity, a.Price
}

var (
	// ErrUpstreamUnavailable covers network, auth and timeout failures while
	// talking to the marketplace. The poll is abandoned without mutations.
	ErrUpstreamUnavailable = errors.New("tptracker: upstream unavailable")
	// ErrInconsistentSnapshot is returned for records missing fields that the
	// fee arithmetic depends on.
	ErrInconsistentSnapshot = errors.New("tptracker: inconsistent snapshot")
	// ErrStoreTransaction wraps any failure that caused a store transaction
	// to roll back.
	ErrStoreTransaction = errors.New("tptracker: store transaction failed")
)

// RawRecord is one decoded JSON object returned by the marketplace. Field
// names differ between endpoints; the normalize package resolves them.
type RawRecord map[string]any

// PollStatus is the outcome of one poll cycle.
type PollStatus string

const (
	PollOK     PollStatus = "ok"
	PollFailed PollStatus = "failed"
)

// ErrorKind classifies a failed poll against the error taxonomy.
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindUpstreamUnavailable  ErrorKind = "upstream_unavailable"
	ErrorKindInconsistentSnapshot ErrorKind = "inconsistent_snapshot"
	ErrorKindStoreTransaction     ErrorKind = "store_transaction"
	ErrorKindOther                ErrorKind = "other"
)

// ClassifyError maps err onto an ErrorKind. A nil error is ErrorKindNone.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrUpstreamUnavailable):
		return ErrorKindUpstreamUnavailable
	case errors.Is(err, ErrInconsistentSnapshot):
		return ErrorKindInconsistentSnapshot
	case errors.Is(err, ErrStoreTransaction):
		return ErrorKindStoreTransaction
	default:
		return ErrorKindOther
	}
}

// PollRun is the journal entry written after every poll cycle.
type PollRun struct {
	ID            string
	Tenant        TenantID
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        PollStatus
	ErrorKind     ErrorKind
	Error         string
	OrdersSeen    int
	FillsCreated  int
	EventsCreated int
}
