package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tptracker/tptracker/storage/sqlcgen"
	"github.com/tptracker/tptracker/tptracker"
)

//go:generate sqlc generate

//go:embed sqlc/schema.sql
var schemaDDL string

var (
	ErrTenantNotFound = errors.New("storage: tenant not found")
	ErrTenantInvalid  = errors.New("storage: invalid tenant")
)

// Storage persists open orders, fills and lifecycle events for every tenant
// in a single SQLite database. All access goes through one connection.
type Storage struct {
	db      *sql.DB
	queries *sqlcgen.Queries
	// logQueries skips statement tracing so persisted logs do not feed back
	// into the log pipeline.
	logQueries *sqlcgen.Queries
	logger     *slog.Logger
	mu         sync.Mutex
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger traces every SQL statement through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

func New(path string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Storage{db: db}
	for _, opt := range opts {
		opt(s)
	}
	s.queries = sqlcgen.New(s.wrap(db))
	s.logQueries = sqlcgen.New(db)
	return s, nil
}

func (s *Storage) wrap(inner sqlcgen.DBTX) sqlcgen.DBTX {
	if s.logger == nil {
		return inner
	}
	return loggingDB{inner: inner, logger: s.logger.WithGroup("storage")}
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// EnsureTenant registers name with apiKey, replacing the key of an existing
// tenant with the same name.
func (s *Storage) EnsureTenant(ctx context.Context, name, apiKey string) (tptracker.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(apiKey) == "" {
		return tptracker.Tenant{}, ErrTenantInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.queries.UpsertTenant(ctx, sqlcgen.UpsertTenantParams{
		Name:         name,
		ApiKey:       apiKey,
		CreatedAtUtc: toMillis(time.Now()),
	})
	if err != nil {
		return tptracker.Tenant{}, err
	}
	return tenantFromRow(row), nil
}

func (s *Storage) GetTenant(ctx context.Context, id tptracker.TenantID) (tptracker.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.queries.GetTenant(ctx, int64(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tptracker.Tenant{}, ErrTenantNotFound
		}
		return tptracker.Tenant{}, err
	}
	return tenantFromRow(row), nil
}

func (s *Storage) GetTenantByName(ctx context.Context, name string) (tptracker.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.queries.GetTenantByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tptracker.Tenant{}, ErrTenantNotFound
		}
		return tptracker.Tenant{}, err
	}
	return tenantFromRow(row), nil
}

func (s *Storage) ListTenants(ctx context.Context) ([]tptracker.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tptracker.Tenant, 0, len(rows))
	for _, row := range rows {
		out = append(out, tenantFromRow(row))
	}
	return out, nil
}

// WithTenantTx runs fn inside one transaction whose Tx can only see and
// modify rows of tenant. The transaction commits when fn returns nil and
// rolls back otherwise. Errors outside the tptracker taxonomy are wrapped in
// tptracker.ErrStoreTransaction.
func (s *Storage) WithTenantTx(ctx context.Context, tenant tptracker.TenantID, fn func(Tx) error) (err error) {
	if tenant <= 0 {
		return fmt.Errorf("%w: %w", tptracker.ErrStoreTransaction, ErrTenantInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", tptracker.ErrStoreTransaction, err)
	}

	rollback := true
	defer func() {
		if rollback {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	qtx := sqlcgen.New(s.wrap(sqlTx))
	if _, err := qtx.GetTenant(ctx, int64(tenant)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %w", tptracker.ErrStoreTransaction, ErrTenantNotFound)
		}
		return fmt.Errorf("%w: %w", tptracker.ErrStoreTransaction, err)
	}

	if err := fn(&tenantTx{queries: qtx, tenant: tenant}); err != nil {
		return wrapTxError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", tptracker.ErrStoreTransaction, err)
	}
	rollback = false
	return nil
}

func wrapTxError(err error) error {
	switch tptracker.ClassifyError(err) {
	case tptracker.ErrorKindOther:
		return fmt.Errorf("%w: %w", tptracker.ErrStoreTransaction, err)
	default:
		return err
	}
}

// ListOpenOrders returns the tenant's open orders ordered by creation time.
func (s *Storage) ListOpenOrders(ctx context.Context, tenant tptracker.TenantID) ([]tptracker.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListOpenOrders(ctx, int64(tenant))
	if err != nil {
		return nil, err
	}
	return openOrdersFromRows(rows), nil
}

// ListFills returns up to limit fills detected at or after since, oldest
// first.
func (s *Storage) ListFills(ctx context.Context, tenant tptracker.TenantID, since time.Time, limit int) ([]tptracker.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListFills(ctx, sqlcgen.ListFillsParams{
		TenantID:      int64(tenant),
		OccurredAtUtc: toMillis(since),
		Limit:         int64(limit),
	})
	if err != nil {
		return nil, err
	}
	return fillsFromRows(rows), nil
}

func (s *Storage) ListFillsForOrder(ctx context.Context, tenant tptracker.TenantID, orderID int64) ([]tptracker.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListFillsForOrder(ctx, sqlcgen.ListFillsForOrderParams{
		TenantID: int64(tenant),
		OrderID:  &orderID,
	})
	if err != nil {
		return nil, err
	}
	return fillsFromRows(rows), nil
}

// ListEvents returns up to limit lifecycle events, oldest first.
func (s *Storage) ListEvents(ctx context.Context, tenant tptracker.TenantID, limit int) ([]tptracker.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListOrderEvents(ctx, sqlcgen.ListOrderEventsParams{
		TenantID: int64(tenant),
		Limit:    int64(limit),
	})
	if err != nil {
		return nil, err
	}
	return eventsFromRows(rows), nil
}

func (s *Storage) ListEventsForOrder(ctx context.Context, tenant tptracker.TenantID, orderID int64) ([]tptracker.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListOrderEventsForOrder(ctx, sqlcgen.ListOrderEventsForOrderParams{
		TenantID: int64(tenant),
		OrderID:  orderID,
	})
	if err != nil {
		return nil, err
	}
	return eventsFromRows(rows), nil
}

// ListActivePlaced returns orders with a placed event and no later terminal
// event, in placement order.
func (s *Storage) ListActivePlaced(ctx context.Context, tenant tptracker.TenantID) ([]tptracker.ActiveOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListActivePlaced(ctx, int64(tenant))
	if err != nil {
		return nil, err
	}
	return activeFromRows(rows), nil
}

// RecordPollRun appends run to the poll journal.
func (s *Storage) RecordPollRun(ctx context.Context, run tptracker.PollRun) error {
	params := sqlcgen.InsertPollRunParams{
		ID:            run.ID,
		TenantID:      int64(run.Tenant),
		StartedAtUtc:  toMillis(run.StartedAt),
		FinishedAtUtc: toMillis(run.FinishedAt),
		Status:        string(run.Status),
		ErrorKind:     stringPtr(string(run.ErrorKind)),
		ErrorText:     stringPtr(run.Error),
		OrdersSeen:    int64(run.OrdersSeen),
		FillsCreated:  int64(run.FillsCreated),
		EventsCreated: int64(run.EventsCreated),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queries.InsertPollRun(ctx, params)
}

// ListPollRuns returns the most recent poll runs first.
func (s *Storage) ListPollRuns(ctx context.Context, tenant tptracker.TenantID, limit int) ([]tptracker.PollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queries.ListPollRuns(ctx, sqlcgen.ListPollRunsParams{
		TenantID: int64(tenant),
		Limit:    int64(limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]tptracker.PollRun, 0, len(rows))
	for _, row := range rows {
		run := tptracker.PollRun{
			ID:            row.ID,
			Tenant:        tptracker.TenantID(row.TenantID),
			StartedAt:     fromMillis(row.StartedAtUtc),
			FinishedAt:    fromMillis(row.FinishedAtUtc),
			Status:        tptracker.PollStatus(row.Status),
			OrdersSeen:    int(row.OrdersSeen),
			FillsCreated:  int(row.FillsCreated),
			EventsCreated: int(row.EventsCreated),
		}
		if row.ErrorKind != nil {
			run.ErrorKind = tptracker.ErrorKind(*row.ErrorKind)
		}
		if row.ErrorText != nil {
			run.Error = *row.ErrorText
		}
		out = append(out, run)
	}
	return out, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func tenantFromRow(row sqlcgen.Tenant) tptracker.Tenant {
	return tptracker.Tenant{
		ID:        tptracker.TenantID(row.ID),
		Name:      row.Name,
		APIKey:    row.ApiKey,
		CreatedAt: fromMillis(row.CreatedAtUtc),
	}
}

func openOrdersFromRows(rows []sqlcgen.OpenOrder) []tptracker.OpenOrder {
	out := make([]tptracker.OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, tptracker.OpenOrder{
			OrderID:       row.OrderID,
			ItemID:        row.ItemID,
			Side:          tptracker.Side(row.Side),
			UnitPrice:     row.UnitPrice,
			QuantityTotal: row.QuantityTotal,
			QuantityOpen:  row.QuantityOpen,
			ListingFee:    row.ListingFee,
			CreatedAt:     fromMillis(row.CreatedAtUtc),
			UpdatedAt:     fromMillis(row.UpdatedAtUtc),
			LastSeenAt:    fromMillis(row.LastSeenUtc),
		})
	}
	return out
}

func fillsFromRows(rows []sqlcgen.Fill) []tptracker.Fill {
	out := make([]tptracker.Fill, 0, len(rows))
	for _, row := range rows {
		out = append(out, tptracker.Fill{
			ID:          row.ID,
			Tenant:      tptracker.TenantID(row.TenantID),
			OrderID:     row.OrderID,
			ItemID:      row.ItemID,
			Side:        tptracker.Side(row.Side),
			Quantity:    row.Quantity,
			UnitPrice:   row.UnitPrice,
			OccurredAt:  fromMillis(row.OccurredAtUtc),
			ExchangeFee: row.ExchangeFee,
		})
	}
	return out
}

func eventsFromRows(rows []sqlcgen.OrderEvent) []tptracker.Event {
	out := make([]tptracker.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, tptracker.Event{
			ID:         row.ID,
			Tenant:     tptracker.TenantID(row.TenantID),
			OrderID:    row.OrderID,
			ItemID:     row.ItemID,
			Side:       tptracker.Side(row.Side),
			Type:       tptracker.EventType(row.EventType),
			Quantity:   row.Quantity,
			Price:      row.Price,
			Fee:        row.Fee,
			OccurredAt: fromMillis(row.OccurredAtUtc),
		})
	}
	return out
}

func activeFromRows(rows []sqlcgen.ListActivePlacedRow) []tptracker.ActiveOrder {
	out := make([]tptracker.ActiveOrder, 0, len(rows))
	for _, row := range rows {
		active := tptracker.ActiveOrder{
			OrderID:  row.OrderID,
			ItemID:   row.ItemID,
			Side:     tptracker.Side(row.Side),
			Quantity: row.Quantity,
			Price:    row.Price,
			PlacedAt: fromMillis(row.OccurredAtUtc),
		}
		if row.LastQuantity != nil && row.LastPrice != nil {
			active.LastListed = &tptracker.Listing{Quantity: *row.LastQuantity, UnitPrice: *row.LastPrice}
		}
		out = append(out, active)
	}
	return out
}
