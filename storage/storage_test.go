package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tptracker/tptracker/pkg/sqllogger"
	"github.com/tptracker/tptracker/tptracker"
)

var t0 = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	return newTestStorageWithLogger(t, nil)
}

func newTestStorageWithLogger(t *testing.T, logger *slog.Logger) *Storage {
	t.Helper()

	var opts []Option
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	store, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("open sqlite storage: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close sqlite storage: %v", err)
		}
	})

	return store
}

func mustTenant(t *testing.T, store *Storage, name string) tptracker.Tenant {
	t.Helper()
	tenant, err := store.EnsureTenant(context.Background(), name, "key-"+name)
	require.NoError(t, err)
	return tenant
}

func TestEnsureTenantIsIdempotentByName(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()

	first, err := store.EnsureTenant(ctx, "alice", "key-1")
	require.NoError(t, err)
	second, err := store.EnsureTenant(ctx, "alice", "key-2")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "key-2", second.APIKey)

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	_, err = store.GetTenantByName(ctx, "bob")
	require.ErrorIs(t, err, ErrTenantNotFound)

	_, err = store.EnsureTenant(ctx, " ", "key")
	require.ErrorIs(t, err, ErrTenantInvalid)
}

func TestUpsertOpenOrderKeepsListingFeeAndCreatedAt(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	created := t0.Add(-time.Hour)
	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		return tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
			OrderID: 42, ItemID: 10, Side: tptracker.SideSell, UnitPrice: 100,
			QuantityTotal: 30, QuantityOpen: 30, ListingFee: 150,
			CreatedAt: created, UpdatedAt: created, LastSeenAt: created,
		})
	})
	require.NoError(t, err)

	err = store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		return tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
			OrderID: 42, ItemID: 10, Side: tptracker.SideSell, UnitPrice: 90,
			QuantityTotal: 10, QuantityOpen: 10, ListingFee: 999,
			CreatedAt: t0, UpdatedAt: t0, LastSeenAt: t0,
		})
	})
	require.NoError(t, err)

	orders, err := store.ListOpenOrders(ctx, tenant.ID)
	require.NoError(t, err)
	want := []tptracker.OpenOrder{{
		OrderID: 42, ItemID: 10, Side: tptracker.SideSell, UnitPrice: 90,
		QuantityTotal: 10, QuantityOpen: 10, ListingFee: 150,
		CreatedAt: created, UpdatedAt: t0, LastSeenAt: t0,
	}}
	if diff := cmp.Diff(want, orders); diff != "" {
		t.Fatalf("open orders mismatch (-want +got):\n%s", diff)
	}
}

func TestWithTenantTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	boom := errors.New("boom")
	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		if err := tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
			OrderID: 1, ItemID: 2, Side: tptracker.SideBuy, UnitPrice: 3,
			QuantityTotal: 4, QuantityOpen: 4, CreatedAt: t0, UpdatedAt: t0, LastSeenAt: t0,
		}); err != nil {
			return err
		}
		if _, err := tx.AppendFill(ctx, tptracker.Fill{ItemID: 2, Side: tptracker.SideBuy, Quantity: 1, UnitPrice: 3, OccurredAt: t0}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, tptracker.ErrStoreTransaction)
	require.ErrorIs(t, err, boom)

	orders, err := store.ListOpenOrders(ctx, tenant.ID)
	require.NoError(t, err)
	require.Empty(t, orders)

	fills, err := store.ListFills(ctx, tenant.ID, time.Time{}, 100)
	require.NoError(t, err)
	require.Empty(t, fills)
}

func TestWithTenantTxRejectsConstraintViolation(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		return tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
			OrderID: 1, ItemID: 2, Side: tptracker.SideSell, UnitPrice: 3,
			QuantityTotal: 4, QuantityOpen: 5, CreatedAt: t0, UpdatedAt: t0, LastSeenAt: t0,
		})
	})
	require.ErrorIs(t, err, tptracker.ErrStoreTransaction)
}

func TestWithTenantTxPreservesTaxonomyErrors(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	err := store.WithTenantTx(ctx, tenant.ID, func(Tx) error {
		return tptracker.ErrUpstreamUnavailable
	})
	require.ErrorIs(t, err, tptracker.ErrUpstreamUnavailable)
	require.NotErrorIs(t, err, tptracker.ErrStoreTransaction)
}

func TestWithTenantTxUnknownTenant(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	called := false
	err := store.WithTenantTx(context.Background(), 77, func(Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, tptracker.ErrStoreTransaction)
	require.ErrorIs(t, err, ErrTenantNotFound)
	require.False(t, called)
}

func TestTenantScopesAreIsolated(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	alice := mustTenant(t, store, "alice")
	bob := mustTenant(t, store, "bob")

	for _, tenant := range []tptracker.Tenant{alice, bob} {
		err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
			return tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
				OrderID: 42, ItemID: 10, Side: tptracker.SideSell, UnitPrice: 100,
				QuantityTotal: 30, QuantityOpen: 30, CreatedAt: t0, UpdatedAt: t0, LastSeenAt: t0,
			})
		})
		require.NoError(t, err)
	}

	err := store.WithTenantTx(ctx, alice.ID, func(tx Tx) error {
		if err := tx.DeleteOpenOrder(ctx, 42); err != nil {
			return err
		}
		_, err := tx.AppendFill(ctx, tptracker.Fill{Tenant: bob.ID, ItemID: 10, Side: tptracker.SideSell, Quantity: 1, UnitPrice: 100, OccurredAt: t0})
		return err
	})
	require.Error(t, err, "fills for another tenant must be rejected")

	bobOrders, err := store.ListOpenOrders(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobOrders, 1)

	aliceOrders, err := store.ListOpenOrders(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, aliceOrders, 1, "rolled back delete must leave alice's row")

	err = store.WithTenantTx(ctx, alice.ID, func(tx Tx) error {
		return tx.DeleteOpenOrder(ctx, 42)
	})
	require.NoError(t, err)

	aliceOrders, err = store.ListOpenOrders(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, aliceOrders)

	bobOrders, err = store.ListOpenOrders(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobOrders, 1)
}

func TestActivePlacedExcludesTerminated(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	fee := int64(25)
	events := []tptracker.Event{
		{OrderID: 1, ItemID: 10, Side: tptracker.SideSell, Type: tptracker.EventPlaced, Quantity: 5, Price: 100, Fee: &fee, OccurredAt: t0},
		{OrderID: 2, ItemID: 11, Side: tptracker.SideBuy, Type: tptracker.EventPlaced, Quantity: 1, Price: 7, OccurredAt: t0},
		{OrderID: 3, ItemID: 12, Side: tptracker.SideBuy, Type: tptracker.EventPlaced, Quantity: 2, Price: 8, OccurredAt: t0},
		{OrderID: 2, ItemID: 11, Side: tptracker.SideBuy, Type: tptracker.EventCanceled, Quantity: 1, Price: 7, OccurredAt: t0.Add(time.Minute)},
	}
	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		for _, ev := range events {
			if _, err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	active, err := store.ListActivePlaced(ctx, tenant.ID)
	require.NoError(t, err)
	want := []tptracker.ActiveOrder{
		{OrderID: 1, ItemID: 10, Side: tptracker.SideSell, Quantity: 5, Price: 100, PlacedAt: t0},
		{OrderID: 3, ItemID: 12, Side: tptracker.SideBuy, Quantity: 2, Price: 8, PlacedAt: t0},
	}
	if diff := cmp.Diff(want, active); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}

	// A re-placement after a terminal event is active again.
	err = store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		_, err := tx.AppendEvent(ctx, tptracker.Event{OrderID: 2, ItemID: 11, Side: tptracker.SideBuy, Type: tptracker.EventPlaced, Quantity: 1, Price: 9, OccurredAt: t0.Add(2 * time.Minute)})
		return err
	})
	require.NoError(t, err)

	active, err = store.ListActivePlaced(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, int64(2), active[2].OrderID)
	require.Equal(t, int64(9), active[2].Price)

	history, err := store.ListEventsForOrder(ctx, tenant.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Nil(t, history[1].Fee)
}

func TestActivePlacedCarriesLastListing(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		for _, ev := range []tptracker.Event{
			{OrderID: 42, ItemID: 10, Side: tptracker.SideSell, Type: tptracker.EventPlaced, Quantity: 30, Price: 100, OccurredAt: t0},
			{OrderID: 43, ItemID: 11, Side: tptracker.SideBuy, Type: tptracker.EventPlaced, Quantity: 2, Price: 7, OccurredAt: t0},
		} {
			if _, err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return tx.UpsertOpenOrder(ctx, tptracker.OpenOrder{
			OrderID: 42, ItemID: 10, Side: tptracker.SideSell, UnitPrice: 100,
			QuantityTotal: 30, QuantityOpen: 10, CreatedAt: t0, UpdatedAt: t0, LastSeenAt: t0,
		})
	})
	require.NoError(t, err)

	active, err := store.ListActivePlaced(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, &tptracker.Listing{Quantity: 10, UnitPrice: 100}, active[0].LastListed)
	require.Nil(t, active[1].LastListed, "never stored as an open order")

	// Deleting the open row keeps the last listing visible.
	err = store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		return tx.DeleteOpenOrder(ctx, 42)
	})
	require.NoError(t, err)

	active, err = store.ListActivePlaced(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, &tptracker.Listing{Quantity: 10, UnitPrice: 100}, active[0].LastListed)
	qty, price := active[0].Remaining()
	require.Equal(t, int64(10), qty)
	require.Equal(t, int64(100), price)

	// A terminal event drops the kept listing.
	err = store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		_, err := tx.AppendEvent(ctx, tptracker.Event{OrderID: 42, ItemID: 10, Side: tptracker.SideSell, Type: tptracker.EventCanceled, Quantity: 10, Price: 100, OccurredAt: t0})
		return err
	})
	require.NoError(t, err)

	var kept int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM closed_orders").Scan(&kept))
	require.Zero(t, kept)
}

func TestPollRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	require.NoError(t, store.RecordPollRun(ctx, tptracker.PollRun{
		ID: "a", Tenant: tenant.ID, StartedAt: t0, FinishedAt: t0.Add(time.Second),
		Status: tptracker.PollOK, OrdersSeen: 3, FillsCreated: 1, EventsCreated: 2,
	}))
	require.NoError(t, store.RecordPollRun(ctx, tptracker.PollRun{
		ID: "b", Tenant: tenant.ID, StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(time.Minute + time.Second),
		Status: tptracker.PollFailed, ErrorKind: tptracker.ErrorKindUpstreamUnavailable, Error: "timeout",
	}))

	runs, err := store.ListPollRuns(ctx, tenant.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].ID)
	require.Equal(t, tptracker.ErrorKindUpstreamUnavailable, runs[0].ErrorKind)
	require.Equal(t, "timeout", runs[0].Error)
	require.Equal(t, "a", runs[1].ID)
	require.Equal(t, tptracker.ErrorKindNone, runs[1].ErrorKind)
	require.Equal(t, 3, runs[1].OrdersSeen)
}

func TestListFillsSinceAndLimit(t *testing.T) {
	t.Parallel()

	store := newTestStorage(t)
	ctx := context.Background()
	tenant := mustTenant(t, store, "alice")

	orderID := int64(42)
	err := store.WithTenantTx(ctx, tenant.ID, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.AppendFill(ctx, tptracker.Fill{
				OrderID: &orderID, ItemID: 10, Side: tptracker.SideSell,
				Quantity: int64(i + 1), UnitPrice: 100, ExchangeFee: int64(10 * (i + 1)),
				OccurredAt: t0.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	fills, err := store.ListFills(ctx, tenant.ID, t0.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, int64(2), fills[0].Quantity)
	require.Equal(t, tenant.ID, fills[0].Tenant)
	require.NotNil(t, fills[0].OrderID)

	forOrder, err := store.ListFillsForOrder(ctx, tenant.ID, 42)
	require.NoError(t, err)
	require.Len(t, forOrder, 3)
}

func TestLoggingDBTracesStatements(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := newTestStorageWithLogger(t, logger)

	_, err := store.EnsureTenant(context.Background(), "alice", "SECRET-KEY-VALUE")
	require.NoError(t, err)
	_, err = store.ListOpenOrders(context.Background(), 1)
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, `"query":"UpsertTenant"`)
	require.Contains(t, out, `"query":"ListOpenOrders"`)
	require.NotContains(t, out, "SECRET-KEY-VALUE")
}

func TestLogSinkBypassesStatementTracing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := newTestStorageWithLogger(t, logger)

	err := store.LogInsertFunc()(context.Background(), sqllogger.InsertLogEntryParams{
		TimestampMillis: t0.UnixMilli(),
		LevelText:       "INFO",
		Message:         "hello",
		AttrsJSON:       []byte("{}"),
	})
	require.NoError(t, err)
	require.Empty(t, buf.String())
}

func TestStatementName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "GetTenant", statementName("-- name: GetTenant :one\nSELECT 1"))
	require.Equal(t, "SELECT 1", statementName("SELECT 1"))
}
