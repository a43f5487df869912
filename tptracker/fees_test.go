package tptracker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListingFee(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		side  Side
		price int64
		qty   int64
		want  int64
	}{
		{name: "sell", side: SideSell, price: 100, qty: 50, want: 250},
		{name: "sell truncates", side: SideSell, price: 33, qty: 1, want: 1},
		{name: "sell below one", side: SideSell, price: 19, qty: 1, want: 0},
		{name: "buy", side: SideBuy, price: 100, qty: 50, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ListingFee(tc.side, tc.price, tc.qty))
		})
	}
}

func TestExchangeFee(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(200), ExchangeFee(SideSell, 100, 20))
	require.Equal(t, int64(0), ExchangeFee(SideBuy, 100, 20))
	require.Equal(t, int64(1), ExchangeFee(SideSell, 19, 1))
	require.Equal(t, int64(0), ExchangeFee(SideSell, 9, 1))
}

func TestEventTypeTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, EventPlaced.Terminal())
	require.True(t, EventFilled.Terminal())
	require.True(t, EventCanceled.Terminal())
	require.True(t, EventRelisted.Terminal())
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: ErrorKindNone},
		{err: fmt.Errorf("fetch: %w", ErrUpstreamUnavailable), want: ErrorKindUpstreamUnavailable},
		{err: fmt.Errorf("sells[0]: %w", ErrInconsistentSnapshot), want: ErrorKindInconsistentSnapshot},
		{err: errors.Join(ErrStoreTransaction, errors.New("disk I/O error")), want: ErrorKindStoreTransaction},
		{err: errors.New("boom"), want: ErrorKindOther},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyError(tc.err), "err=%v", tc.err)
	}
}

func TestKeyFingerprint(t *testing.T) {
	t.Parallel()

	a := KeyFingerprint("6E4D8A1C-secret")
	require.Len(t, a, 4)
	require.Equal(t, a, KeyFingerprint("6E4D8A1C-secret"))
	require.NotContains(t, a, "secret")
	require.Equal(t, "none", KeyFingerprint(""))
}
