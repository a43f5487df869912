package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tptracker/tptracker/tptracker"
)

func TestTenantScopedAttachesTenant(t *testing.T) {
	store := newTestStorage(t)
	want, err := store.EnsureTenant(context.Background(), "alice", "k")
	require.NoError(t, err)

	h := NewHandler(store)
	var got tptracker.Tenant
	mux := http.NewServeMux()
	mux.HandleFunc("GET /t/{tenant}", h.tenantScoped(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = tenantFromContext(r.Context())
		require.True(t, ok, "tenant should be in context")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t/alice", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, "alice", got.Name)
}

func TestTenantFromContext(t *testing.T) {
	t.Run("returns false when not present", func(t *testing.T) {
		_, ok := tenantFromContext(context.Background())
		require.False(t, ok)
	})

	t.Run("returns false when wrong type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), requestTenantKey, "alice")
		_, ok := tenantFromContext(ctx)
		require.False(t, ok)
	})
}
