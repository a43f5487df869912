// Package api serves read-only JSON views over the tracked tenants.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/tptracker/tptracker/gw2"
	"github.com/tptracker/tptracker/tptracker"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Store abstracts the bits of storage.Storage surfaced via the API.
type Store interface {
	ListTenants(ctx context.Context) ([]tptracker.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (tptracker.Tenant, error)
	ListOpenOrders(ctx context.Context, tenant tptracker.TenantID) ([]tptracker.OpenOrder, error)
	ListFills(ctx context.Context, tenant tptracker.TenantID, since time.Time, limit int) ([]tptracker.Fill, error)
	ListEvents(ctx context.Context, tenant tptracker.TenantID, limit int) ([]tptracker.Event, error)
	ListEventsForOrder(ctx context.Context, tenant tptracker.TenantID, orderID int64) ([]tptracker.Event, error)
	ListPollRuns(ctx context.Context, tenant tptracker.TenantID, limit int) ([]tptracker.PollRun, error)
}

// DeliverySource fetches the live delivery box for an API key.
type DeliverySource interface {
	Delivery(ctx context.Context, apiKey string) (gw2.Delivery, error)
}

// Handler serves the query endpoints.
type Handler struct {
	store    Store
	delivery DeliverySource
	logger   *slog.Logger
}

// HandlerOption configures Handler optional dependencies.
type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithDeliverySource enables the delivery passthrough endpoint.
func WithDeliverySource(source DeliverySource) HandlerOption {
	return func(h *Handler) {
		h.delivery = source
	}
}

func NewHandler(store Store, opts ...HandlerOption) *Handler {
	h := &Handler{store: store}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.WithGroup("api")
	return h
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tenants", h.ListTenants)
	mux.HandleFunc("GET /api/tenants/{tenant}/open-orders", h.tenantScoped(h.ListOpenOrders))
	mux.HandleFunc("GET /api/tenants/{tenant}/fills", h.tenantScoped(h.ListFills))
	mux.HandleFunc("GET /api/tenants/{tenant}/events", h.tenantScoped(h.ListEvents))
	mux.HandleFunc("GET /api/tenants/{tenant}/polls", h.tenantScoped(h.ListPollRuns))
	mux.HandleFunc("GET /api/tenants/{tenant}/delivery", h.tenantScoped(h.GetDelivery))
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		h.internalError(w, r, "list tenants", err)
		return
	}
	items := make([]TenantRecord, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, makeTenantRecord(t))
	}
	h.writeJSON(w, http.StatusOK, ListResponse[TenantRecord]{Items: items})
}

func (h *Handler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())

	rows, err := h.store.ListOpenOrders(r.Context(), tenant.ID)
	if err != nil {
		h.internalError(w, r, "list open orders", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[OpenOrderRecord]{Items: makeOpenOrderRecords(rows)})
}

// ListFillsParams are the query parameters of ListFills.
type ListFillsParams struct {
	Limit *int32     `form:"limit,omitempty" json:"limit,omitempty"`
	Since *time.Time `form:"since,omitempty" json:"since,omitempty"`
}

func (h *Handler) ListFills(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())

	var params ListFillsParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "since", query, &params.Since); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var since time.Time
	if params.Since != nil {
		since = params.Since.UTC()
	}

	rows, err := h.store.ListFills(r.Context(), tenant.ID, since, clampPageSize(params.Limit))
	if err != nil {
		h.internalError(w, r, "list fills", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[FillRecord]{Items: makeFillRecords(rows)})
}

// ListEventsParams are the query parameters of ListEvents.
type ListEventsParams struct {
	Limit   *int32 `form:"limit,omitempty" json:"limit,omitempty"`
	OrderId *int64 `form:"order_id,omitempty" json:"order_id,omitempty"`
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())

	var params ListEventsParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "order_id", query, &params.OrderId); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var (
		rows []tptracker.Event
		err  error
	)
	if params.OrderId != nil {
		rows, err = h.store.ListEventsForOrder(r.Context(), tenant.ID, *params.OrderId)
	} else {
		rows, err = h.store.ListEvents(r.Context(), tenant.ID, clampPageSize(params.Limit))
	}
	if err != nil {
		h.internalError(w, r, "list events", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[EventRecord]{Items: makeEventRecords(rows)})
}

// ListPollRunsParams are the query parameters of ListPollRuns.
type ListPollRunsParams struct {
	Limit *int32 `form:"limit,omitempty" json:"limit,omitempty"`
}

func (h *Handler) ListPollRuns(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())

	var params ListPollRunsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	rows, err := h.store.ListPollRuns(r.Context(), tenant.ID, clampPageSize(params.Limit))
	if err != nil {
		h.internalError(w, r, "list poll runs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListResponse[PollRunRecord]{Items: makePollRunRecords(rows)})
}

// GetDelivery proxies the tenant's delivery box. Nothing is persisted.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())

	if h.delivery == nil {
		h.writeError(w, r, http.StatusNotImplemented, errors.New("delivery source not configured"))
		return
	}

	delivery, err := h.delivery.Delivery(r.Context(), tenant.APIKey)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tptracker.ErrUpstreamUnavailable):
			status = http.StatusBadGateway
		case errors.Is(err, tptracker.ErrInconsistentSnapshot):
			status = http.StatusBadGateway
		}
		h.logger.WarnContext(r.Context(), "fetch delivery",
			slog.String("tenant", tenant.Name),
			slog.String("key", tptracker.KeyFingerprint(tenant.APIKey)),
			slog.String("error", err.Error()),
		)
		h.writeError(w, r, status, err)
		return
	}
	h.writeJSON(w, http.StatusOK, makeDeliveryRecord(delivery))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op, slog.String("error", err.Error()))
	h.writeError(w, r, http.StatusInternalServerError, errors.New(http.StatusText(http.StatusInternalServerError)))
}

func (h *Handler) writeError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response", slog.String("error", err.Error()))
	}
}

func clampPageSize(v *int32) int {
	if v == nil || *v <= 0 {
		return defaultPageSize
	}
	if *v > maxPageSize {
		return maxPageSize
	}
	return int(*v)
}
