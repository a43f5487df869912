package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/tptracker/tptracker/storage"
	"github.com/tptracker/tptracker/tptracker"
)

type tenantContextKey struct{}

var requestTenantKey = tenantContextKey{}

// tenantScoped resolves the {tenant} path segment and attaches the tenant to
// the request context. Unknown tenants get a 404 before next runs.
func (h *Handler) tenantScoped(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var name string
		err := runtime.BindStyledParameterWithOptions("simple", "tenant", r.PathValue("tenant"), &name, runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		tenant, err := h.store.GetTenantByName(r.Context(), name)
		if err != nil {
			if errors.Is(err, storage.ErrTenantNotFound) {
				h.writeError(w, r, http.StatusNotFound, err)
				return
			}
			h.logger.ErrorContext(r.Context(), "resolve tenant", slog.String("tenant", name), slog.String("error", err.Error()))
			h.writeError(w, r, http.StatusInternalServerError, err)
			return
		}

		ctx := context.WithValue(r.Context(), requestTenantKey, tenant)
		next(w, r.WithContext(ctx))
	}
}

func tenantFromContext(ctx context.Context) (tptracker.Tenant, bool) {
	tenant, ok := ctx.Value(requestTenantKey).(tptracker.Tenant)
	return tenant, ok
}
