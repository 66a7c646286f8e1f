// Package readapi exposes the system's two read surfaces over HTTP: order
// status by correlation id, and the projected catalog (available-now and
// menu browse). It is strictly read-only: orders enter via the bus, never
// via HTTP, so it stays out of the write path entirely.
package readapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/restomesh/fulfillment/internal/catalog"
	"github.com/restomesh/fulfillment/internal/saga"
	"github.com/restomesh/fulfillment/internal/tenant"
)

// Handler serves the read endpoints. Either store may be nil; the router
// only mounts the routes whose backing store is present, so each binary
// exposes just its own half.
type Handler struct {
	sagas saga.Store
	items catalog.Store
}

func NewHandler(sagas saga.Store, items catalog.Store) *Handler {
	return &Handler{sagas: sagas, items: items}
}

// OrderStatusResponse is the customer-facing view of a saga instance.
type OrderStatusResponse struct {
	CorrelationID      string     `json:"correlation_id"`
	OrderID            string     `json:"order_id"`
	State              string     `json:"state"`
	Total              float64    `json:"total"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	LastUpdated        time.Time  `json:"last_updated"`
	InventoryCheckedAt *time.Time `json:"inventory_checked_at,omitempty"`
	PaymentProcessedAt *time.Time `json:"payment_processed_at,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// GetOrderStatus returns the persisted fulfillment state for one order.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "correlation_id_required", "")
		return
	}

	key, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	inst, err := h.sagas.Get(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, saga.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	// The order belongs to one tenant; anyone else gets the same 404 as a
	// nonexistent id so order ids do not leak across tenants.
	if inst.Tenant != key {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}

	writeJSON(w, http.StatusOK, OrderStatusResponse{
		CorrelationID:      inst.CorrelationID,
		OrderID:            inst.OrderID,
		State:              string(inst.CurrentState),
		Total:              inst.OrderTotal,
		SubmittedAt:        inst.SubmittedAt,
		LastUpdated:        inst.LastUpdated,
		InventoryCheckedAt: inst.InventoryCheckedAt,
		PaymentProcessedAt: inst.PaymentProcessedAt,
		ErrorMessage:       inst.ErrorMessage,
	})
}

// ListAvailable answers "what's available now" for the caller's tenant.
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	key, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	items, err := h.items.ListAvailable(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, itemsOrEmpty(items))
}

// Browse answers the menu-browse pattern with optional category and name
// prefix filters.
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	key, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	items, err := h.items.Browse(r.Context(), key,
		r.URL.Query().Get("category"),
		r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, itemsOrEmpty(items))
}

// tenantFromRequest derives the tenant from the same headers the bus uses.
// A request without both headers is rejected, mirroring the messaging rule.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) (tenant.Key, bool) {
	key, err := tenant.FromHeaders(map[string]string{
		tenant.HeaderRestaurantID: r.Header.Get(tenant.HeaderRestaurantID),
		tenant.HeaderLocationID:   r.Header.Get(tenant.HeaderLocationID),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "tenant_required",
			"both "+tenant.HeaderRestaurantID+" and "+tenant.HeaderLocationID+" headers are required")
		return tenant.Key{}, false
	}
	return key, true
}

func itemsOrEmpty(items []*catalog.Item) []*catalog.Item {
	if items == nil {
		return []*catalog.Item{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
