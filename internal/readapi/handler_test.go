package readapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/restomesh/fulfillment/internal/catalog"
	"github.com/restomesh/fulfillment/internal/saga"
	"github.com/restomesh/fulfillment/internal/tenant"
)

var testTenant = tenant.Key{RestaurantID: "r-1", LocationID: "l-1"}

func tenantHeaders(req *http.Request, key tenant.Key) {
	req.Header.Set(tenant.HeaderRestaurantID, key.RestaurantID)
	req.Header.Set(tenant.HeaderLocationID, key.LocationID)
}

func seedSaga(t *testing.T, store saga.Store) {
	t.Helper()
	now := time.Now().UTC()
	processed := now
	err := store.Create(context.Background(), &saga.Instance{
		CorrelationID:      "order-1",
		Version:            3,
		Tenant:             testTenant,
		CurrentState:       saga.StateCompleted,
		OrderID:            "order-1",
		OrderTotal:         24.5,
		SubmittedAt:        now,
		LastUpdated:        now,
		PaymentProcessedAt: &processed,
	})
	if err != nil {
		t.Fatalf("seed saga: %v", err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	sagas := saga.NewMemoryStore()
	seedSaga(t, sagas)
	router := NewRouter(NewHandler(sagas, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	tenantHeaders(req, testTenant)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp OrderStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != string(saga.StateCompleted) || resp.Total != 24.5 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.PaymentProcessedAt == nil {
		t.Error("expected payment timestamp in response")
	}
}

func TestGetOrderStatusWrongTenantIs404(t *testing.T) {
	sagas := saga.NewMemoryStore()
	seedSaga(t, sagas)
	router := NewRouter(NewHandler(sagas, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	tenantHeaders(req, tenant.Key{RestaurantID: "r-2", LocationID: "l-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign tenant should see 404, got %d", rec.Code)
	}
}

func TestGetOrderStatusMissingTenant(t *testing.T) {
	sagas := saga.NewMemoryStore()
	seedSaga(t, sagas)
	router := NewRouter(NewHandler(sagas, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing tenant headers should be 400, got %d", rec.Code)
	}
}

func TestGetOrderStatusUnknownID(t *testing.T) {
	router := NewRouter(NewHandler(saga.NewMemoryStore(), nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/ghost", nil)
	tenantHeaders(req, testTenant)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	items := catalog.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	k := catalog.ItemKey{MenuItemID: "burger", Tenant: testTenant}
	_, _ = items.ApplyMenu(ctx, k, catalog.MenuAttrs{Name: "Burger", Category: "mains", MenuAvailable: true}, now)
	_, _ = items.ApplyInventory(ctx, k, catalog.InventoryAttrs{Quantity: 3, InventoryAvailable: true}, now)
	k2 := catalog.ItemKey{MenuItemID: "soup", Tenant: testTenant}
	_, _ = items.ApplyMenu(ctx, k2, catalog.MenuAttrs{Name: "Soup", Category: "starters", MenuAvailable: false}, now)

	router := NewRouter(NewHandler(nil, items))

	req := httptest.NewRequest(http.MethodGet, "/catalog/available", nil)
	tenantHeaders(req, testTenant)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var available []catalog.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &available); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(available) != 1 || available[0].MenuItemID != "burger" {
		t.Errorf("unexpected available list: %+v", available)
	}

	req = httptest.NewRequest(http.MethodGet, "/catalog/browse?category=starters", nil)
	tenantHeaders(req, testTenant)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var browse []catalog.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &browse); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(browse) != 1 || browse[0].MenuItemID != "soup" {
		t.Errorf("unexpected browse result: %+v", browse)
	}
}

func TestRoutesNotMountedWithoutStore(t *testing.T) {
	router := NewRouter(NewHandler(nil, catalog.NewMemoryStore()))

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	tenantHeaders(req, testTenant)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("order route should not exist on the catalog binary, got %d", rec.Code)
	}
}
