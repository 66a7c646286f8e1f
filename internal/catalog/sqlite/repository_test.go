package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/restomesh/fulfillment/internal/catalog"
	"github.com/restomesh/fulfillment/internal/tenant"
)

var testTenant = tenant.Key{RestaurantID: "r-1", LocationID: "l-1"}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func key(id string) catalog.ItemKey {
	return catalog.ItemKey{MenuItemID: id, Tenant: testTenant}
}

func TestMenuThenInventoryUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	item, err := s.ApplyMenu(ctx, key("burger"), catalog.MenuAttrs{
		Name: "Burger", Category: "mains", BasePrice: 9.5, MenuAvailable: true,
	}, now)
	if err != nil {
		t.Fatalf("apply menu: %v", err)
	}
	if item.IsAvailable {
		t.Error("available before any inventory arrived")
	}
	if item.RestaurantID != "r-1" || item.LocationID != "l-1" {
		t.Errorf("identity not set on insert: %+v", item)
	}

	item, err = s.ApplyInventory(ctx, key("burger"), catalog.InventoryAttrs{
		Quantity: 6, InventoryAvailable: true,
	}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("apply inventory: %v", err)
	}
	if item.Name != "Burger" || item.BasePrice != 9.5 {
		t.Errorf("inventory upsert clobbered menu fields: %+v", item)
	}
	if !item.IsAvailable {
		t.Errorf("expected available, got %+v", item)
	}
	if !item.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("UpdatedAt not advanced: %v", item.UpdatedAt)
	}
}

func TestInventoryFirstInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item, err := s.ApplyInventory(ctx, key("soup"), catalog.InventoryAttrs{
		Quantity: 10, InventoryAvailable: true,
	}, now)
	if err != nil {
		t.Fatalf("apply inventory: %v", err)
	}
	// Row exists with menu fields at zero values; not available until the
	// menu side says so.
	if item.Name != "" || item.MenuAvailable {
		t.Errorf("unexpected menu fields on inventory-first insert: %+v", item)
	}
	if item.IsAvailable {
		t.Error("available without menu state")
	}

	item, err = s.ApplyMenu(ctx, key("soup"), catalog.MenuAttrs{
		Name: "Soup", Category: "starters", BasePrice: 4, MenuAvailable: true,
	}, now)
	if err != nil {
		t.Fatalf("apply menu: %v", err)
	}
	if item.Quantity != 10 || !item.IsAvailable {
		t.Errorf("menu upsert lost inventory fields: %+v", item)
	}
}

func TestRecomputeFromStoredValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = s.ApplyMenu(ctx, key("burger"), catalog.MenuAttrs{Name: "Burger", MenuAvailable: true}, now)
	_, _ = s.ApplyInventory(ctx, key("burger"), catalog.InventoryAttrs{Quantity: 5, InventoryAvailable: true}, now)

	item, err := s.ApplyInventory(ctx, key("burger"), catalog.InventoryAttrs{
		Quantity: 0, InventoryAvailable: true,
	}, now)
	if err != nil {
		t.Fatalf("apply inventory: %v", err)
	}
	if item.IsAvailable {
		t.Error("zero quantity must flip the derived flag regardless of the event's own flag")
	}
}

func TestDeleteAndQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = s.ApplyMenu(ctx, key("burger"), catalog.MenuAttrs{Name: "Burger", Category: "mains", MenuAvailable: true}, now)
	_, _ = s.ApplyInventory(ctx, key("burger"), catalog.InventoryAttrs{Quantity: 2, InventoryAvailable: true}, now)
	_, _ = s.ApplyMenu(ctx, key("soup"), catalog.MenuAttrs{Name: "Soup", Category: "starters", MenuAvailable: true}, now)

	available, err := s.ListAvailable(ctx, testTenant)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 1 || available[0].MenuItemID != "burger" {
		t.Errorf("expected only burger available, got %+v", available)
	}

	all, err := s.Browse(ctx, testTenant, "", "")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rows, got %d", len(all))
	}

	mains, _ := s.Browse(ctx, testTenant, "mains", "bur")
	if len(mains) != 1 || mains[0].MenuItemID != "burger" {
		t.Errorf("browse filter failed: %+v", mains)
	}

	if err := s.Delete(ctx, key("burger")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, key("burger")); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, key("burger")); err != nil {
		t.Errorf("deleting a missing row should be a no-op, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	other := catalog.ItemKey{MenuItemID: "burger", Tenant: tenant.Key{RestaurantID: "r-2", LocationID: "l-1"}}

	_, _ = s.ApplyMenu(ctx, key("burger"), catalog.MenuAttrs{Name: "Burger", MenuAvailable: true}, now)
	_, _ = s.ApplyInventory(ctx, key("burger"), catalog.InventoryAttrs{Quantity: 1, InventoryAvailable: true}, now)
	_, _ = s.ApplyMenu(ctx, other, catalog.MenuAttrs{Name: "Other Burger", MenuAvailable: true}, now)

	got, err := s.Get(ctx, other)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Other Burger" || got.Quantity != 0 {
		t.Errorf("tenant rows bled into each other: %+v", got)
	}

	available, _ := s.ListAvailable(ctx, other.Tenant)
	if len(available) != 0 {
		t.Errorf("expected nothing available for r-2, got %+v", available)
	}
}
