package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/restomesh/fulfillment/internal/tenant"
)

// MemoryStore is a map-backed Store for tests and local runs. Writes follow
// the same field-ownership and recompute rules as the SQLite store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[ItemKey]*Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[ItemKey]*Item)}
}

func (s *MemoryStore) ApplyMenu(_ context.Context, key ItemKey, attrs MenuAttrs, at time.Time) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.getOrCreate(key)
	item.Name = attrs.Name
	item.Category = attrs.Category
	item.BasePrice = attrs.BasePrice
	item.MenuAvailable = attrs.MenuAvailable
	item.UpdatedAt = at
	item.Recompute()

	out := *item
	return &out, nil
}

func (s *MemoryStore) ApplyInventory(_ context.Context, key ItemKey, attrs InventoryAttrs, at time.Time) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.getOrCreate(key)
	item.Quantity = attrs.Quantity
	item.InventoryAvailable = attrs.InventoryAvailable
	item.UpdatedAt = at
	item.Recompute()

	out := *item
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key ItemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key ItemKey) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrNotFound, key.MenuItemID, key.Tenant)
	}
	out := *item
	return &out, nil
}

func (s *MemoryStore) ListAvailable(_ context.Context, key tenant.Key) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Item
	for k, item := range s.items {
		if k.Tenant == key && item.IsAvailable {
			c := *item
			out = append(out, &c)
		}
	}
	sortItems(out)
	return out, nil
}

func (s *MemoryStore) Browse(_ context.Context, key tenant.Key, category, namePrefix string) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Item
	for k, item := range s.items {
		if k.Tenant != key {
			continue
		}
		if category != "" && item.Category != category {
			continue
		}
		if namePrefix != "" && !strings.HasPrefix(strings.ToLower(item.Name), strings.ToLower(namePrefix)) {
			continue
		}
		c := *item
		out = append(out, &c)
	}
	sortItems(out)
	return out, nil
}

// getOrCreate returns the stored row for key, creating it with identity
// fields set when the first event for that key arrives.
func (s *MemoryStore) getOrCreate(key ItemKey) *Item {
	if item, ok := s.items[key]; ok {
		return item
	}
	item := &Item{
		MenuItemID:   key.MenuItemID,
		RestaurantID: key.Tenant.RestaurantID,
		LocationID:   key.Tenant.LocationID,
	}
	s.items[key] = item
	return item
}

func sortItems(items []*Item) {
	sort.Slice(items, func(a, b int) bool {
		if items[a].Category != items[b].Category {
			return items[a].Category < items[b].Category
		}
		return items[a].Name < items[b].Name
	})
}
