package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/restomesh/fulfillment/internal/pkg/cache"
	"github.com/restomesh/fulfillment/internal/tenant"
)

const availableOp = "available"

// CachedStore wraps a Store with a read-through cache on ListAvailable, the
// hottest query. Writes pass through and invalidate the tenant's entry, so
// the cache can only ever be stale for the TTL after an eviction race,
// acceptable for an eventually-consistent read model. All other operations
// delegate untouched.
type CachedStore struct {
	Store
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedStore(store Store, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: store, cache: c, ttl: ttl}
}

func (s *CachedStore) ApplyMenu(ctx context.Context, key ItemKey, attrs MenuAttrs, at time.Time) (*Item, error) {
	item, err := s.Store.ApplyMenu(ctx, key, attrs, at)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key.Tenant)
	return item, nil
}

func (s *CachedStore) ApplyInventory(ctx context.Context, key ItemKey, attrs InventoryAttrs, at time.Time) (*Item, error) {
	item, err := s.Store.ApplyInventory(ctx, key, attrs, at)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key.Tenant)
	return item, nil
}

func (s *CachedStore) Delete(ctx context.Context, key ItemKey) error {
	if err := s.Store.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key.Tenant)
	return nil
}

func (s *CachedStore) ListAvailable(ctx context.Context, key tenant.Key) ([]*Item, error) {
	cacheKey := s.cache.GenerateKey(availableOp, key.String())

	if raw, err := s.cache.Get(ctx, cacheKey); err == nil && raw != "" {
		var items []*Item
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return items, nil
		}
		// Corrupt entry; fall through to the store and overwrite it.
	} else if err != nil {
		// Cache trouble never fails a read; the store answers.
		slog.WarnContext(ctx, "availability cache read failed", "error", err)
	}

	items, err := s.Store.ListAvailable(ctx, key)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(items); err == nil {
		if err := s.cache.Set(ctx, cacheKey, string(raw), s.ttl); err != nil {
			slog.WarnContext(ctx, "availability cache write failed", "error", err)
		}
	}
	return items, nil
}

func (s *CachedStore) invalidate(ctx context.Context, key tenant.Key) {
	cacheKey := s.cache.GenerateKey(availableOp, key.String())
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		slog.WarnContext(ctx, "availability cache invalidation failed", "error", err)
	}
}
