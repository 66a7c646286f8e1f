// Package projector folds menu and inventory domain events into the
// per-tenant catalog read model. Events sharing a menu item id are applied
// strictly in arrival order via a fixed partition pool; items are otherwise
// independent and process in parallel.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/restomesh/fulfillment/internal/bus"
	"github.com/restomesh/fulfillment/internal/catalog"
	"github.com/restomesh/fulfillment/internal/contracts"
	"github.com/restomesh/fulfillment/internal/tenant"
)

// Config sizes the partition pool and optionally pins the projector to one
// tenant scope.
type Config struct {
	// Partitions is N, the ordering-domain size. Fixed per deploy.
	Partitions int

	// PrefetchFactor × Partitions bounds how many events sit queued across
	// all lanes. Kept above 1 so every lane stays fed.
	PrefetchFactor int

	// Scope, when set, drops events for any other tenant. A misrouted
	// event must not leak into this tenant's read model.
	Scope *tenant.Key
}

// Middleware wraps the per-event apply handler; the service wires the bus
// retry/dead-letter layer through this.
type Middleware func(bus.Handler) bus.Handler

// Projector consumes catalog events and maintains the read model.
type Projector struct {
	store catalog.Store
	scope *tenant.Key
	pool  *Pool

	now func() time.Time
}

// New builds a projector over store. mw may be nil.
func New(store catalog.Store, cfg Config, mw Middleware) *Projector {
	if cfg.Partitions < 1 {
		cfg.Partitions = 8
	}
	if cfg.PrefetchFactor < 1 {
		cfg.PrefetchFactor = 4
	}

	p := &Projector{
		store: store,
		scope: cfg.Scope,
		now:   time.Now,
	}

	apply := p.apply
	if mw != nil {
		apply = mw(apply)
	}
	p.pool = NewPool(cfg.Partitions, cfg.PrefetchFactor, apply)
	return p
}

// HandleMessage is the bus entry point. It must be called serially (runner
// concurrency 1): the single dispatching goroutine is what preserves
// per-item delivery order into the lanes. Validation failures are permanent;
// everything valid is routed to its partition.
func (p *Projector) HandleMessage(ctx context.Context, msg bus.Message) error {
	key, err := msg.Tenant()
	if err != nil {
		return bus.Permanent(err)
	}

	if p.scope != nil && key != *p.scope {
		slog.InfoContext(ctx, "event outside tenant scope skipped",
			"type", msg.Type, "tenant", key.String())
		return nil
	}

	itemID, err := menuItemID(msg)
	if err != nil {
		return bus.Permanent(err)
	}

	return p.pool.Dispatch(ctx, itemID, msg)
}

// Close flushes the partition lanes. Call after the consumer stops.
func (p *Projector) Close() {
	p.pool.Close()
}

// apply runs inside a single lane, so every call for a given item id is
// serialized: the store's read-modify-write cannot regress availability.
func (p *Projector) apply(ctx context.Context, msg bus.Message) error {
	key, err := msg.Tenant()
	if err != nil {
		return bus.Permanent(err)
	}
	ctx = tenant.NewContext(ctx, key)
	now := p.now().UTC()

	switch msg.Type {
	case contracts.TypeMenuItemCreated:
		var ev contracts.MenuItemCreated
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return p.applyMenu(ctx, key, ev.ID, catalog.MenuAttrs{
			Name: ev.Name, Category: ev.Category,
			BasePrice: ev.Price, MenuAvailable: ev.IsAvailable,
		}, now)

	case contracts.TypeMenuItemUpdated:
		var ev contracts.MenuItemUpdated
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return p.applyMenu(ctx, key, ev.ID, catalog.MenuAttrs{
			Name: ev.Name, Category: ev.Category,
			BasePrice: ev.Price, MenuAvailable: ev.IsAvailable,
		}, now)

	case contracts.TypeMenuItemDeleted:
		var ev contracts.MenuItemDeleted
		if err := decode(msg, &ev); err != nil {
			return err
		}
		itemKey := catalog.ItemKey{MenuItemID: ev.ID, Tenant: key}
		if err := p.store.Delete(ctx, itemKey); err != nil {
			return err
		}
		slog.InfoContext(ctx, "catalog item removed", "menu_item_id", ev.ID)
		return nil

	case contracts.TypeInventoryItemUpdated:
		var ev contracts.InventoryItemUpdated
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return p.applyInventory(ctx, key, ev.MenuItemID, catalog.InventoryAttrs{
			Quantity: ev.Quantity, InventoryAvailable: ev.IsAvailable,
		}, now)

	case contracts.TypeInventoryItemDepleted:
		var ev contracts.InventoryItemDepleted
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return p.applyInventory(ctx, key, ev.MenuItemID, catalog.InventoryAttrs{
			Quantity: ev.NewQuantity, InventoryAvailable: ev.IsAvailable,
		}, now)

	case contracts.TypeInventoryItemRestocked:
		var ev contracts.InventoryItemRestocked
		if err := decode(msg, &ev); err != nil {
			return err
		}
		return p.applyInventory(ctx, key, ev.MenuItemID, catalog.InventoryAttrs{
			Quantity: ev.NewQuantity, InventoryAvailable: ev.IsAvailable,
		}, now)

	default:
		return bus.Permanent(fmt.Errorf("projector: unknown event type %q", msg.Type))
	}
}

func (p *Projector) applyMenu(ctx context.Context, key tenant.Key, itemID string, attrs catalog.MenuAttrs, now time.Time) error {
	item, err := p.store.ApplyMenu(ctx, catalog.ItemKey{MenuItemID: itemID, Tenant: key}, attrs, now)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "menu fields projected",
		"menu_item_id", itemID, "available", item.IsAvailable)
	return nil
}

func (p *Projector) applyInventory(ctx context.Context, key tenant.Key, itemID string, attrs catalog.InventoryAttrs, now time.Time) error {
	item, err := p.store.ApplyInventory(ctx, catalog.ItemKey{MenuItemID: itemID, Tenant: key}, attrs, now)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "inventory fields projected",
		"menu_item_id", itemID, "quantity", attrs.Quantity, "available", item.IsAvailable)
	return nil
}

func decode(msg bus.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return bus.Permanent(fmt.Errorf("projector: decode %s: %w", msg.Type, err))
	}
	return nil
}

// menuItemID pulls the partition key out of the payload without fully
// decoding it. Menu events carry "id", inventory events "menu_item_id".
func menuItemID(msg bus.Message) (string, error) {
	var peek struct {
		ID         string `json:"id"`
		MenuItemID string `json:"menu_item_id"`
	}
	if err := json.Unmarshal(msg.Payload, &peek); err != nil {
		return "", fmt.Errorf("projector: decode %s: %w", msg.Type, err)
	}
	switch {
	case peek.MenuItemID != "":
		return peek.MenuItemID, nil
	case peek.ID != "":
		return peek.ID, nil
	default:
		return "", fmt.Errorf("projector: %s without a menu item id", msg.Type)
	}
}
