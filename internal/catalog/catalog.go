// Package catalog holds the projected point-of-sale catalog read model: one
// compact row per menu item per tenant, folded from menu and inventory
// domain events and optimized for the two read patterns "what's available
// now" and "menu browse".
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/restomesh/fulfillment/internal/tenant"
)

// ErrNotFound marks a lookup against a projection row that does not exist.
var ErrNotFound = errors.New("catalog: item not found")

// ItemKey identifies one projection row.
type ItemKey struct {
	MenuItemID string
	Tenant     tenant.Key
}

// Item is the PosCatalogItem row. Menu events own Name, Category, BasePrice
// and MenuAvailable; inventory events own Quantity and InventoryAvailable.
// IsAvailable is derived and never written directly by an event handler.
type Item struct {
	MenuItemID         string    `json:"menu_item_id"`
	RestaurantID       string    `json:"restaurant_id"`
	LocationID         string    `json:"location_id"`
	Name               string    `json:"name"`
	Category           string    `json:"category"`
	BasePrice          float64   `json:"base_price"`
	Quantity           int       `json:"quantity"`
	InventoryAvailable bool      `json:"inventory_available"`
	MenuAvailable      bool      `json:"menu_available"`
	IsAvailable        bool      `json:"is_available"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Recompute derives IsAvailable from the current stored values. Every store
// implementation must call this after any write touching the row, so the
// flag always reflects menu and inventory state together even though the two
// arrive via different event types.
func (i *Item) Recompute() {
	i.IsAvailable = i.MenuAvailable && i.InventoryAvailable && i.Quantity > 0
}

// MenuAttrs are the fields owned by the menu event family.
type MenuAttrs struct {
	Name          string
	Category      string
	BasePrice     float64
	MenuAvailable bool
}

// InventoryAttrs are the fields owned by the inventory event family.
type InventoryAttrs struct {
	Quantity           int
	InventoryAvailable bool
}

// Store persists projection rows with per-key upsert semantics. ApplyMenu
// and ApplyInventory each set only the fields their event family owns;
// whichever arrives first creates the row, with the other family's fields at
// their zero values until its first event lands. Both recompute IsAvailable
// from the now-current stored values before returning the written row.
//
// No multi-key transactions: each row is independently consistent after its
// own read-modify-write, which is all the projector's per-key ordering needs.
type Store interface {
	ApplyMenu(ctx context.Context, key ItemKey, attrs MenuAttrs, at time.Time) (*Item, error)
	ApplyInventory(ctx context.Context, key ItemKey, attrs InventoryAttrs, at time.Time) (*Item, error)

	// Delete removes the row entirely. Only an explicit menu-deletion
	// event triggers it; deleting a missing row is a no-op.
	Delete(ctx context.Context, key ItemKey) error

	Get(ctx context.Context, key ItemKey) (*Item, error)

	// ListAvailable answers "what's available now" for one tenant.
	ListAvailable(ctx context.Context, key tenant.Key) ([]*Item, error)

	// Browse answers the menu-browse pattern: tenant plus optional
	// category and name-prefix filters, ordered by category then name.
	Browse(ctx context.Context, key tenant.Key, category, namePrefix string) ([]*Item, error)
}
