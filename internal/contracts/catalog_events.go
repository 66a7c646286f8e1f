package contracts

// Catalog domain events consumed by the projector. Menu events own the
// name/category/price/menu-availability fields; inventory events own the
// quantity/inventory-availability fields. The projector never trusts an
// event to carry the whole row.

type MenuItemCreated struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	IsAvailable  bool    `json:"is_available"`
	RestaurantID string  `json:"restaurant_id"`
	LocationID   string  `json:"location_id"`
}

type MenuItemUpdated struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	IsAvailable  bool    `json:"is_available"`
	RestaurantID string  `json:"restaurant_id"`
	LocationID   string  `json:"location_id"`
}

type MenuItemDeleted struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurant_id"`
	LocationID   string `json:"location_id"`
}

type InventoryItemUpdated struct {
	MenuItemID   string `json:"menu_item_id"`
	Quantity     int    `json:"quantity"`
	IsAvailable  bool   `json:"is_available"`
	RestaurantID string `json:"restaurant_id"`
	LocationID   string `json:"location_id"`
}

type InventoryItemDepleted struct {
	MenuItemID   string `json:"menu_item_id"`
	NewQuantity  int    `json:"new_quantity"`
	IsAvailable  bool   `json:"is_available"`
	RestaurantID string `json:"restaurant_id"`
	LocationID   string `json:"location_id"`
}

type InventoryItemRestocked struct {
	MenuItemID   string `json:"menu_item_id"`
	NewQuantity  int    `json:"new_quantity"`
	IsAvailable  bool   `json:"is_available"`
	RestaurantID string `json:"restaurant_id"`
	LocationID   string `json:"location_id"`
}

const (
	TypeMenuItemCreated        = "MenuItemCreated"
	TypeMenuItemUpdated        = "MenuItemUpdated"
	TypeMenuItemDeleted        = "MenuItemDeleted"
	TypeInventoryItemUpdated   = "InventoryItemUpdated"
	TypeInventoryItemDepleted  = "InventoryItemDepleted"
	TypeInventoryItemRestocked = "InventoryItemRestocked"
)
