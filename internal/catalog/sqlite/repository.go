// Package sqlite provides the SQLite-backed catalog read model store.
//
// Each write is a two-step read-modify-write inside one transaction: upsert
// the event family's own fields, then recompute is_available from the
// stored row. The per-key serial ordering guaranteed by the projector's
// partitioning is what makes this safe without row locks.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/restomesh/fulfillment/internal/catalog"
	"github.com/restomesh/fulfillment/internal/tenant"

	// Pure-Go SQLite driver, same choice as the saga store.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pos_catalog_items (
    menu_item_id         TEXT NOT NULL,
    restaurant_id        TEXT NOT NULL,
    location_id          TEXT NOT NULL,

    -- Menu-owned fields.
    name                 TEXT NOT NULL DEFAULT '',
    category             TEXT NOT NULL DEFAULT '',
    base_price           REAL NOT NULL DEFAULT 0,
    menu_available       INTEGER NOT NULL DEFAULT 0,

    -- Inventory-owned fields.
    quantity             INTEGER NOT NULL DEFAULT 0,
    inventory_available  INTEGER NOT NULL DEFAULT 0,

    -- Derived: always recomputed from the three fields above, never
    -- written straight from an event payload.
    is_available         INTEGER NOT NULL DEFAULT 0,

    updated_at           TEXT NOT NULL,

    PRIMARY KEY (menu_item_id, restaurant_id, location_id)
);

-- "What's available now" per tenant.
CREATE INDEX IF NOT EXISTS idx_catalog_available
    ON pos_catalog_items(restaurant_id, location_id, is_available);

-- Menu browse per tenant.
CREATE INDEX IF NOT EXISTS idx_catalog_browse
    ON pos_catalog_items(restaurant_id, location_id, category, name);
`

// Store is the SQLite implementation of catalog.Store.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ApplyMenu(ctx context.Context, key catalog.ItemKey, attrs catalog.MenuAttrs, at time.Time) (*catalog.Item, error) {
	const upsert = `
		INSERT INTO pos_catalog_items
			(menu_item_id, restaurant_id, location_id,
			 name, category, base_price, menu_available, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (menu_item_id, restaurant_id, location_id) DO UPDATE SET
			name           = excluded.name,
			category       = excluded.category,
			base_price     = excluded.base_price,
			menu_available = excluded.menu_available,
			updated_at     = excluded.updated_at`

	return s.write(ctx, key, upsert,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID,
		attrs.Name, attrs.Category, attrs.BasePrice, boolInt(attrs.MenuAvailable),
		formatTime(at))
}

func (s *Store) ApplyInventory(ctx context.Context, key catalog.ItemKey, attrs catalog.InventoryAttrs, at time.Time) (*catalog.Item, error) {
	const upsert = `
		INSERT INTO pos_catalog_items
			(menu_item_id, restaurant_id, location_id,
			 quantity, inventory_available, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (menu_item_id, restaurant_id, location_id) DO UPDATE SET
			quantity            = excluded.quantity,
			inventory_available = excluded.inventory_available,
			updated_at          = excluded.updated_at`

	return s.write(ctx, key, upsert,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID,
		attrs.Quantity, boolInt(attrs.InventoryAvailable),
		formatTime(at))
}

// write runs the family-scoped upsert, then the availability recompute
// against the stored row, then reads the result back, all in one
// transaction so readers never observe a write without its recompute.
func (s *Store) write(ctx context.Context, key catalog.ItemKey, upsert string, args ...any) (*catalog.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin write for %q: %w", key.MenuItemID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return nil, fmt.Errorf("sqlite: upsert %q: %w", key.MenuItemID, err)
	}

	const recompute = `
		UPDATE pos_catalog_items
		SET    is_available = (menu_available AND inventory_available AND quantity > 0)
		WHERE  menu_item_id = ? AND restaurant_id = ? AND location_id = ?`
	if _, err := tx.ExecContext(ctx, recompute,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID); err != nil {
		return nil, fmt.Errorf("sqlite: recompute %q: %w", key.MenuItemID, err)
	}

	item, err := scanItem(tx.QueryRowContext(ctx, selectOne,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: read back %q: %w", key.MenuItemID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit %q: %w", key.MenuItemID, err)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key catalog.ItemKey) error {
	const q = `
		DELETE FROM pos_catalog_items
		WHERE menu_item_id = ? AND restaurant_id = ? AND location_id = ?`

	if _, err := s.db.ExecContext(ctx, q,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID); err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", key.MenuItemID, err)
	}
	return nil
}

const selectColumns = `
	SELECT menu_item_id, restaurant_id, location_id, name, category,
	       base_price, menu_available, quantity, inventory_available,
	       is_available, updated_at
	FROM   pos_catalog_items`

const selectOne = selectColumns + `
	WHERE menu_item_id = ? AND restaurant_id = ? AND location_id = ?`

func (s *Store) Get(ctx context.Context, key catalog.ItemKey) (*catalog.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, selectOne,
		key.MenuItemID, key.Tenant.RestaurantID, key.Tenant.LocationID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s for %s", catalog.ErrNotFound, key.MenuItemID, key.Tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", key.MenuItemID, err)
	}
	return item, nil
}

func (s *Store) ListAvailable(ctx context.Context, key tenant.Key) ([]*catalog.Item, error) {
	const q = selectColumns + `
		WHERE restaurant_id = ? AND location_id = ? AND is_available = 1
		ORDER BY category, name`

	return s.query(ctx, q, key.RestaurantID, key.LocationID)
}

func (s *Store) Browse(ctx context.Context, key tenant.Key, category, namePrefix string) ([]*catalog.Item, error) {
	q := selectColumns + ` WHERE restaurant_id = ? AND location_id = ?`
	args := []any{key.RestaurantID, key.LocationID}

	if category != "" {
		q += ` AND category = ?`
		args = append(args, category)
	}
	if namePrefix != "" {
		q += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(namePrefix)+"%")
	}
	q += ` ORDER BY category, name`

	return s.query(ctx, q, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query catalog: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query catalog: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query catalog: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*catalog.Item, error) {
	var (
		item      catalog.Item
		menuAvail int
		invAvail  int
		isAvail   int
		updatedAt string
	)
	err := row.Scan(
		&item.MenuItemID,
		&item.RestaurantID,
		&item.LocationID,
		&item.Name,
		&item.Category,
		&item.BasePrice,
		&menuAvail,
		&item.Quantity,
		&invAvail,
		&isAvail,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.MenuAvailable = menuAvail != 0
	item.InventoryAvailable = invAvail != 0
	item.IsAvailable = isAvail != 0
	if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse time %q: %w", updatedAt, err)
	}
	return &item, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike guards LIKE metacharacters in user-supplied prefixes.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
