// Package sqlite provides a SQLite-backed implementation of saga.Store.
//
// WAL mode is enabled on Open so readers never block writers and vice versa:
// the consumer goroutines write transitions while the status endpoint reads.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/restomesh/fulfillment/internal/saga"
	"github.com/restomesh/fulfillment/internal/tenant"

	// Register the pure-Go SQLite driver. No CGO, so the service builds
	// and runs in a plain Alpine container.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. One row per saga instance,
// keyed by correlation id. The version column is the optimistic-concurrency
// guard: every UPDATE carries "AND version = ?" so a concurrent handler that
// already advanced the instance makes this handler's write a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS saga_instances (
    -- Stable identity used for all event correlation.
    correlation_id        TEXT PRIMARY KEY,

    -- Monotonic counter, incremented on every persisted transition.
    version               INTEGER NOT NULL,

    -- Tenant identity, set at creation and enforced on every event.
    restaurant_id         TEXT NOT NULL,
    location_id           TEXT NOT NULL,

    current_state         TEXT NOT NULL,

    order_id              TEXT NOT NULL,
    -- JSON array of {menu_item_id, quantity}.
    items                 TEXT NOT NULL DEFAULT '[]',
    order_total           REAL NOT NULL DEFAULT 0,

    -- Audit trail. RFC3339 stored as TEXT, SQLite idiom.
    submitted_at          TEXT NOT NULL,
    last_updated          TEXT NOT NULL,
    inventory_checked_at  TEXT,
    payment_processed_at  TEXT,

    -- Populated only on rejection paths.
    error_message         TEXT
);

-- Supports re-arming payment timeouts after a restart.
CREATE INDEX IF NOT EXISTS idx_saga_instances_state ON saga_instances(current_state);
`

// Store is the SQLite implementation of saga.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
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

func (s *Store) Create(ctx context.Context, inst *saga.Instance) error {
	items, err := json.Marshal(inst.Items)
	if err != nil {
		return fmt.Errorf("sqlite: marshal items for %q: %w", inst.CorrelationID, err)
	}

	const q = `
		INSERT INTO saga_instances
			(correlation_id, version, restaurant_id, location_id, current_state,
			 order_id, items, order_total, submitted_at, last_updated,
			 inventory_checked_at, payment_processed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, q,
		inst.CorrelationID,
		inst.Version,
		inst.Tenant.RestaurantID,
		inst.Tenant.LocationID,
		string(inst.CurrentState),
		inst.OrderID,
		string(items),
		inst.OrderTotal,
		formatTime(inst.SubmittedAt),
		formatTime(inst.LastUpdated),
		nullableTime(inst.InventoryCheckedAt),
		nullableTime(inst.PaymentProcessedAt),
		nullableString(inst.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create saga %q: %w", inst.CorrelationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", saga.ErrAlreadyExists, inst.CorrelationID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, correlationID string) (*saga.Instance, error) {
	const q = `
		SELECT correlation_id, version, restaurant_id, location_id, current_state,
		       order_id, items, order_total, submitted_at, last_updated,
		       inventory_checked_at, payment_processed_at, error_message
		FROM   saga_instances
		WHERE  correlation_id = ?`

	inst, err := scanInstance(s.db.QueryRowContext(ctx, q, correlationID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get saga %q: %w", correlationID, err)
	}
	return inst, nil
}

// Update is the compare-and-swap write: the WHERE clause matches both the
// correlation id and the version the handler loaded. Zero rows affected
// means either the instance vanished or a concurrent handler advanced it;
// we distinguish with a follow-up existence check.
func (s *Store) Update(ctx context.Context, inst *saga.Instance, expectedVersion int64) error {
	items, err := json.Marshal(inst.Items)
	if err != nil {
		return fmt.Errorf("sqlite: marshal items for %q: %w", inst.CorrelationID, err)
	}

	const q = `
		UPDATE saga_instances
		SET    version = ?, current_state = ?, order_id = ?, items = ?,
		       order_total = ?, submitted_at = ?, last_updated = ?,
		       inventory_checked_at = ?, payment_processed_at = ?, error_message = ?
		WHERE  correlation_id = ? AND version = ?`

	res, err := s.db.ExecContext(ctx, q,
		inst.Version,
		string(inst.CurrentState),
		inst.OrderID,
		string(items),
		inst.OrderTotal,
		formatTime(inst.SubmittedAt),
		formatTime(inst.LastUpdated),
		nullableTime(inst.InventoryCheckedAt),
		nullableTime(inst.PaymentProcessedAt),
		nullableString(inst.ErrorMessage),
		inst.CorrelationID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update saga %q: %w", inst.CorrelationID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update saga %q: %w", inst.CorrelationID, err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, inst.CorrelationID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s expected v%d", saga.ErrVersionConflict, inst.CorrelationID, expectedVersion)
	}
	return nil
}

func (s *Store) ListByState(ctx context.Context, state saga.State) ([]*saga.Instance, error) {
	const q = `
		SELECT correlation_id, version, restaurant_id, location_id, current_state,
		       order_id, items, order_total, submitted_at, last_updated,
		       inventory_checked_at, payment_processed_at, error_message
		FROM   saga_instances
		WHERE  current_state = ?`

	rows, err := s.db.QueryContext(ctx, q, string(state))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sagas in %s: %w", state, err)
	}
	defer rows.Close()

	var out []*saga.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list sagas in %s: %w", state, err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sagas in %s: %w", state, err)
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*saga.Instance, error) {
	var (
		inst         saga.Instance
		state        string
		items        string
		submittedAt  string
		lastUpdated  string
		invChecked   sql.NullString
		payProcessed sql.NullString
		errMsg       sql.NullString
	)

	err := row.Scan(
		&inst.CorrelationID,
		&inst.Version,
		&inst.Tenant.RestaurantID,
		&inst.Tenant.LocationID,
		&state,
		&inst.OrderID,
		&items,
		&inst.OrderTotal,
		&submittedAt,
		&lastUpdated,
		&invChecked,
		&payProcessed,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	inst.CurrentState = saga.State(state)
	inst.ErrorMessage = errMsg.String

	if err := json.Unmarshal([]byte(items), &inst.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if inst.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if inst.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	if inst.InventoryCheckedAt, err = parseNullableTime(invChecked); err != nil {
		return nil, err
	}
	if inst.PaymentProcessedAt, err = parseNullableTime(payProcessed); err != nil {
		return nil, err
	}

	// Guard against rows written with an unknown tenant (should never
	// happen, but an empty tenant key must not silently pass validation).
	if !inst.Tenant.Valid() {
		return nil, fmt.Errorf("saga %q has incomplete tenant %v: %w",
			inst.CorrelationID, inst.Tenant, tenant.ErrMissingTenant)
	}

	return &inst, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableString returns nil for empty strings so the error_message column
// stays NULL on every non-rejection row.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
