package saga

import (
	"context"
	"errors"
)

// Store errors. Callers branch on these with errors.Is: a version conflict
// is transient (the redelivered message re-evaluates against current state),
// a not-found on a non-entry event eventually dead-letters.
var (
	ErrNotFound        = errors.New("saga: instance not found")
	ErrAlreadyExists   = errors.New("saga: instance already exists")
	ErrVersionConflict = errors.New("saga: version conflict")
)

// Store persists saga instances keyed by correlation id.
//
// Update is a compare-and-swap: it writes inst only if the stored version
// still equals expectedVersion, returning ErrVersionConflict otherwise. This
// is the only concurrency control the saga needs: no locks, conflicts are
// resolved by discarding the loser's side effects and re-evaluating.
type Store interface {
	// Create persists a brand-new instance; ErrAlreadyExists makes
	// duplicate OrderSubmitted deliveries a detectable no-op.
	Create(ctx context.Context, inst *Instance) error

	// Get is the hot path: point lookup by correlation id.
	Get(ctx context.Context, correlationID string) (*Instance, error)

	// Update writes inst if the stored version equals expectedVersion.
	Update(ctx context.Context, inst *Instance, expectedVersion int64) error

	// ListByState returns every instance currently in the given state.
	// Used to re-arm payment timeouts after a restart.
	ListByState(ctx context.Context, state State) ([]*Instance, error)
}
