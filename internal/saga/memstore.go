package saga

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a map-backed Store for tests and local single-process runs.
// It honors the same CAS contract as the SQLite store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*Instance)}
}

func (s *MemoryStore) Create(_ context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.CorrelationID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, inst.CorrelationID)
	}
	s.instances[inst.CorrelationID] = inst.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, correlationID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	return inst.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, inst *Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.CorrelationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, inst.CorrelationID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: %s expected v%d, stored v%d",
			ErrVersionConflict, inst.CorrelationID, expectedVersion, current.Version)
	}
	s.instances[inst.CorrelationID] = inst.clone()
	return nil
}

func (s *MemoryStore) ListByState(_ context.Context, state State) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Instance
	for _, inst := range s.instances {
		if inst.CurrentState == state {
			out = append(out, inst.clone())
		}
	}
	return out, nil
}
