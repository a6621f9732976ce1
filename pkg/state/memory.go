package state

import (
	"context"
	"sync"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

// MemoryStore implements Snapshot in process memory
type MemoryStore struct {
	agents []types.Agent
	saved  bool
	saves  int
	mu     sync.RWMutex
}

// NewMemoryStore creates a new memory-based store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the saved collection
func (s *MemoryStore) Load(ctx context.Context) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.saved {
		return nil, rerrors.ErrSnapshotMissing
	}
	return copyAgents(s.agents), nil
}

// Save stores a copy of agents
func (s *MemoryStore) Save(ctx context.Context, agents []types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents = copyAgents(agents)
	s.saved = true
	s.saves++
	return nil
}

// Saves returns how many times Save has been called
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close closes the store
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// HealthCheck performs a health check
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}
