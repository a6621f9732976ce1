package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
)

// Repository is the system of record behind the REST resource. Agents keep
// their insertion order and the full collection is written to the snapshot
// after every change. A change whose write fails is rolled back.
type Repository struct {
	mu       sync.RWMutex
	agents   []types.Agent
	snapshot state.Snapshot
}

// NewRepository loads the collection from snapshot. A slot that was never
// written starts empty.
func NewRepository(ctx context.Context, snapshot state.Snapshot) (*Repository, error) {
	agents, err := snapshot.Load(ctx)
	if err != nil && !errors.Is(err, rerrors.ErrSnapshotMissing) {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	if agents == nil {
		agents = []types.Agent{}
	}
	return &Repository{agents: agents, snapshot: snapshot}, nil
}

// List returns a copy of every agent in insertion order
func (r *Repository) List() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Agent{}, r.agents...)
}

// Get returns the agent with id
func (r *Repository) Get(id string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(id); i >= 0 {
		return r.agents[i], nil
	}
	return types.Agent{}, rerrors.ErrNotFound
}

// Len returns the number of stored agents
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Create appends agent, failing with ErrAlreadyExists for a taken id
func (r *Repository) Create(ctx context.Context, agent types.Agent) (types.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(agent.ID) >= 0 {
		return types.Agent{}, rerrors.ErrAlreadyExists
	}

	next := append(append(make([]types.Agent, 0, len(r.agents)+1), r.agents...), agent)
	if err := r.commit(ctx, next); err != nil {
		return types.Agent{}, err
	}
	return agent, nil
}

// Update replaces the agent with the same id in place
func (r *Repository) Update(ctx context.Context, agent types.Agent) (types.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(agent.ID)
	if i < 0 {
		return types.Agent{}, rerrors.ErrNotFound
	}

	next := append([]types.Agent{}, r.agents...)
	next[i] = agent
	if err := r.commit(ctx, next); err != nil {
		return types.Agent{}, err
	}
	return agent, nil
}

// Delete removes the agent with id
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return rerrors.ErrNotFound
	}

	next := make([]types.Agent, 0, len(r.agents)-1)
	next = append(next, r.agents[:i]...)
	next = append(next, r.agents[i+1:]...)
	return r.commit(ctx, next)
}

// HealthCheck reports whether the backing snapshot is usable
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.snapshot.HealthCheck(ctx)
}

// commit persists next and installs it. Callers hold the write lock.
func (r *Repository) commit(ctx context.Context, next []types.Agent) error {
	if err := r.snapshot.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to persist agents: %w", err)
	}
	r.agents = next
	return nil
}

func (r *Repository) indexOf(id string) int {
	for i, agent := range r.agents {
		if agent.ID == id {
			return i
		}
	}
	return -1
}
