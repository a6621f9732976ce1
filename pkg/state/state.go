// Package state provides durable snapshot storage for the agent collection
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/types"
)

// DefaultSlot is the snapshot slot used when none is configured
const DefaultSlot = "agents"

// Snapshot persists the whole agent collection under a single named slot.
// Save always overwrites the previous contents.
type Snapshot interface {
	// Load returns the last saved collection, or ErrSnapshotMissing when the
	// slot has never been written
	Load(ctx context.Context) ([]types.Agent, error)

	// Save replaces the slot contents with agents
	Save(ctx context.Context, agents []types.Agent) error

	// Close releases the backend
	Close(ctx context.Context) error

	// HealthCheck reports whether the backend is usable
	HealthCheck(ctx context.Context) error
}

// NewFromConfig opens the snapshot backend selected by cfg.Type
func NewFromConfig(cfg config.StateConfig) (Snapshot, error) {
	slot := cfg.Slot
	if slot == "" {
		slot = DefaultSlot
	}

	switch strings.ToLower(cfg.Type) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "badger":
		return NewBadgerStore(BadgerStoreConfig{Path: cfg.Path, Slot: slot})
	case "sqlite":
		return OpenSQLStore(DialectSQLite, cfg.Path, slot)
	case "postgres":
		return OpenSQLStore(DialectPostgres, cfg.URL, slot)
	case "redis":
		return NewRedisStore(RedisStoreConfig{
			Addr:     cfg.URL,
			Password: cfg.Options["password"],
			Prefix:   cfg.Options["prefix"],
			Slot:     slot,
		})
	default:
		return nil, fmt.Errorf("unsupported state type: %s", cfg.Type)
	}
}

func encodeAgents(agents []types.Agent) ([]byte, error) {
	if agents == nil {
		agents = []types.Agent{}
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeAgents(data []byte) ([]types.Agent, error) {
	var agents []types.Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if agents == nil {
		agents = []types.Agent{}
	}
	return agents, nil
}

func copyAgents(agents []types.Agent) []types.Agent {
	out := make([]types.Agent, len(agents))
	copy(out, agents)
	return out
}
