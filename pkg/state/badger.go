package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/types"
)

const (
	snapshotPrefix = "snapshot:"

	defaultGCInterval = 5 * time.Minute
)

// BadgerStore implements Snapshot using BadgerDB
type BadgerStore struct {
	db     *badger.DB
	path   string
	key    []byte
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	stopGC chan struct{}
	gcDone chan struct{}
}

// BadgerStoreConfig holds BadgerDB-specific configuration
type BadgerStoreConfig struct {
	Path       string
	Slot       string
	GCInterval time.Duration
	Options    badger.Options
}

// NewBadgerStore creates a new BadgerDB-based store
func NewBadgerStore(config BadgerStoreConfig) (*BadgerStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for BadgerDB store")
	}
	if config.Slot == "" {
		config.Slot = DefaultSlot
	}
	if config.GCInterval <= 0 {
		config.GCInterval = defaultGCInterval
	}

	opts := config.Options
	if opts.Dir == "" {
		opts = badger.DefaultOptions(config.Path)
		opts.Logger = nil
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		path:   config.Path,
		key:    []byte(snapshotPrefix + config.Slot),
		logger: logging.WithComponent("badger"),
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	go store.runGC(config.GCInterval)

	return store, nil
}

// Load reads the snapshot slot
func (s *BadgerStore) Load(ctx context.Context) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerrors.ErrStoreClosed
	}

	var agents []types.Agent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return rerrors.ErrSnapshotMissing
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeAgents(val)
			if err != nil {
				return err
			}
			agents = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// Save overwrites the snapshot slot
func (s *BadgerStore) Save(ctx context.Context, agents []types.Agent) error {
	data, err := encodeAgents(agents)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.ErrStoreClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

// Close stops garbage collection and closes the database
func (s *BadgerStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopGC)
	s.mu.Unlock()

	<-s.gcDone
	return s.db.Close()
}

// HealthCheck performs a health check
func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.ErrStoreClosed
	}

	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("health"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Background garbage collection
func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.7)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn().Err(err).Str("path", s.path).Msg("BadgerDB GC error")
			}
		}
	}
}
