package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure go sqlite driver

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

// Dialect captures the differences between the SQL backends
type Dialect struct {
	Name        string
	Driver      string
	PayloadType string
	Placeholder func(n int) string
}

var (
	// DialectSQLite stores snapshots with modernc.org/sqlite
	DialectSQLite = Dialect{
		Name:        "sqlite",
		Driver:      "sqlite",
		PayloadType: "BLOB",
		Placeholder: func(int) string { return "?" },
	}

	// DialectPostgres stores snapshots with lib/pq
	DialectPostgres = Dialect{
		Name:        "postgres",
		Driver:      "postgres",
		PayloadType: "BYTEA",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

func (d Dialect) createTable() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS snapshots (
	slot TEXT PRIMARY KEY,
	payload %s NOT NULL,
	updated_at BIGINT NOT NULL
)`, d.PayloadType)
}

func (d Dialect) selectPayload() string {
	return "SELECT payload FROM snapshots WHERE slot = " + d.Placeholder(1)
}

func (d Dialect) upsert() string {
	return fmt.Sprintf(`INSERT INTO snapshots (slot, payload, updated_at) VALUES (%s, %s, %s)
ON CONFLICT (slot) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
}

// SQLStore implements Snapshot on a relational database
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	slot    string

	mu     sync.RWMutex
	closed bool
}

// OpenSQLStore opens a database for the dialect and prepares the schema.
// For sqlite the dsn is a file path.
func OpenSQLStore(dialect Dialect, dsn, slot string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for %s store", dialect.Name)
	}
	if dialect.Name == DialectSQLite.Name {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	if dialect.Name == DialectSQLite.Name {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(context.Background(), db, dialect, slot)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database handle and creates the snapshots table
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, slot string) (*SQLStore, error) {
	if slot == "" {
		slot = DefaultSlot
	}
	if _, err := db.ExecContext(ctx, dialect.createTable()); err != nil {
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, slot: slot}, nil
}

func (s *SQLStore) Load(ctx context.Context) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerrors.ErrStoreClosed
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectPayload(), s.slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeAgents(payload)
}

func (s *SQLStore) Save(ctx context.Context, agents []types.Agent) error {
	payload, err := encodeAgents(agents)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsert(), s.slot, payload, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}
