package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

const defaultRedisPrefix = "roster:snapshot:"

// RedisStoreConfig holds Redis connection settings
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Slot     string
}

// RedisStore implements Snapshot as a single Redis string key
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed store. The connection is established
// lazily by the client.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("address is required for redis store")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.Prefix, config.Slot), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix, slot string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if slot == "" {
		slot = DefaultSlot
	}
	return &RedisStore{client: client, key: prefix + slot}
}

// Key returns the Redis key holding the snapshot
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) ([]types.Agent, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, rerrors.ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeAgents(data)
}

func (s *RedisStore) Save(ctx context.Context, agents []types.Agent) error {
	data, err := encodeAgents(agents)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close(ctx context.Context) error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
