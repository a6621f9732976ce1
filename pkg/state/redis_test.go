package state

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ROSTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROSTER_TEST_REDIS_ADDR not set")
	}

	store, err := NewRedisStore(RedisStoreConfig{
		Addr:   addr,
		Prefix: "roster:test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.client.Del(context.Background(), store.Key()).Err()
		_ = store.Close(context.Background())
	})

	runSnapshotContract(t, store)
}

func TestRedisStoreKey(t *testing.T) {
	store, err := NewRedisStore(RedisStoreConfig{Addr: "localhost:0"})
	require.NoError(t, err)
	defer store.Close(context.Background())

	assert.Equal(t, "roster:snapshot:agents", store.Key())

	_, err = NewRedisStore(RedisStoreConfig{})
	assert.Error(t, err)
}
