package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_FirstSeen(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	first, err := guard.FirstSeen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := guard.FirstSeen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := guard.FirstSeen(ctx, "msg-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRedisAdapter_FirstSeen(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer rdb.Close()

	guard := NewRedisAdapter(rdb)
	key := "test-" + uuid.NewString()
	defer rdb.Del(ctx, intakeKeyPrefix+key)

	first, err := guard.FirstSeen(ctx, key)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := guard.FirstSeen(ctx, key)
	require.NoError(t, err)
	assert.False(t, again)
}
