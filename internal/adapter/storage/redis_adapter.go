package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	intakeKeyPrefix = "intake:"
	intakeKeyTTL    = 24 * time.Hour
)

// RedisAdapter backs the intake idempotency guard. Keys are source message
// references; the TTL just keeps the keyspace bounded, redeliveries arrive
// within seconds.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) FirstSeen(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, intakeKeyPrefix+key, 1, intakeKeyTTL).Result()
}
