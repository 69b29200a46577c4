package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "paymentref:"

// RedisDedup guards payment references against replay using SET NX with a
// TTL. The TTL only bounds key growth; a reference older than the window
// is also past any payment provider's replay horizon.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{client: client, ttl: ttl}
}

// Claim marks paymentRef consumed; false means an earlier purchase owns it.
func (r *RedisDedup) Claim(ctx context.Context, paymentRef string) (bool, error) {
	return r.client.SetNX(ctx, dedupKeyPrefix+paymentRef, 1, r.ttl).Result()
}

// Release frees a claim whose purchase did not commit, so the caller can
// retry with the same settled payment.
func (r *RedisDedup) Release(ctx context.Context, paymentRef string) error {
	return r.client.Del(ctx, dedupKeyPrefix+paymentRef).Err()
}
