package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// IdempotencyCache maps an idempotency key to the order it created.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) (orderID string, ok bool, err error)
	Remember(ctx context.Context, key, orderID string) error
}

type RedisIdempotency struct {
	rdb *redis.Client
}

func NewRedisIdempotency(rdb *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{rdb: rdb}
}

func (c *RedisIdempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency get: %w", err)
	}
	return id, true, nil
}

// Remember records the order created for key, replacing any stale entry.
func (c *RedisIdempotency) Remember(ctx context.Context, key, orderID string) error {
	if err := c.rdb.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key), orderID, redisx.TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}
