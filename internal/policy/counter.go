package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a keyed daily counter.
type Counter interface {
	Count(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: "coach:"}
}

func (c *RedisCounter) Count(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Incr bumps the counter and refreshes its expiry in one round trip.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	cnt := pipe.Incr(ctx, c.prefix+key)
	pipe.Expire(ctx, c.prefix+key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cnt.Val(), nil
}

// MemoryCounter is the single-process counter used without Redis.
type MemoryCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{m: make(map[string]int64)}
}

func (c *MemoryCounter) Count(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

func (c *MemoryCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
	return c.m[key], nil
}
