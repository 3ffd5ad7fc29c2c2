package hub

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Counter hands out strictly increasing integers. The hub uses one for task
// ids and one for the global event sequence.
type Counter interface {
	Next(ctx context.Context) (int64, error)
	Current(ctx context.Context) (int64, error)
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	n atomic.Int64
}

// NewMemoryCounter starts counting after floor.
func NewMemoryCounter(floor int64) *MemoryCounter {
	c := &MemoryCounter{}
	c.n.Store(floor)
	return c
}

func (c *MemoryCounter) Next(context.Context) (int64, error) { return c.n.Add(1), nil }

func (c *MemoryCounter) Current(context.Context) (int64, error) { return c.n.Load(), nil }

// RedisCounter shares a counter between processes through INCR.
type RedisCounter struct {
	client *redis.Client
	key    string
}

// NewRedisCounter makes sure the stored value is at least floor, so ids keep
// growing past whatever the task store already holds.
func NewRedisCounter(ctx context.Context, client *redis.Client, key string, floor int64) (*RedisCounter, error) {
	c := &RedisCounter{client: client, key: key}
	if _, err := client.SetNX(ctx, key, floor, 0).Result(); err != nil {
		return nil, err
	}
	cur, err := c.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur < floor {
		if err := client.Set(ctx, key, floor, 0).Err(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *RedisCounter) Next(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, c.key).Result()
}

func (c *RedisCounter) Current(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
