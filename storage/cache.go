package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

const (
	tasksCacheKey = "taskboard:tasks"
	// tasksGenKey is bumped on every eviction. A list read from the backing
	// store is only cached if no process evicted while it was being read.
	tasksGenKey = "taskboard:tasks:gen"
)

type backend interface {
	Get(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Insert(ctx context.Context, t domain.Task) error
	Replace(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id int64) (bool, error)
	MaxID(ctx context.Context) (int64, error)
}

// Cache wraps a backend with a Redis copy of the full task list so snapshot
// reads do not hit the backing store. Every write evicts the copy, and a copy
// is never repopulated from a read that raced a write of another process.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, id int64) (*domain.Task, error) {
	return c.base.Get(ctx, id)
}

func (c *Cache) List(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx); ok {
		return tasks, nil
	}
	gen := c.generation(ctx)
	tasks, err := c.base.List(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, gen, tasks)
	return tasks, nil
}

func (c *Cache) Insert(ctx context.Context, t domain.Task) error {
	if err := c.base.Insert(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) Replace(ctx context.Context, t domain.Task) error {
	if err := c.base.Replace(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := c.base.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		c.evict(ctx)
	}
	return ok, nil
}

func (c *Cache) MaxID(ctx context.Context) (int64, error) {
	return c.base.MaxID(ctx)
}

func (c *Cache) load(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) generation(ctx context.Context) string {
	if c.redis == nil {
		return ""
	}
	gen, err := c.redis.Get(ctx, tasksGenKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "unavailable"
	}
	return gen
}

// store caches tasks only while the generation still equals gen.
func (c *Cache) store(ctx context.Context, gen string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 || gen == "unavailable" {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, tasksGenKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey, data, c.ttl)
			return nil
		})
		return err
	}, tasksGenKey)
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tasksCacheKey)
		pipe.Incr(ctx, tasksGenKey)
		return nil
	})
}
