package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type countingBackend struct {
	*Memory
	lists int
}

func (c *countingBackend) List(ctx context.Context) ([]domain.Task, error) {
	c.lists++
	return c.Memory.List(ctx)
}

// racingBackend calls during between reading the list and returning it.
type racingBackend struct {
	*Memory
	during func()
}

func (r *racingBackend) List(ctx context.Context) ([]domain.Task, error) {
	tasks, err := r.Memory.List(ctx)
	if r.during != nil {
		r.during()
		r.during = nil
	}
	return tasks, err
}

func setupCache(t *testing.T, base backend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(base, client, time.Minute), mr
}

func TestCacheListMissThenHit(t *testing.T) {
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory(sampleTask(1, "Write code"))}
	cache, mr := setupCache(t, base)

	for i := 0; i < 2; i++ {
		tasks, err := cache.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Title != "Write code" {
			t.Fatalf("unexpected tasks: %+v", tasks)
		}
	}
	if base.lists != 1 {
		t.Fatalf("expected 1 backend list, got %d", base.lists)
	}
	if ttl := mr.TTL(tasksCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheWritesEvict(t *testing.T) {
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory()}
	cache, mr := setupCache(t, base)

	if _, err := cache.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mr.Exists(tasksCacheKey) {
		t.Fatalf("expected cache entry after list")
	}
	if err := cache.Insert(ctx, sampleTask(1, "new")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mr.Exists(tasksCacheKey) {
		t.Fatalf("expected insert to evict cache entry")
	}
	tasks, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected fresh list after eviction, got %+v", tasks)
	}
	if base.lists != 2 {
		t.Fatalf("expected 2 backend lists, got %d", base.lists)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory(sampleTask(1, "a"))}
	cache, mr := setupCache(t, base)
	if err := mr.Set(tasksCacheKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || base.lists != 1 {
		t.Fatalf("expected fallback to backend, got %+v (%d lists)", tasks, base.lists)
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory(sampleTask(1, "a"))}
	cache := NewCache(base, nil, time.Minute)
	if _, err := cache.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := cache.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if base.lists != 2 {
		t.Fatalf("expected passthrough, got %d lists", base.lists)
	}
}

func TestCacheSkipsListThatRacedAnotherProcessWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(sampleTask(1, "Write code"))
	racing := &racingBackend{Memory: mem}
	reader, mr := setupCache(t, racing)
	writer := NewCache(mem, reader.redis, time.Minute)
	racing.during = func() {
		if err := writer.Insert(ctx, sampleTask(2, "Review code")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stale, err := reader.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected the list read before the insert, got %d tasks", len(stale))
	}
	if mr.Exists(tasksCacheKey) {
		t.Fatal("stale list must not be cached")
	}

	fresh, err := reader.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("expected both tasks, got %d", len(fresh))
	}
	if !mr.Exists(tasksCacheKey) {
		t.Fatal("expected the fresh list to be cached")
	}
}
