package hub

import (
	"context"

	"taskboard/domain"
)

// TaskStore is the persistence contract the hub writes through. Get returns
// nil, nil for an unknown id; Delete reports whether a task was removed.
type TaskStore interface {
	Get(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Insert(ctx context.Context, t domain.Task) error
	Replace(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id int64) (bool, error)
	MaxID(ctx context.Context) (int64, error)
}

// Deduper prevents applying the same intent twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes a previously added key, used when persistence fails.
	Remove(ctx context.Context, key string) error
}

// EventSink observes canonical events after they are broadcast. prior is the
// stored task before the mutation, nil for creates.
type EventSink interface {
	Record(ctx context.Context, ev domain.Event, prior *domain.Task) error
}
