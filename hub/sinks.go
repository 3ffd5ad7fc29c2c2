package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// DefaultFeedSize matches the activity log cap shown to users.
const DefaultFeedSize = 50

type messageEnqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink forwards every canonical event to an Azure Storage queue for
// downstream consumers.
type QueueSink struct {
	queue messageEnqueuer
}

func NewQueueSink(connStr, queueName string) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueSink{queue: q}, nil
}

func (s *QueueSink) Record(ctx context.Context, ev domain.Event, _ *domain.Task) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// FeedSink keeps the most recent activity entries in a capped Redis list,
// newest first.
type FeedSink struct {
	client *redis.Client
	key    string
	size   int64
	roster domain.Roster
}

func NewFeedSink(client *redis.Client, key string, size int, roster domain.Roster) *FeedSink {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &FeedSink{client: client, key: key, size: int64(size), roster: roster}
}

func (f *FeedSink) Record(ctx context.Context, ev domain.Event, prior *domain.Task) error {
	var title string
	var status domain.Status
	if prior != nil {
		title, status = prior.Title, prior.Status
	}
	entry, err := domain.NewActivity(ev, title, status, f.roster)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, f.key, data)
	pipe.LTrim(ctx, f.key, 0, f.size-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit entries, newest first. Entries that fail to
// decode are skipped.
func (f *FeedSink) Recent(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || int64(limit) > f.size {
		limit = int(f.size)
	}
	raw, err := f.client.LRange(ctx, f.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActivityEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.ActivityEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
