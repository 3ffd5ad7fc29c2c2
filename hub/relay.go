package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// RedisRelay carries canonical events between hub processes. Events are
// published to a Redis channel and every process, including the publisher,
// re-delivers what it receives to its local broker.
type RedisRelay struct {
	client  *redis.Client
	channel string
	broker  *Broker
	logger  *log.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisRelay(client *redis.Client, channel string, broker *Broker, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		broker:  broker,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the first subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Publish sends ev to the shared channel. If Redis is unreachable the event
// is still delivered to local subscribers.
func (r *RedisRelay) Publish(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = r.client.Publish(ctx, r.channel, data).Err()
	}
	if err != nil {
		r.logger.WithError(err).WithField("seq", ev.Seq).Error("relay publish failed, delivering locally")
		r.broker.Publish(ev)
	}
}

// Run subscribes to the channel and forwards events until ctx is done,
// reconnecting when the subscription drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		r.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("relay channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) listen(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		r.logger.WithError(err).Error("relay subscribe failed")
		return
	}
	r.readyOnce.Do(func() { close(r.ready) })
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.WithError(err).Error("unable to parse relayed event")
				continue
			}
			r.broker.Publish(ev)
		}
	}
}
