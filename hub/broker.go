package hub

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DefaultSubscriberBuffer is how many events a subscriber may fall behind
// before it is evicted.
const DefaultSubscriberBuffer = 256

// Subscription receives canonical events in seq order. C is closed when the
// subscriber is evicted or unsubscribed; a closed channel means events were
// lost and the client must take a fresh snapshot.
type Subscription struct {
	C  <-chan domain.Event
	ch chan domain.Event
}

// Broker fans events out to in-process subscribers.
type Broker struct {
	logger *log.Logger
	buffer int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroker(buffer int, logger *log.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{logger: logger, buffer: buffer, subs: make(map[*Subscription]struct{})}
}

func (b *Broker) Subscribe() *Subscription {
	ch := make(chan domain.Event, b.buffer)
	s := &Subscription{C: ch, ch: ch}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber without blocking. A subscriber with
// a full buffer is dropped rather than silently skipping the event.
func (b *Broker) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			delete(b.subs, s)
			close(s.ch)
			b.logger.WithFields(log.Fields{"seq": ev.Seq, "buffer": b.buffer}).Warn("evicting lagging subscriber")
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
