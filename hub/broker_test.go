package hub

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func TestBrokerEvictsLaggingSubscriber(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := NewBroker(1, logger)
	slow := b.Subscribe()
	fast := b.Subscribe()

	b.Publish(domain.Event{Kind: domain.TaskDeleted, Seq: 1, TaskID: 1})
	<-fast.C
	b.Publish(domain.Event{Kind: domain.TaskDeleted, Seq: 2, TaskID: 2})

	if ev := <-slow.C; ev.Seq != 1 {
		t.Fatalf("expected buffered seq 1, got %d", ev.Seq)
	}
	if _, ok := <-slow.C; ok {
		t.Fatal("expected lagging subscriber to be closed")
	}
	if ev := <-fast.C; ev.Seq != 2 {
		t.Fatalf("expected seq 2 on fast subscriber, got %d", ev.Seq)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", b.Len())
	}
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected one eviction warning, got %d", len(hook.AllEntries()))
	}
	// unsubscribing an evicted subscriber is harmless
	b.Unsubscribe(slow)
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(0, nil)
	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Publish(domain.Event{Kind: domain.TaskDeleted, Seq: 1})
	if _, ok := <-s.C; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestRedisRelayDeliversAcrossProcesses(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, _ := test.NewNullLogger()
	local, remote := NewBroker(8, logger), NewBroker(8, logger)
	sender := NewRedisRelay(rc, "taskboard:events", local, logger)
	receiver := NewRedisRelay(rc, "taskboard:events", remote, logger)
	go sender.Run(ctx)
	go receiver.Run(ctx)
	for _, r := range []*RedisRelay{sender, receiver} {
		select {
		case <-r.Ready():
		case <-time.After(time.Second):
			t.Fatal("relay did not subscribe")
		}
	}

	mine, theirs := local.Subscribe(), remote.Subscribe()
	task := domain.Task{ID: 4, Title: "relayed", Status: domain.StatusDone, Priority: domain.PriorityHigh}
	ev := domain.CreatedEvent(task)
	ev.Seq = 9
	sender.Publish(ctx, ev)

	for _, s := range []*Subscription{mine, theirs} {
		got := receive(t, s)
		if got.Seq != 9 || got.Task == nil || got.Task.Title != "relayed" {
			t.Fatalf("unexpected relayed event %+v", got)
		}
	}
}

func TestRedisRelayFallsBackToLocalDelivery(t *testing.T) {
	rc, m := setupRedis(t)
	logger, _ := test.NewNullLogger()
	b := NewBroker(8, logger)
	r := NewRedisRelay(rc, "taskboard:events", b, logger)
	s := b.Subscribe()
	m.Close()

	r.Publish(context.Background(), domain.DeletedEvent(3))
	if got := receive(t, s); got.TaskID != 3 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestClockNeverRepeats(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClock(func() time.Time { return fixed })
	prev := c.Now()
	for i := 0; i < 100; i++ {
		next := c.Now()
		if !next.After(prev) {
			t.Fatalf("clock went backwards: %v <= %v", next, prev)
		}
		prev = next
	}
}
