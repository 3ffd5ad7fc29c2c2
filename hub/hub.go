// Package hub owns the canonical task collection. It applies intents one at a
// time, persists each accepted mutation and then broadcasts it, tagged with a
// global sequence number, to every subscriber.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/domain"
)

const tracerName = "taskboard/hub"

var (
	// ErrUnknownTask means the intent referenced a task that does not exist.
	// Such intents are no-ops and never broadcast.
	ErrUnknownTask = errors.New("unknown task")
	// ErrDuplicateIntent means the idempotency key was already applied.
	ErrDuplicateIntent = errors.New("duplicate intent")
	// ErrPersistence wraps store failures; nothing was broadcast.
	ErrPersistence = errors.New("persistence failed")
	ErrSaturated   = errors.New("intent queue saturated")
	ErrStopped     = errors.New("hub stopped")
)

// Snapshot is the bulk read of the collection. Seq is the sequence number of
// the last mutation included in Tasks.
type Snapshot struct {
	Tasks []domain.Task `json:"tasks"`
	Seq   int64         `json:"seq"`
}

type Options struct {
	Roster  domain.Roster
	IDs     Counter
	Seq     Counter
	Deduper Deduper
	Broker  *Broker
	// Relay, when set, carries broadcasts through Redis instead of
	// publishing straight to Broker.
	Relay  *RedisRelay
	Sinks  []EventSink
	Logger *log.Logger
	Tracer trace.Tracer
	Now    func() time.Time

	QueueSize      int
	HandoffTimeout time.Duration
	ApplyTimeout   time.Duration
}

type Hub struct {
	store   TaskStore
	roster  domain.Roster
	ids     Counter
	seq     Counter
	deduper Deduper
	broker  *Broker
	relay   *RedisRelay
	sinks   []EventSink
	logger  *log.Logger
	tracer  trace.Tracer
	clock   *clock

	mu sync.Mutex

	intents      chan domain.Intent
	handoff      time.Duration
	applyTimeout time.Duration
	stopped      atomic.Bool
}

// New builds a hub over store. Missing options get in-process defaults; the
// id counter is seeded from the highest id already stored.
func New(ctx context.Context, store TaskStore, opts Options) (*Hub, error) {
	h := &Hub{
		store:        store,
		roster:       opts.Roster,
		ids:          opts.IDs,
		seq:          opts.Seq,
		deduper:      opts.Deduper,
		broker:       opts.Broker,
		relay:        opts.Relay,
		sinks:        opts.Sinks,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		clock:        newClock(opts.Now),
		handoff:      opts.HandoffTimeout,
		applyTimeout: opts.ApplyTimeout,
	}
	if h.roster.Len() == 0 {
		h.roster = domain.DefaultRoster()
	}
	if h.logger == nil {
		h.logger = log.StandardLogger()
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if h.broker == nil {
		h.broker = NewBroker(DefaultSubscriberBuffer, h.logger)
	}
	if h.ids == nil {
		max, err := store.MaxID(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed ids: %w", err)
		}
		h.ids = NewMemoryCounter(max)
	}
	if h.seq == nil {
		h.seq = NewMemoryCounter(0)
	}
	if h.applyTimeout <= 0 {
		h.applyTimeout = 30 * time.Second
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 1024
	}
	h.intents = make(chan domain.Intent, size)
	return h, nil
}

func (h *Hub) Roster() domain.Roster { return h.roster }

func (h *Hub) Subscribe() *Subscription { return h.broker.Subscribe() }

func (h *Hub) Unsubscribe(s *Subscription) { h.broker.Unsubscribe(s) }

// Snapshot reads the sequence before listing the collection. Every mutation
// is written before it is stamped, so each event at or below Seq is already
// reflected in Tasks, including those stamped by other hub processes. Events
// above Seq may be reflected too; replaying them is idempotent.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq, err := h.seq.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	tasks, err := h.store.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return Snapshot{Tasks: tasks, Seq: seq}, nil
}

// Submit hands the intent to the writer goroutine. When the queue stays full
// for longer than the handoff timeout the intent is dropped.
func (h *Hub) Submit(ctx context.Context, in domain.Intent) error {
	if h.stopped.Load() {
		return ErrStopped
	}
	select {
	case h.intents <- in:
		return nil
	default:
	}
	if h.handoff > 0 {
		timer := time.NewTimer(h.handoff)
		defer timer.Stop()
		select {
		case h.intents <- in:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	h.logger.WithFields(log.Fields{"intent": in.Kind, "actor": in.Actor, "queue": cap(h.intents)}).Warn("intent queue saturated, dropping intent")
	return ErrSaturated
}

// Run applies submitted intents in arrival order until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopped.Store(true)
	h.logger.Infof("hub started, queue: %d, handoff: %v", cap(h.intents), h.handoff)
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-h.intents:
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.applyTimeout)
			_, _ = h.Apply(actx, in)
			cancel()
		}
	}
}

// Apply validates, persists and broadcasts a single intent. Only a nil error
// means an event was broadcast.
func (h *Hub) Apply(ctx context.Context, in domain.Intent) (domain.Event, error) {
	ctx, span := h.tracer.Start(ctx, "hub."+string(in.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("taskboard.intent", string(in.Kind)),
		attribute.Int64("taskboard.actor", in.Actor),
	)
	entry := h.logger.WithFields(log.Fields{"intent": in.Kind, "actor": in.Actor})
	if in.TaskID != 0 {
		entry = entry.WithField("task", in.TaskID)
		span.SetAttributes(attribute.Int64("taskboard.task_id", in.TaskID))
	}

	in, err := in.Validate(h.roster)
	if err != nil {
		entry.WithError(err).Info("intent rejected")
		span.SetAttributes(attribute.String("taskboard.outcome", "rejected"))
		return domain.Event{}, err
	}

	deduped := false
	if in.IdempotencyKey != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, in.IdempotencyKey)
		switch {
		case err != nil:
			entry.WithError(err).Warn("dedupe check failed")
		case !added:
			entry.WithField("key", in.IdempotencyKey).Debug("duplicate intent ignored")
			span.SetAttributes(attribute.String("taskboard.outcome", "duplicate"))
			return domain.Event{}, ErrDuplicateIntent
		default:
			deduped = true
		}
	}

	h.mu.Lock()
	ev, prior, err := h.mutate(ctx, in)
	if err == nil {
		h.publish(ctx, ev)
	}
	h.mu.Unlock()

	switch {
	case errors.Is(err, ErrUnknownTask):
		entry.Debug("intent references unknown task")
		span.SetAttributes(attribute.String("taskboard.outcome", "ignored"))
		return domain.Event{}, err
	case err != nil:
		if deduped {
			if rerr := h.deduper.Remove(context.WithoutCancel(ctx), in.IdempotencyKey); rerr != nil {
				entry.WithError(rerr).Error("dedupe rollback failed")
			}
		}
		entry.WithError(err).Error("intent not persisted")
		span.SetAttributes(attribute.String("taskboard.outcome", "failed"))
		span.SetStatus(codes.Error, err.Error())
		return domain.Event{}, err
	}

	span.SetAttributes(
		attribute.String("taskboard.outcome", "accepted"),
		attribute.Int64("taskboard.task_id", ev.TaskID),
		attribute.Int64("taskboard.seq", ev.Seq),
	)
	entry.WithFields(log.Fields{"task": ev.TaskID, "seq": ev.Seq}).Debug("intent applied")

	for _, s := range h.sinks {
		if err := s.Record(ctx, ev, prior); err != nil {
			entry.WithError(err).WithField("seq", ev.Seq).Warn("event sink failed")
		}
	}
	return ev, nil
}

// mutate runs with h.mu held. prior is the stored task before the change.
func (h *Hub) mutate(ctx context.Context, in domain.Intent) (ev domain.Event, prior *domain.Task, err error) {
	now := h.clock.Now()
	switch in.Kind {
	case domain.IntentCreate:
		id, err := h.ids.Next(ctx)
		if err != nil {
			return ev, nil, persistence("allocate id", err)
		}
		t := in.Draft.Task(id, now)
		if err := h.store.Insert(ctx, t); err != nil {
			return ev, nil, persistence("insert", err)
		}
		return h.stamp(ctx, domain.CreatedEvent(t), in, now), nil, nil

	case domain.IntentUpdate:
		if prior, err = h.load(ctx, in.TaskID); err != nil {
			return ev, nil, err
		}
		t := in.Patch.Merge(*prior, notBefore(now, prior.CreatedAt))
		if err := h.store.Replace(ctx, t); err != nil {
			return ev, nil, persistence("replace", err)
		}
		return h.stamp(ctx, domain.UpdatedEvent(t), in, now), prior, nil

	case domain.IntentDelete:
		if prior, err = h.load(ctx, in.TaskID); err != nil {
			return ev, nil, err
		}
		ok, err := h.store.Delete(ctx, in.TaskID)
		if err != nil {
			return ev, nil, persistence("delete", err)
		}
		if !ok {
			return ev, nil, ErrUnknownTask
		}
		return h.stamp(ctx, domain.DeletedEvent(in.TaskID), in, now), prior, nil

	case domain.IntentMove:
		if prior, err = h.load(ctx, in.TaskID); err != nil {
			return ev, nil, err
		}
		t := prior.Clone()
		t.Status = in.Status
		t.UpdatedAt = notBefore(now, prior.CreatedAt)
		if err := h.store.Replace(ctx, t); err != nil {
			return ev, nil, persistence("replace", err)
		}
		return h.stamp(ctx, domain.MovedEvent(t.ID, t.Status, t.Title), in, now), prior, nil
	}
	return ev, nil, fmt.Errorf("%w %q", domain.ErrUnknownKind, in.Kind)
}

func (h *Hub) load(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, persistence("load", err)
	}
	if t == nil {
		return nil, ErrUnknownTask
	}
	return t, nil
}

// stamp assigns the next sequence number once the write is durable. If the
// sequencer is unreachable the event still goes out with seq 0, which
// sessions always apply, so a persisted mutation is never left unannounced.
func (h *Hub) stamp(ctx context.Context, ev domain.Event, in domain.Intent, now time.Time) domain.Event {
	seq, err := h.seq.Next(ctx)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"intent": in.Kind, "task": ev.TaskID}).Error("sequence unavailable, broadcasting unsequenced")
		seq = 0
	}
	ev.Seq = seq
	ev.Actor = in.Actor
	ev.Time = now
	return ev
}

func (h *Hub) publish(ctx context.Context, ev domain.Event) {
	if h.relay != nil {
		h.relay.Publish(ctx, ev)
		return
	}
	h.broker.Publish(ev)
}

func persistence(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, stage, err)
}
