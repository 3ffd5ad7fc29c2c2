package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"taskboard/domain"
	"taskboard/storage"
)

type failingStore struct {
	*storage.Memory
	insertErr  error
	replaceErr error
}

func (f *failingStore) Insert(ctx context.Context, t domain.Task) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.Memory.Insert(ctx, t)
}

func (f *failingStore) Replace(ctx context.Context, t domain.Task) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.Memory.Replace(ctx, t)
}

// gatedStore holds Insert until release is closed.
type gatedStore struct {
	*storage.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Insert(ctx context.Context, t domain.Task) error {
	close(g.entered)
	<-g.release
	return g.Memory.Insert(ctx, t)
}

type brokenCounter struct{ err error }

func (b brokenCounter) Next(context.Context) (int64, error)    { return 0, b.err }
func (b brokenCounter) Current(context.Context) (int64, error) { return 0, nil }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	priors []*domain.Task
}

func (r *recordingSink) Record(_ context.Context, ev domain.Event, prior *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.priors = append(r.priors, prior)
	return nil
}

func newTestHub(t *testing.T, store TaskStore, opts Options) *Hub {
	t.Helper()
	if opts.Logger == nil {
		logger, _ := test.NewNullLogger()
		opts.Logger = logger
	}
	h, err := New(context.Background(), store, opts)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return h
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return rc, m
}

func receive(t *testing.T, s *Subscription) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return domain.Event{}
}

func expectSilence(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCreateBroadcastsToEverySubscriber(t *testing.T) {
	h := newTestHub(t, storage.NewMemory(), Options{})
	a, b := h.Subscribe(), h.Subscribe()

	ev, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "  Write docs "}).By(1))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, s := range []*Subscription{a, b} {
		got := receive(t, s)
		if got.Kind != domain.TaskCreated || got.Seq != 1 || got.Actor != 1 {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.Task.ID != 1 || got.Task.Title != "Write docs" {
			t.Fatalf("unexpected task %+v", got.Task)
		}
		if got.Task.Status != domain.StatusTodo || got.Task.Priority != domain.PriorityMedium {
			t.Fatalf("defaults not applied: %+v", got.Task)
		}
	}
	if ev.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", ev.Seq)
	}
}

func TestValidationErrorsAreNotBroadcast(t *testing.T) {
	h := newTestHub(t, storage.NewMemory(), Options{})
	s := h.Subscribe()

	_, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "   "}))
	if !domain.IsValidation(err) || !errors.Is(err, domain.ErrEmptyTitle) {
		t.Fatalf("expected empty title validation error, got %v", err)
	}
	_, err = h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "x"}).By(42))
	if !errors.Is(err, domain.ErrUnknownActor) {
		t.Fatalf("expected unknown actor, got %v", err)
	}
	expectSilence(t, s)

	ev, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "ok"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ev.Seq != 1 || ev.Task.ID != 1 {
		t.Fatalf("rejected intents must not consume seq or ids: %+v", ev)
	}
}

func TestUnknownTaskIsSilentNoOp(t *testing.T) {
	h := newTestHub(t, storage.NewMemory(), Options{})
	s := h.Subscribe()
	title := "x"
	intents := []domain.Intent{
		domain.UpdateIntent(99, domain.Patch{Title: &title}),
		domain.DeleteIntent(99),
		domain.MoveIntent(99, domain.StatusDone),
	}
	for _, in := range intents {
		if _, err := h.Apply(context.Background(), in); !errors.Is(err, ErrUnknownTask) {
			t.Fatalf("%s: expected ErrUnknownTask, got %v", in.Kind, err)
		}
	}
	expectSilence(t, s)
}

func TestMoveKeepsTitleAndOrdersTimestamps(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newTestHub(t, storage.NewMemory(), Options{Now: func() time.Time { return fixed }})
	created, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "Ship"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	moved, err := h.Apply(context.Background(), domain.MoveIntent(created.Task.ID, domain.StatusInProgress).By(2))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Kind != domain.TaskMoved || moved.Move.TaskTitle != "Ship" || moved.Move.NewStatus != domain.StatusInProgress {
		t.Fatalf("unexpected move event %+v", moved.Move)
	}
	snap, err := h.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got := snap.Tasks[0]
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("expected updatedAt after createdAt with a frozen clock: %v %v", got.CreatedAt, got.UpdatedAt)
	}
	if snap.Seq != 2 {
		t.Fatalf("expected snapshot seq 2, got %d", snap.Seq)
	}
}

func TestUpdateAndDeleteCarryPriorState(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(t, storage.NewMemory(), Options{Sinks: []EventSink{sink}})
	ctx := context.Background()
	created, _ := h.Apply(ctx, domain.CreateIntent(domain.Draft{Title: "Old"}))
	title := "New"
	if _, err := h.Apply(ctx, domain.UpdateIntent(created.Task.ID, domain.Patch{Title: &title, AssignedTo: domain.Assign(3)})); err != nil {
		t.Fatalf("update: %v", err)
	}
	deleted, err := h.Apply(ctx, domain.DeleteIntent(created.Task.ID))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Kind != domain.TaskDeleted || deleted.Task != nil || deleted.TaskID != created.Task.ID {
		t.Fatalf("unexpected delete event %+v", deleted)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 sink events, got %d", len(sink.events))
	}
	if sink.priors[0] != nil {
		t.Fatalf("create has no prior")
	}
	if sink.priors[1].Title != "Old" || sink.events[1].Task.Title != "New" {
		t.Fatalf("unexpected update prior/event")
	}
	if id, ok := sink.events[1].Task.Assignee(); !ok || id != 3 {
		t.Fatalf("expected assignee 3")
	}
	if sink.priors[2].Title != "New" {
		t.Fatalf("delete prior should hold last title, got %q", sink.priors[2].Title)
	}
	snap, _ := h.Snapshot(ctx)
	if len(snap.Tasks) != 0 {
		t.Fatalf("expected empty collection, got %d", len(snap.Tasks))
	}
}

func TestPersistenceFailureSuppressesBroadcast(t *testing.T) {
	rc, _ := setupRedis(t)
	store := &failingStore{Memory: storage.NewMemory(), insertErr: errors.New("disk full")}
	logger, hook := test.NewNullLogger()
	h := newTestHub(t, store, Options{Deduper: NewRedisDeduper(rc, time.Minute), Logger: logger})
	s := h.Subscribe()

	in := domain.CreateIntent(domain.Draft{Title: "x"})
	in.IdempotencyKey = "k1"
	if _, err := h.Apply(context.Background(), in); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	expectSilence(t, s)
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log, got %+v", entry)
	}

	store.insertErr = nil
	if _, err := h.Apply(context.Background(), in); err != nil {
		t.Fatalf("resubmit after failure should succeed: %v", err)
	}
	if got := receive(t, s); got.Kind != domain.TaskCreated {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestDuplicateIdempotencyKeyIsDropped(t *testing.T) {
	rc, _ := setupRedis(t)
	h := newTestHub(t, storage.NewMemory(), Options{Deduper: NewRedisDeduper(rc, time.Minute)})
	in := domain.CreateIntent(domain.Draft{Title: "once"})
	in.IdempotencyKey = "abc"
	if _, err := h.Apply(context.Background(), in); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := h.Apply(context.Background(), in); !errors.Is(err, ErrDuplicateIntent) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	snap, _ := h.Snapshot(context.Background())
	if len(snap.Tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(snap.Tasks))
	}
}

func TestConcurrentCreatesGetDistinctIDsInSeqOrder(t *testing.T) {
	h := newTestHub(t, storage.NewMemory(), Options{})
	s := h.Subscribe()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "t"})); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	ids := make(map[int64]bool)
	for i := 1; i <= n; i++ {
		ev := receive(t, s)
		if ev.Seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, ev.Seq)
		}
		if ids[ev.Task.ID] {
			t.Fatalf("duplicate id %d", ev.Task.ID)
		}
		ids[ev.Task.ID] = true
	}
}

func TestIDsContinueAfterExistingTasks(t *testing.T) {
	seed := domain.Task{ID: 7, Title: "seeded", Status: domain.StatusTodo, Priority: domain.PriorityLow}
	h := newTestHub(t, storage.NewMemory(seed), Options{})
	ev, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "next"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ev.Task.ID != 8 {
		t.Fatalf("expected id 8, got %d", ev.Task.ID)
	}
}

func TestSubmitRunAppliesInOrder(t *testing.T) {
	h := newTestHub(t, storage.NewMemory(), Options{QueueSize: 8})
	s := h.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	for _, title := range []string{"a", "b", "c"} {
		if err := h.Submit(ctx, domain.CreateIntent(domain.Draft{Title: title})); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i, want := range []string{"a", "b", "c"} {
		ev := receive(t, s)
		if ev.Task.Title != want || ev.Seq != int64(i+1) {
			t.Fatalf("unexpected event %d: %+v", i, ev)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
	if err := h.Submit(context.Background(), domain.DeleteIntent(1)); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Run exits, got %v", err)
	}
}

func TestSubmitDropsWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := newTestHub(t, storage.NewMemory(), Options{QueueSize: 1, HandoffTimeout: 5 * time.Millisecond, Logger: logger})
	ctx := context.Background()
	if err := h.Submit(ctx, domain.CreateIntent(domain.Draft{Title: "a"})); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := h.Submit(ctx, domain.CreateIntent(domain.Draft{Title: "b"})); !errors.Is(err, ErrSaturated) {
		t.Fatalf("expected ErrSaturated, got %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning, got %+v", entry)
	}
}

func TestRedisCountersShareIDs(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx := context.Background()
	store := storage.NewMemory()
	ids, err := NewRedisCounter(ctx, rc, "taskboard:ids", 10)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	seq, err := NewRedisCounter(ctx, rc, "taskboard:seq", 0)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	a := newTestHub(t, store, Options{IDs: ids, Seq: seq})
	b := newTestHub(t, store, Options{IDs: ids, Seq: seq})

	e1, err := a.Apply(ctx, domain.CreateIntent(domain.Draft{Title: "a"}))
	if err != nil {
		t.Fatalf("apply a: %v", err)
	}
	e2, err := b.Apply(ctx, domain.CreateIntent(domain.Draft{Title: "b"}))
	if err != nil {
		t.Fatalf("apply b: %v", err)
	}
	if e1.Task.ID != 11 || e2.Task.ID != 12 {
		t.Fatalf("unexpected ids %d %d", e1.Task.ID, e2.Task.ID)
	}
	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("unexpected seqs %d %d", e1.Seq, e2.Seq)
	}
}

func TestSnapshotFromAnotherHubNeverCoversUnwrittenEvent(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx := context.Background()
	mem := storage.NewMemory()
	ids, err := NewRedisCounter(ctx, rc, "taskboard:ids", 0)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	seq, err := NewRedisCounter(ctx, rc, "taskboard:seq", 0)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	gated := &gatedStore{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	reader := newTestHub(t, mem, Options{IDs: ids, Seq: seq})
	writer := newTestHub(t, gated, Options{IDs: ids, Seq: seq})

	done := make(chan domain.Event, 1)
	go func() {
		ev, err := writer.Apply(ctx, domain.CreateIntent(domain.Draft{Title: "slow write"}))
		if err != nil {
			t.Errorf("apply: %v", err)
		}
		done <- ev
	}()

	<-gated.entered
	snap, err := reader.Snapshot(ctx)
	close(gated.release)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	ev := <-done

	if len(snap.Tasks) != 0 {
		t.Fatalf("write was still blocked, got %d tasks", len(snap.Tasks))
	}
	if ev.Seq <= snap.Seq {
		t.Fatalf("event seq %d is covered by snapshot seq %d but its task is missing", ev.Seq, snap.Seq)
	}

	after, err := reader.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(after.Tasks) != 1 || after.Seq != ev.Seq {
		t.Fatalf("expected the written task at seq %d, got %+v", ev.Seq, after)
	}
}

func TestSequencerOutageStillBroadcastsPersistedMutation(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := storage.NewMemory()
	h := newTestHub(t, store, Options{Seq: brokenCounter{err: errors.New("redis down")}, Logger: logger})
	s := h.Subscribe()

	ev, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "kept"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := receive(t, s); got.Seq != 0 || got.Task.Title != "kept" {
		t.Fatalf("expected unsequenced broadcast, got %+v", got)
	}
	if stored, _ := store.Get(context.Background(), ev.TaskID); stored == nil {
		t.Fatal("task not persisted")
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.ErrorLevel && e.Message == "sequence unavailable, broadcasting unsequenced" {
			logged = true
		}
	}
	if !logged {
		t.Fatal("expected sequencer error to be logged")
	}
}

func TestApplyRecordsSpan(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()
	h := newTestHub(t, storage.NewMemory(), Options{})

	if _, err := h.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "traced"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	store := &failingStore{Memory: storage.NewMemory(), insertErr: errors.New("boom")}
	failing := newTestHub(t, store, Options{})
	_, _ = failing.Apply(context.Background(), domain.CreateIntent(domain.Draft{Title: "lost"}))

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	ok := attributesToMap(spans[0].Attributes)
	if spans[0].Name != "hub.create" || ok["taskboard.outcome"] != "accepted" || ok["taskboard.seq"] != int64(1) {
		t.Fatalf("unexpected span %s %#v", spans[0].Name, ok)
	}
	failed := attributesToMap(spans[1].Attributes)
	if failed["taskboard.outcome"] != "failed" || spans[1].Status.Code != codes.Error {
		t.Fatalf("expected failed span, got %#v %v", failed, spans[1].Status)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
