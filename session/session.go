// Package session keeps a client's projection of the board in step with the
// hub and turns user actions into intents.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/hub"
)

// ErrStreamClosed is returned by Stream.Next once the hub stopped sending.
var ErrStreamClosed = errors.New("event stream closed")

// Transport connects a session to a hub.
type Transport interface {
	Snapshot(ctx context.Context) (hub.Snapshot, error)
	Send(ctx context.Context, intents ...domain.Intent) error
	// Stream subscribes to canonical events. The subscription exists when
	// Stream returns, so a snapshot taken afterwards misses nothing.
	Stream(ctx context.Context) (Stream, error)
}

type Stream interface {
	Next() (domain.Event, error)
	Close() error
}

type Options struct {
	Roster domain.Roster
	// Actor is the roster user every intent from this session is sent as.
	Actor       int64
	Cache       *LocalCache
	ActivityCap int
	Logger      *log.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Session struct {
	transport Transport
	roster    domain.Roster
	actor     int64
	cache     *LocalCache
	logger    *log.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	proj     *Projection
	recorder *Recorder
	onChange func(View)

	// floor is the highest seq below which every event has been seen. applied
	// holds the seqs above floor that were applied out of order, last the
	// highest seq applied so far and taskSeq the latest seq per task id.
	floor   int64
	last    int64
	applied map[int64]struct{}
	taskSeq map[int64]int64
}

// maxPendingSeqs bounds applied. A seq that never arrives stops holding back
// floor once this many later seqs are waiting.
const maxPendingSeqs = 1024

func New(t Transport, opts Options) *Session {
	s := &Session{
		transport:  t,
		roster:     opts.Roster,
		actor:      opts.Actor,
		cache:      opts.Cache,
		logger:     opts.Logger,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		proj:       NewProjection(nil),
		applied:    make(map[int64]struct{}),
		taskSeq:    make(map[int64]int64),
	}
	if s.roster.Len() == 0 {
		s.roster = domain.DefaultRoster()
	}
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	if s.minBackoff <= 0 {
		s.minBackoff = time.Second
	}
	if s.maxBackoff < s.minBackoff {
		s.maxBackoff = max(5*time.Second, s.minBackoff)
	}
	s.recorder = NewRecorder(opts.ActivityCap, s.roster)
	return s
}

// OnChange registers fn to be called with a fresh View after every change.
// fn runs on the goroutine that applied the change.
func (s *Session) OnChange(fn func(View)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Connect paints from the local cache, subscribes and then replaces the
// projection with an authoritative snapshot. Events up to the snapshot's seq
// are already reflected in it and will be skipped by Run.
func (s *Session) Connect(ctx context.Context) (Stream, error) {
	if s.cache != nil {
		if tasks, ok := s.cache.Load(); ok {
			s.mu.Lock()
			s.proj.Replace(tasks)
			s.mu.Unlock()
			s.notify()
		}
	}

	stream, err := s.transport.Stream(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.transport.Snapshot(ctx)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	s.mu.Lock()
	s.proj.Replace(snap.Tasks)
	s.floor, s.last = snap.Seq, snap.Seq
	s.applied = make(map[int64]struct{})
	s.taskSeq = make(map[int64]int64)
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Save(snap.Tasks)
	}
	s.logger.WithFields(log.Fields{"tasks": len(snap.Tasks), "seq": snap.Seq}).Debug("session synchronized")
	s.notify()
	return stream, nil
}

// Run applies events from stream one at a time until it ends. It always
// returns a non-nil error; ErrStreamClosed means the hub ended the stream.
func (s *Session) Run(ctx context.Context, stream Stream) error {
	defer stream.Close()
	defer s.saveCache()
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.Apply(ev)
	}
}

// Apply reconciles one event. Events covered by the last snapshot or already
// applied are ignored, so a redelivery neither changes the projection nor adds
// activity. An event older than the last one applied to the same task is
// recorded as activity but does not overwrite the newer state. Events with
// seq 0 carry no ordering and are always applied.
func (s *Session) Apply(ev domain.Event) bool {
	s.mu.Lock()
	if ev.Seq != 0 && s.seen(ev.Seq) {
		s.mu.Unlock()
		return false
	}
	var title string
	var status domain.Status
	if t, ok := s.proj.Get(ev.TaskID); ok {
		title, status = t.Title, t.Status
	}
	changed := false
	if ev.Seq == 0 || ev.Seq > s.taskSeq[ev.TaskID] {
		var err error
		if changed, err = s.proj.Apply(ev); err != nil {
			s.mu.Unlock()
			s.logger.WithError(err).WithField("seq", ev.Seq).Warn("unrecognized event")
			return false
		}
	} else {
		s.logger.WithFields(log.Fields{"seq": ev.Seq, "task": ev.TaskID}).Debug("superseded event not applied")
	}
	if ev.Seq != 0 {
		s.markApplied(ev.Seq)
		s.taskSeq[ev.TaskID] = max(s.taskSeq[ev.TaskID], ev.Seq)
	}
	if err := s.recorder.Record(ev, title, status); err != nil {
		s.logger.WithError(err).WithField("seq", ev.Seq).Warn("activity not recorded")
	}
	s.mu.Unlock()

	s.notify()
	return changed
}

func (s *Session) seen(seq int64) bool {
	if seq <= s.floor {
		return true
	}
	_, ok := s.applied[seq]
	return ok
}

func (s *Session) markApplied(seq int64) {
	s.applied[seq] = struct{}{}
	s.last = max(s.last, seq)
	if len(s.applied) > maxPendingSeqs {
		lowest := s.last
		for v := range s.applied {
			lowest = min(lowest, v)
		}
		s.floor = lowest - 1
	}
	for {
		if _, ok := s.applied[s.floor+1]; !ok {
			return
		}
		delete(s.applied, s.floor+1)
		s.floor++
	}
}

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	tasks := s.proj.Tasks()
	return View{
		Tasks:    tasks,
		Columns:  Columns(tasks),
		Stats:    ComputeStats(tasks),
		Activity: s.recorder.Entries(),
		Seq:      s.last,
		Roster:   s.roster,
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	var v View
	if fn != nil {
		v = s.viewLocked()
	}
	s.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

func (s *Session) saveCache() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	tasks := s.proj.Tasks()
	s.mu.Unlock()
	s.cache.Save(tasks)
}

// Create validates the draft locally and sends it. The task appears only when
// the hub broadcasts it.
func (s *Session) Create(ctx context.Context, d domain.Draft) error {
	d, err := d.Normalize()
	if err != nil {
		return err
	}
	return s.send(ctx, domain.CreateIntent(d))
}

func (s *Session) Update(ctx context.Context, id int64, p domain.Patch) error {
	p, err := p.Normalize()
	if err != nil {
		return err
	}
	return s.send(ctx, domain.UpdateIntent(id, p))
}

func (s *Session) Delete(ctx context.Context, id int64) error {
	return s.send(ctx, domain.DeleteIntent(id))
}

func (s *Session) Move(ctx context.Context, id int64, st domain.Status) error {
	st, err := domain.ParseStatus(string(st))
	if err != nil {
		return err
	}
	return s.send(ctx, domain.MoveIntent(id, st))
}

func (s *Session) send(ctx context.Context, in domain.Intent) error {
	in = in.By(s.actor)
	in.IdempotencyKey = uuid.NewString()
	if err := s.transport.Send(ctx, in); err != nil {
		s.logger.WithError(err).WithField("intent", in.Kind).Warn("intent not delivered")
		return err
	}
	return nil
}
