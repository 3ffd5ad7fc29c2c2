package session

import (
	"context"
	"errors"

	"taskboard/domain"
	"taskboard/hub"
)

// Local connects a session to a hub in the same process.
type Local struct {
	Hub *hub.Hub
}

func (l Local) Snapshot(ctx context.Context) (hub.Snapshot, error) {
	return l.Hub.Snapshot(ctx)
}

func (l Local) Send(ctx context.Context, intents ...domain.Intent) error {
	var errs []error
	for _, in := range intents {
		if err := l.Hub.Submit(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l Local) Stream(ctx context.Context) (Stream, error) {
	return &localStream{ctx: ctx, hub: l.Hub, sub: l.Hub.Subscribe()}, nil
}

type localStream struct {
	ctx context.Context
	hub *hub.Hub
	sub *hub.Subscription
}

func (s *localStream) Next() (domain.Event, error) {
	select {
	case <-s.ctx.Done():
		return domain.Event{}, s.ctx.Err()
	case ev, ok := <-s.sub.C:
		if !ok {
			return domain.Event{}, ErrStreamClosed
		}
		return ev, nil
	}
}

func (s *localStream) Close() error {
	s.hub.Unsubscribe(s.sub)
	return nil
}
