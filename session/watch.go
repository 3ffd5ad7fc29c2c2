package session

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Watch keeps the session connected until ctx is done. Every reconnect takes
// a fresh snapshot; nothing is replayed.
func (s *Session) Watch(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		stream, err := s.Connect(ctx)
		if err == nil {
			backoff = s.minBackoff
			err = s.Run(ctx, stream)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WithFields(log.Fields{"backoff": backoff}).WithError(err).Warn("session disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}
