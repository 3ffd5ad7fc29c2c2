package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// streamEvents relays canonical events as server-sent events. The first frame
// is a comment sent once the subscription exists, so a client that waits for
// it before taking a snapshot cannot miss an event. The stream ends when the
// subscriber is evicted; clients reconnect and re-snapshot.
func streamEvents(h Hub, heartbeat time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		sub := h.Subscribe()
		defer h.Unsubscribe(sub)

		w := c.Response()
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(sseSubscribed)); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.Write([]byte(sseHeartbeat)); err != nil {
					return nil
				}
				flusher.Flush()
			case ev, ok := <-sub.C:
				if !ok {
					logger.Debug("stream subscriber evicted, closing stream")
					return nil
				}
				data, err := sonic.Marshal(ev)
				if err != nil {
					logger.WithError(err).WithField("seq", ev.Seq).Error("encode event")
					continue
				}
				frame := make([]byte, 0, len(sseDataPrefix)+len(data)+len(sseFrameEnd))
				frame = append(frame, sseDataPrefix...)
				frame = append(frame, data...)
				frame = append(frame, sseFrameEnd...)
				if _, err := w.Write(frame); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
