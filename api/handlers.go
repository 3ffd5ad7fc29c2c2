// Package api exposes the hub over HTTP: bulk reads, intent submission and
// the server-sent event stream.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/hub"
)

// Hub is the part of *hub.Hub the HTTP layer needs.
type Hub interface {
	Snapshot(ctx context.Context) (hub.Snapshot, error)
	Submit(ctx context.Context, in domain.Intent) error
	Subscribe() *hub.Subscription
	Unsubscribe(s *hub.Subscription)
	Roster() domain.Roster
}

// ActivityFeed serves the hub-side activity history.
type ActivityFeed interface {
	Recent(ctx context.Context, limit int) ([]domain.ActivityEntry, error)
}

type Options struct {
	// Feed is optional; without it /api/activity returns an empty list.
	Feed      ActivityFeed
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, h Hub, opts Options, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	e.GET("/api/health", health)
	e.GET("/api/tasks", getTasks(h, logger))
	e.GET("/api/users", getUsers(h))
	e.GET("/api/activity", getActivity(opts.Feed))
	e.POST("/api/intents", postIntents(h, logger), decompressIntents(postIntentMaxSize))
	e.GET("/api/stream", streamEvents(h, opts.Heartbeat, logger))
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "OK", Message: "Server is running"})
}

func getTasks(h Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newSnapshotMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		snap, fetchErr := h.Snapshot(c.Request().Context())
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(fetchErr).Error("snapshot failed")
			return c.String(http.StatusInternalServerError, "failed to load tasks")
		}
		metrics.SetResult(len(snap.Tasks), snap.Seq)

		encodeStart := time.Now()
		data, err := sonic.Marshal(snap)
		if err != nil {
			metrics.SetErrorStage("encode_response")
			return err
		}
		err = c.JSONBlob(http.StatusOK, data)
		metrics.ObserveEncode(time.Since(encodeStart))
		return err
	}
}

func getUsers(h Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, h.Roster().Users())
	}
}

func getActivity(feed ActivityFeed) echo.HandlerFunc {
	return func(c echo.Context) error {
		if feed == nil {
			return c.JSON(http.StatusOK, []domain.ActivityEntry{})
		}
		limit := defaultHistory
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
			limit = n
		}
		entries, err := feed.Recent(c.Request().Context(), limit)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load activity")
		}
		return c.JSON(http.StatusOK, entries)
	}
}

// postIntents accepts a single intent or an array of intents. Accepted
// intents are queued for the hub; whether the hub applies or rejects them is
// not reported back.
func postIntents(h Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, postIntentMaxSize+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, postIntentResponse{Error: "invalid body"})
		}
		if len(body) > postIntentMaxSize {
			return c.JSON(http.StatusRequestEntityTooLarge, postIntentResponse{Error: "body too large"})
		}
		intents, err := decodeIntents(body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, postIntentResponse{Error: "invalid body"})
		}

		ctx := c.Request().Context()
		keys := make([]string, len(intents))
		for i := range intents {
			if intents[i].IdempotencyKey == "" {
				intents[i].IdempotencyKey = uuid.NewString()
			}
			keys[i] = intents[i].IdempotencyKey
			if err := h.Submit(ctx, intents[i]); err != nil {
				logger.WithError(err).WithField("key", keys[i]).Warn("intent not queued")
			}
		}
		return c.JSON(http.StatusAccepted, postIntentResponse{IdempotencyKeys: keys})
	}
}

func decodeIntents(body []byte) ([]domain.Intent, error) {
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		intents := make([]domain.Intent, 0, 4)
		if err := dec.Decode(&intents); err != nil {
			return nil, err
		}
		return intents, nil
	}
	var in domain.Intent
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	return []domain.Intent{in}, nil
}
