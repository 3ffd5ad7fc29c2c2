// Package client talks to a taskboard server over HTTP and implements the
// session transport.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"taskboard/domain"
	"taskboard/hub"
	"taskboard/session"
)

const maxFrameSize = 1 << 20

// HTTP wraps http.Client with the taskboard endpoints.
type HTTP struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *HTTP {
	return &HTTP{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(headerAccept, mimeJSON)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, out)
}

func (c *HTTP) Snapshot(ctx context.Context) (hub.Snapshot, error) {
	var snap hub.Snapshot
	err := c.getJSON(ctx, "/api/tasks", &snap)
	return snap, err
}

func (c *HTTP) Users(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := c.getJSON(ctx, "/api/users", &users)
	return users, err
}

func (c *HTTP) Activity(ctx context.Context) ([]domain.ActivityEntry, error) {
	var entries []domain.ActivityEntry
	err := c.getJSON(ctx, "/api/activity", &entries)
	return entries, err
}

// Health returns nil when the server reports itself operational.
func (c *HTTP) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/api/health", &body); err != nil {
		return err
	}
	if body.Status != "OK" {
		return fmt.Errorf("health: status %q", body.Status)
	}
	return nil
}

// Send posts the intents as one batch. A nil error only means the server
// queued them.
func (c *HTTP) Send(ctx context.Context, intents ...domain.Intent) error {
	if len(intents) == 0 {
		return nil
	}
	body, err := sonic.Marshal(intents)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/intents", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(headerContentType, mimeJSON)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Stream opens the event stream and returns once the server confirmed the
// subscription.
func (c *HTTP) Stream(ctx context.Context) (session.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAccept, mimeEventStream)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	s := newSSEStream(resp.Body)
	if err := s.awaitSubscribed(); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return s, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: %d %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}

const (
	headerAccept      = "Accept"
	headerContentType = "Content-Type"
	mimeJSON          = "application/json"
	mimeEventStream   = "text/event-stream"
)

// sseStream decodes `data:` frames into events. Comment lines, including
// heartbeats, are skipped.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &sseStream{body: body, scanner: sc}
}

func (s *sseStream) awaitSubscribed() error {
	for s.scanner.Scan() {
		if strings.HasPrefix(s.scanner.Text(), ": subscribed") {
			return nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return err
	}
	return session.ErrStreamClosed
}

func (s *sseStream) Next() (domain.Event, error) {
	var data []byte
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			var ev domain.Event
			if err := sonic.Unmarshal(data, &ev); err != nil {
				return domain.Event{}, fmt.Errorf("decode event: %w", err)
			}
			return ev, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{}, session.ErrStreamClosed
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
