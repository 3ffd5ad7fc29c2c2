package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/api"
	"taskboard/domain"
	"taskboard/hub"
	"taskboard/session"
	"taskboard/storage"
)

func startServer(t *testing.T) (*hub.Hub, *HTTP) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h, err := hub.New(context.Background(), storage.NewMemory(), hub.Options{Logger: logger})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	e := echo.New()
	api.Register(e, h, api.Options{Heartbeat: 10 * time.Millisecond}, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, New(srv.URL)
}

func TestHealthAndUsers(t *testing.T) {
	_, c := startServer(t)
	ctx := context.Background()
	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	users, err := c.Users(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 4 {
		t.Fatalf("expected 4 users, got %d", len(users))
	}
	entries, err := c.Activity(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty activity, got %v %v", entries, err)
	}
}

func TestSendAndStreamRoundTrip(t *testing.T) {
	_, c := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := c.Stream(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	intents := []domain.Intent{
		domain.CreateIntent(domain.Draft{Title: "over the wire", Priority: domain.PriorityHigh}).By(1),
		domain.MoveIntent(1, domain.StatusDone).By(2),
	}
	if err := c.Send(ctx, intents...); err != nil {
		t.Fatalf("send: %v", err)
	}

	created, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if created.Kind != domain.TaskCreated || created.Task.Title != "over the wire" || created.Seq != 1 {
		t.Fatalf("unexpected event %+v", created)
	}
	moved, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if moved.Kind != domain.TaskMoved || moved.Move.NewStatus != domain.StatusDone || moved.Actor != 2 {
		t.Fatalf("unexpected event %+v", moved)
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Status != domain.StatusDone || snap.Seq != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSessionOverHTTP(t *testing.T) {
	_, c := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, _ := test.NewNullLogger()
	s := session.New(c, session.Options{Actor: 3, Logger: logger})
	stream, err := s.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	go s.Run(ctx, stream)

	if err := s.Create(ctx, domain.Draft{Title: "from session"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.View().Tasks) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("task never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	v := s.View()
	if v.Activity[0].User != "Carol Davis" {
		t.Fatalf("unexpected attribution %+v", v.Activity[0])
	}
}

func TestSSEStreamParsing(t *testing.T) {
	raw := ": subscribed\n\n" +
		": ping\n\n" +
		"data: {\"type\":\"task-deleted\",\"seq\":3,\"actor\":0,\"time\":\"2024-05-01T12:00:00Z\",\"data\":5}\n\n" +
		"data:{\"type\":\"task-deleted\",\"seq\":4,\"actor\":0,\"time\":\"2024-05-01T12:00:00Z\",\"data\":6}\n\n"
	s := newSSEStream(io.NopCloser(strings.NewReader(raw)))
	if err := s.awaitSubscribed(); err != nil {
		t.Fatalf("await: %v", err)
	}
	for _, want := range []int64{5, 6} {
		ev, err := s.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if ev.Kind != domain.TaskDeleted || ev.TaskID != want {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	if _, err := s.Next(); !errors.Is(err, session.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestSendSurfacesRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid body", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := New(srv.URL)
	err := c.Send(context.Background(), domain.DeleteIntent(1))
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}
