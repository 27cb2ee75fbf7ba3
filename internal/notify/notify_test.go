package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/notify"
)

type recordingSink struct {
	got []domain.Notification
	err error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, n domain.Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func TestHubStampsAndFansOut(t *testing.T) {
	var logs bytes.Buffer
	failing := &recordingSink{err: errors.New("offline")}
	ok := &recordingSink{}
	hub := notify.NewHub(slog.New(slog.NewTextHandler(&logs, nil)), failing, ok)
	hub.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	hub.Publish(context.Background(), domain.Notification{Type: domain.NotifyHandoverCompleted, HandoverID: 4})

	require.Len(t, ok.got, 1)
	require.Len(t, failing.got, 1)
	n := ok.got[0]
	_, err := uuid.Parse(n.ID)
	assert.NoError(t, err)
	assert.Equal(t, "2024-01-01T12:00:00.000000Z", n.TS)
	assert.Contains(t, logs.String(), "notification delivery failed")
}

func TestWebhookSinkPostsMatchingEvents(t *testing.T) {
	received := make(chan *http.Request, 4)
	bodies := make(chan domain.Notification, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n domain.Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		received <- r
		bodies <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := notify.NewWebhookSink([]config.WebhookConfig{{
		URL:    srv.URL,
		Secret: "s3cret",
		Events: []string{domain.NotifyHandoverCompleted},
	}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)
	defer sink.Close()

	require.NoError(t, sink.Deliver(ctx, domain.Notification{ID: "skip", Type: domain.NotifyShiftStarted}))
	require.NoError(t, sink.Deliver(ctx, domain.Notification{ID: "d-1", Type: domain.NotifyHandoverCompleted, HandoverID: 9}))

	select {
	case r := <-received:
		assert.Equal(t, domain.NotifyHandoverCompleted, r.Header.Get("X-Shiftline-Event"))
		assert.Equal(t, "d-1", r.Header.Get("X-Shiftline-Delivery"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Shiftline-Secret"))
		n := <-bodies
		assert.Equal(t, int64(9), n.HandoverID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
	select {
	case r := <-received:
		t.Fatalf("unexpected delivery %s", r.Header.Get("X-Shiftline-Event"))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookSinkClosed(t *testing.T) {
	sink := notify.NewWebhookSink([]config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}}, nil)
	sink.Close()
	assert.ErrorIs(t, sink.Deliver(context.Background(), domain.Notification{Type: "x"}), notify.ErrClosed)
}
