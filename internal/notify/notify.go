// Package notify fans lifecycle notifications out to sinks once the
// transition that produced them has committed.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shiftline/internal/domain"
)

// Publisher receives committed lifecycle notifications.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification)
}

// Sink delivers a notification somewhere. Errors are logged by the Hub.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

type Hub struct {
	Sinks  []Sink
	Logger *slog.Logger
	Now    func() time.Time
}

func NewHub(logger *slog.Logger, sinks ...Sink) *Hub {
	return &Hub{Sinks: sinks, Logger: logger, Now: time.Now}
}

func (h *Hub) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Publish stamps n with a delivery id and hands it to every sink.
func (h *Hub) Publish(ctx context.Context, n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.TS == "" {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		n.TS = domain.FormatTime(now())
	}
	for _, s := range h.Sinks {
		if err := s.Deliver(ctx, n); err != nil {
			h.logger().Error("notification delivery failed", "sink", s.Name(), "type", n.Type, "id", n.ID, "error", err)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Publish(context.Context, domain.Notification) {}

// LogSink writes each notification as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, n domain.Notification) error {
	if s.Logger == nil {
		return nil
	}
	attrs := []any{"id", n.ID, "object_id", n.ObjectID}
	if n.ShiftID != 0 {
		attrs = append(attrs, "shift_id", n.ShiftID)
	}
	if n.HandoverID != 0 {
		attrs = append(attrs, "handover_id", n.HandoverID, "by_id", n.ByID, "to_id", n.ToID)
	}
	if len(n.Recipients) > 0 {
		attrs = append(attrs, "recipients", n.Recipients)
	}
	s.Logger.InfoContext(ctx, n.Type, attrs...)
	return nil
}
