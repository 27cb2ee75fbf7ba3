package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"shiftline/internal/config"
	"shiftline/internal/domain"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

var (
	ErrQueueFull = errors.New("webhook queue full")
	ErrClosed    = errors.New("webhook sink closed")
)

// WebhookSink posts notifications to configured URLs from a background worker
// so slow receivers never hold up a committed transition.
type WebhookSink struct {
	hooks  []config.WebhookConfig
	client *http.Client
	logger *slog.Logger
	queue  chan domain.Notification
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewWebhookSink(hooks []config.WebhookConfig, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	return &WebhookSink{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
		queue:  make(chan domain.Notification, defaultWebhookQueue),
		done:   make(chan struct{}),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Start launches the delivery worker; it stops when ctx ends or Close is called.
func (s *WebhookSink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Close stops the worker and waits for the in-flight delivery.
func (s *WebhookSink) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *WebhookSink) Deliver(_ context.Context, n domain.Notification) error {
	if len(s.hooks) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *WebhookSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			if dropped := len(s.queue); dropped > 0 {
				s.logger.Warn("webhook: dropping queued notifications on shutdown", "count", dropped)
			}
			return
		case n := <-s.queue:
			s.dispatch(ctx, n)
		}
	}
}

func (s *WebhookSink) dispatch(ctx context.Context, n domain.Notification) {
	for _, hook := range s.hooks {
		if !newEventFilter(hook.Events).match(n.Type) {
			continue
		}
		if err := s.post(ctx, hook, n); err != nil {
			s.logger.Error("webhook: delivery failed", "url", hook.URL, "type", n.Type, "id", n.ID, "error", err)
		}
	}
}

func (s *WebhookSink) post(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	client := s.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != s.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shiftline-Event", n.Type)
	req.Header.Set("X-Shiftline-Delivery", n.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Shiftline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
