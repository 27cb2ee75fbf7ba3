package shiftlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Shiftline HTTP API client, suitable for a chat bot
// front end acting on behalf of guards.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// GuardID is sent as X-Guard-Id when no credentials are set. The server
	// only honours it with server.allow_guard_header enabled.
	GuardID    int64
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// As returns a copy of c acting as guardID through the X-Guard-Id header.
func (c *Client) As(guardID int64) *Client {
	cp := *c
	cp.GuardID = guardID
	cp.APIKey = ""
	cp.BearerToken = ""
	return &cp
}

type Shift struct {
	ID        int64   `json:"id"`
	GuardID   int64   `json:"guard_id"`
	ObjectID  int64   `json:"object_id"`
	StartTime string  `json:"start_time"`
	EndTime   *string `json:"end_time,omitempty"`
	Status    string  `json:"status"`
}

type Event struct {
	ID          int64  `json:"id"`
	ShiftID     int64  `json:"shift_id"`
	ObjectID    int64  `json:"object_id"`
	Type        string `json:"event_type"`
	Description string `json:"description"`
	AuthorID    int64  `json:"author_id"`
	CreatedAt   string `json:"created_at"`
}

type Handover struct {
	ID              int64   `json:"id"`
	ShiftID         int64   `json:"shift_id"`
	ObjectID        int64   `json:"object_id"`
	ByID            int64   `json:"handover_by_id"`
	ToID            int64   `json:"handover_to_id"`
	Status          string  `json:"status"`
	Summary         string  `json:"summary"`
	Notes           *string `json:"notes,omitempty"`
	HandedOverAt    string  `json:"handed_over_at"`
	AcceptedAt      *string `json:"accepted_at,omitempty"`
	ReceiverShiftID *int64  `json:"receiver_shift_id,omitempty"`
}

type PendingHandovers struct {
	Incoming []Handover `json:"incoming"`
	Outgoing []Handover `json:"outgoing"`
}

// APIError wraps non-2xx responses. Code carries the server's error code,
// e.g. "object_occupied".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// StartShift starts a shift for the caller on their assigned object.
func (c *Client) StartShift(ctx context.Context) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodPost, "shifts", map[string]any{}, &resp)
	return resp, err
}

// EndShift ends a shift on a TEMPORARY_SINGLE object.
func (c *Client) EndShift(ctx context.Context, shiftID int64) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("shifts/%d/end", shiftID), map[string]any{}, &resp)
	return resp, err
}

// ActiveShift returns the guard's active shift, if any.
func (c *Client) ActiveShift(ctx context.Context, guardID int64) (Shift, bool, error) {
	var resp struct {
		Active bool   `json:"active"`
		Shift  *Shift `json:"shift"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("guards/%d/active-shift", guardID), nil, &resp); err != nil {
		return Shift{}, false, err
	}
	if !resp.Active || resp.Shift == nil {
		return Shift{}, false, nil
	}
	return *resp.Shift, true, nil
}

// Summary renders the current summary text of a shift.
func (c *Client) Summary(ctx context.Context, shiftID int64) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("shifts/%d/summary", shiftID), nil, &resp)
	return resp.Summary, err
}

// AddEvent logs an event on an active shift.
func (c *Client) AddEvent(ctx context.Context, shiftID int64, eventType, description string) (Event, error) {
	body := map[string]any{
		"event_type":  eventType,
		"description": description,
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("shifts/%d/events", shiftID), body, &resp)
	return resp, err
}

// Events lists a shift's events, oldest first.
func (c *Client) Events(ctx context.Context, shiftID int64) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("shifts/%d/events", shiftID), nil, &resp)
	return resp.Items, err
}

// CreateHandover hands a shift to another guard.
func (c *Client) CreateHandover(ctx context.Context, shiftID, toID int64) (Handover, error) {
	body := map[string]any{
		"shift_id":       shiftID,
		"handover_to_id": toID,
	}
	var resp Handover
	err := c.do(ctx, http.MethodPost, "handovers", body, &resp)
	return resp, err
}

// PendingHandovers lists handovers waiting for or sent by the caller.
func (c *Client) PendingHandovers(ctx context.Context) (PendingHandovers, error) {
	var resp PendingHandovers
	err := c.do(ctx, http.MethodGet, "handovers/pending", nil, &resp)
	return resp, err
}

// AcceptHandover accepts a handover; non-empty notes mark it ACCEPTED_WITH_NOTES.
func (c *Client) AcceptHandover(ctx context.Context, handoverID int64, notes string) (Handover, error) {
	var resp Handover
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("handovers/%d/accept", handoverID), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// CancelHandover withdraws a handover and restores the source shift.
func (c *Client) CancelHandover(ctx context.Context, handoverID int64, force bool) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("handovers/%d/cancel", handoverID), map[string]any{"force": force}, nil)
}

// RejectHandover returns an accepted handover to PENDING.
func (c *Client) RejectHandover(ctx context.Context, handoverID int64, force bool) (Handover, error) {
	var resp Handover
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("handovers/%d/reject", handoverID), map[string]any{"force": force}, &resp)
	return resp, err
}

// Handovers lists handovers filtered by query values such as to_id or status.
func (c *Client) Handovers(ctx context.Context, filters url.Values) ([]Handover, error) {
	endpoint := "handovers"
	if len(filters) > 0 {
		endpoint += "?" + filters.Encode()
	}
	var resp struct {
		Items []Handover `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.GuardID != 0:
		req.Header.Set("X-Guard-Id", strconv.FormatInt(c.GuardID, 10))
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
