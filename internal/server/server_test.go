package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/app"
	"shiftline/internal/domain"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), LogOutput: io.Discard})
	require.NoError(t, err)
	seedDirectory(t, a)

	handler, err := New(Config{
		App:      a,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowGuardHeader: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func seedDirectory(t *testing.T, a *app.App) {
	t.Helper()
	ctx := context.Background()
	now := domain.FormatTime(time.Now())
	obj := int64(1)
	_, err := a.Repo.UpsertObject(ctx, domain.SecurityObject{ID: 1, Name: "Warehouse 7", ProtectionType: domain.ProtectionShift, Active: true}, now)
	require.NoError(t, err)
	for _, g := range []domain.Guard{
		{ID: 10, FullName: "Ivan Petrenko", Role: domain.RoleGuard, Active: true, ObjectID: &obj},
		{ID: 20, FullName: "Olha Shevchenko", Role: domain.RoleGuard, Active: true, ObjectID: &obj},
		{ID: 99, FullName: "Admin", Role: domain.RoleAdmin, Active: true},
	} {
		_, err := a.Repo.UpsertGuard(ctx, g, now)
		require.NoError(t, err)
	}
}

func asGuard(id int64) map[string]string {
	return map[string]string{"X-Guard-Id": strconv.FormatInt(id, 10)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func TestHandoverFlow(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()

	res, data := doJSON(t, c, http.MethodPost, ts.URL+"/v0/shifts", map[string]any{}, asGuard(10))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	shift := decode[domain.Shift](t, data)
	assert.Equal(t, domain.ShiftActive, shift.Status)
	assert.Equal(t, int64(1), shift.ObjectID)

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/shifts", map[string]any{}, asGuard(20))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "object_occupied", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/shifts/%d/events", ts.URL, shift.ID),
		CreateEventRequest{Type: "INCIDENT", Description: "Broken fence at gate 2"}, asGuard(10))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/shifts/%d/events", ts.URL, shift.ID),
		CreateEventRequest{Type: "VISITOR", Description: "not mine"}, asGuard(20))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "not_owner", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/handovers",
		CreateHandoverRequest{ShiftID: shift.ID, ToID: 20}, asGuard(10))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	h := decode[domain.ShiftHandover](t, data)
	assert.Equal(t, domain.HandoverPending, h.Status)
	assert.Contains(t, h.Summary, "Broken fence at gate 2")

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/handovers/pending", nil, asGuard(20))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	pending := decode[PendingHandoversResponse](t, data)
	require.Len(t, pending.Incoming, 1)
	assert.Equal(t, h.ID, pending.Incoming[0].ID)
	assert.Empty(t, pending.Outgoing)

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/accept", ts.URL, h.ID),
		AcceptHandoverRequest{Notes: "fence reported to facilities"}, asGuard(20))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	h = decode[domain.ShiftHandover](t, data)
	assert.Equal(t, domain.HandoverAcceptedWithNotes, h.Status)
	require.NotNil(t, h.ReceiverShiftID)

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/accept", ts.URL, h.ID), AcceptHandoverRequest{}, asGuard(20))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "already_resolved", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/objects/1/active-shift", nil, asGuard(20))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	active := decode[ActiveShiftResponse](t, data)
	require.True(t, active.Active)
	assert.Equal(t, int64(20), active.Shift.GuardID)
	assert.Equal(t, *h.ReceiverShiftID, active.Shift.ID)

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/reports", nil, asGuard(10))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/reports", nil, asGuard(99))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	reports := decode[ReportListResponse](t, data)
	require.Len(t, reports.Items, 1)
	assert.Equal(t, 1, reports.Items[0].EventsCount)
	assert.Equal(t, "fence reported to facilities", reports.Items[0].Notes)

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/admin/audit", nil, asGuard(99))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, decode[AuditResponse](t, data).Clean)
}

func TestRejectAndCancelOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()

	_, data := doJSON(t, c, http.MethodPost, ts.URL+"/v0/shifts", map[string]any{}, asGuard(10))
	shift := decode[domain.Shift](t, data)
	_, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/handovers", CreateHandoverRequest{ShiftID: shift.ID, ToID: 20}, asGuard(10))
	h := decode[domain.ShiftHandover](t, data)
	res, data := doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/accept", ts.URL, h.ID),
		AcceptHandoverRequest{Notes: "  gate key missing  "}, asGuard(20))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	h = decode[domain.ShiftHandover](t, data)
	assert.Equal(t, domain.HandoverAcceptedWithNotes, h.Status)
	require.NotNil(t, h.Notes)
	assert.Equal(t, "gate key missing", *h.Notes)

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/reject", ts.URL, h.ID), RejectHandoverRequest{}, asGuard(20))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/reject", ts.URL, h.ID), RejectHandoverRequest{}, asGuard(99))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "receiver_already_active_needs_force", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/reject", ts.URL, h.ID), RejectHandoverRequest{Force: true}, asGuard(99))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	h = decode[domain.ShiftHandover](t, data)
	assert.Equal(t, domain.HandoverPending, h.Status)
	assert.Nil(t, h.ReceiverShiftID)

	res, data = doJSON(t, c, http.MethodPost, fmt.Sprintf("%s/v0/handovers/%d/cancel", ts.URL, h.ID), CancelHandoverRequest{}, asGuard(10))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodGet, fmt.Sprintf("%s/v0/shifts/%d", ts.URL, shift.ID), nil, asGuard(10))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.ShiftActive, decode[domain.Shift](t, data).Status)

	res, data = doJSON(t, c, http.MethodGet, fmt.Sprintf("%s/v0/handovers/%d", ts.URL, h.ID), nil, asGuard(99))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()

	res, data := doJSON(t, c, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	token, err := SignToken(testSecret, 20, time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[MeResponse](t, data)
	assert.Equal(t, int64(20), me.Guard.ID)
	assert.Equal(t, "jwt", me.Source)
	assert.Contains(t, me.Permissions, "handover.accept")

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/me", nil, asGuard(555))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
}

func TestDirectoryWritesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()

	body := UpsertObjectRequest{Name: "Pump station", ProtectionType: "TEMPORARY_SINGLE"}
	res, data := doJSON(t, c, http.MethodPut, ts.URL+"/v0/objects/2", body, asGuard(10))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, c, http.MethodPut, ts.URL+"/v0/objects/2", body, asGuard(99))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	obj := decode[domain.SecurityObject](t, data)
	assert.Equal(t, domain.ProtectionTemporarySingle, obj.ProtectionType)
	assert.True(t, obj.Active)

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/objects", nil, asGuard(99))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[ObjectListResponse](t, data).Items, 2)
}
