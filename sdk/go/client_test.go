package shiftlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsGuardHeaderAndDecodes(t *testing.T) {
	var gotGuard, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGuard = r.Header.Get("X-Guard-Id")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 5, "shift_id": 3, "handover_to_id": 20, "status": "PENDING"})
	}))
	defer srv.Close()

	h, err := New(srv.URL).As(10).CreateHandover(context.Background(), 3, 20)
	require.NoError(t, err)
	assert.Equal(t, "10", gotGuard)
	assert.Equal(t, "/v0/handovers", gotPath)
	assert.Equal(t, float64(20), gotBody["handover_to_id"])
	assert.Equal(t, int64(5), h.ID)
	assert.Equal(t, "PENDING", h.Status)
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"object_occupied","message":"object 1 is occupied by shift #4"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	_, err := c.StartShift(context.Background())
	require.Error(t, err)
	assert.Equal(t, "object_occupied", ErrorCode(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}
