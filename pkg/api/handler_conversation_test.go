package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConversationNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationDerivedFields(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "hi", "request_id": "req-derived", "energy_budget": 0}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/req-derived", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		RemainingBudget *float64 `json:"remaining_budget"`
		BudgetStatus    string   `json:"budget_status"`
	}
	decodeBody(t, rec, &detail)
	require.NotNil(t, detail.RemainingBudget)
	assert.Equal(t, 0.0, *detail.RemainingBudget)
	assert.Equal(t, "depleted", detail.BudgetStatus)
}

func TestListConversationsValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"unknown state", "state=paused"},
		{"unknown budget status", "budget_status=overdrawn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListConversationsBadLimitDefaults(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 12; i++ {
		body := fmt.Sprintf(`{"content": "msg %d", "request_id": "lim-%d"}`, i, i)
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages", []byte(body))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var list struct {
		Count int `json:"count"`
	}
	for _, query := range []string{"limit=-5", "limit=0", "limit=many"} {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations?"+query, nil)
		require.Equal(t, http.StatusOK, rec.Code, query)
		decodeBody(t, rec, &list)
		assert.Equal(t, 10, list.Count, query)
	}
}

func TestListConversationsFiltersAndLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 15; i++ {
		body := fmt.Sprintf(`{"content": "msg %d", "request_id": "req-%d"}`, i, i)
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages", []byte(body))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var list struct {
		Conversations []struct {
			RequestID string `json:"request_id"`
			State     string `json:"state"`
		} `json:"conversations"`
		Count int `json:"count"`
	}

	// Default limit is 10.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 10, list.Count)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conversations?limit=15&state=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 15, list.Count)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conversations?state=ended", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 0, list.Count)
}
