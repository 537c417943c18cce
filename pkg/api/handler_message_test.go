package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "what is the capital of France?", "energy_budget": 5}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SubmitMessageResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "active", string(resp.State))

	// The user message is persisted as the first response.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/"+resp.RequestID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv struct {
		RequestID string   `json:"request_id"`
		Budget    *float64 `json:"budget"`
		Responses []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"responses"`
	}
	decodeBody(t, rec, &conv)
	assert.Equal(t, resp.RequestID, conv.RequestID)
	require.NotNil(t, conv.Budget)
	assert.Equal(t, 5.0, *conv.Budget)
	require.Len(t, conv.Responses, 1)
	assert.Equal(t, "user", conv.Responses[0].Role)
	assert.Equal(t, "what is the capital of France?", conv.Responses[0].Content)
}

func TestSubmitMessageValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing content", `{}`, http.StatusBadRequest},
		{"negative budget", `{"content": "hi", "energy_budget": -1}`, http.StatusBadRequest},
		{"unknown app", `{"content": "hi", "app_id": "nope"}`, http.StatusNotFound},
		{"malformed body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages", []byte(tt.body))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestSubmitMessageDuplicateRequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "first", "request_id": "req-1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "second", "request_id": "req-1"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitMessageBindsApp(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/apps",
		[]byte(`{"app_id": "chat", "type": "in-process", "enabled": true}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "hello", "app_id": "chat"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SubmitMessageResponse
	decodeBody(t, rec, &resp)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conversations/"+resp.RequestID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv struct {
		AppID string `json:"app_id"`
	}
	decodeBody(t, rec, &conv)
	assert.Equal(t, "chat", conv.AppID)
}
