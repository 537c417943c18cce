package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerReflection(t *testing.T) {
	srv, loopStub := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/admin/reflect", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, loopStub.reflected)
}

func TestProcessConversation(t *testing.T) {
	srv, loopStub := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/admin/process/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, loopStub.processed)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/messages",
		[]byte(`{"content": "focus me", "request_id": "req-admin"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/admin/process/req-admin", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"req-admin"}, loopStub.processed)
}

func TestAdminWithoutLoop(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.loop = nil

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/admin/reflect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
