package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/apps",
		[]byte(`{"app_id": "notify", "type": "http", "endpoint": "http://localhost:9999/hook", "enabled": true}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var status struct {
		AppID   string `json:"app_id"`
		Type    string `json:"type"`
		Health  string `json:"health"`
		Running bool   `json:"running"`
	}
	decodeBody(t, rec, &status)
	assert.Equal(t, "notify", status.AppID)
	assert.Equal(t, "http", status.Type)
	assert.Equal(t, "healthy", status.Health)

	// Installing the same id twice conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/apps",
		[]byte(`{"app_id": "notify", "type": "http", "endpoint": "http://localhost:9999/hook"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var list struct {
		Count int `json:"count"`
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/apps/notify", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 0, list.Count)
}

func TestInstallAppValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing app_id", `{"type": "in-process"}`},
		{"unknown type", `{"app_id": "x", "type": "carrier-pigeon"}`},
		{"http app without endpoint", `{"app_id": "x", "type": "http"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/apps", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAppEnergyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/apps/ghost/energy", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/apps",
		[]byte(`{"app_id": "meter-me", "type": "in-process", "enabled": true}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	srv.registry.RecordEnergy("meter-me", 2.5, "conv-1", "test")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/apps/meter-me/energy", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AppID   string `json:"app_id"`
		Metrics struct {
			Total    float64 `json:"total"`
			Last1min float64 `json:"last_1min"`
		} `json:"metrics"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "meter-me", resp.AppID)
	assert.Equal(t, 2.5, resp.Metrics.Total)
	assert.Equal(t, 2.5, resp.Metrics.Last1min)
}
