package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/apps"
	"github.com/cortexd/cortexd/pkg/database"
	"github.com/cortexd/cortexd/pkg/energy"
	"github.com/cortexd/cortexd/pkg/events"
	"github.com/cortexd/cortexd/pkg/services"
)

// nullBroadcaster satisfies events.Broadcaster and records nothing.
type nullBroadcaster struct{}

func (nullBroadcaster) Broadcast(string, []byte) {}

// stubLoop records admin hook calls.
type stubLoop struct {
	mu        sync.Mutex
	reflected int
	processed []string
}

func (s *stubLoop) TriggerReflection(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflected++
	return nil
}

func (s *stubLoop) ProcessConversation(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, requestID)
}

// newTestServer wires a Server over a fresh in-memory store.
func newTestServer(t *testing.T) (*Server, *stubLoop) {
	t.Helper()

	client, err := database.NewClient(context.Background(), database.Config{
		Path:        ":memory:",
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := client.DB()
	conversations := services.NewConversationService(db)
	appService := services.NewAppService(db)
	statsService := services.NewStatsService(db)
	eventService := services.NewEventService(db)

	registry := apps.NewRegistry(appService)
	t.Cleanup(registry.Close)

	loopStub := &stubLoop{}
	srv := NewServer(Deps{
		DBClient:      client,
		Conversations: conversations,
		Stats:         statsService,
		Registry:      registry,
		Regulator:     energy.New(-50, 100, 10),
		Bus:           events.NewBus(eventService, nullBroadcaster{}),
		Loop:          loopStub,
	})
	return srv, loopStub
}

// doJSON runs one request through the full route tree.
func doJSON(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}
