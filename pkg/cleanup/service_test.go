package cleanup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/database"
	"github.com/cortexd/cortexd/pkg/services"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{
		Path:        ":memory:",
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

func TestSweepDeletesExpiredEvents(t *testing.T) {
	db := newTestDB(t)
	eventService := services.NewEventService(db)
	ctx := context.Background()

	oldID, err := eventService.CreateEvent(ctx, "conv-1", "conversation:conv-1", `{"type":"message_added"}`)
	require.NoError(t, err)
	freshID, err := eventService.CreateEvent(ctx, "conv-1", "conversation:conv-1", `{"type":"message_added"}`)
	require.NoError(t, err)

	// Back-date the first event past the TTL.
	_, err = db.ExecContext(ctx, `UPDATE events SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-48*time.Hour), oldID)
	require.NoError(t, err)

	svc := NewService(eventService, DefaultEventTTL, DefaultInterval)
	svc.sweep(ctx)

	events, err := eventService.GetEventsSince(ctx, "conversation:conv-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, freshID, events[0].ID)
}

func TestStartStop(t *testing.T) {
	db := newTestDB(t)
	eventService := services.NewEventService(db)

	svc := NewService(eventService, time.Hour, 10*time.Millisecond)
	svc.Start(context.Background())

	// Second Start is a no-op.
	svc.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}

func TestDefaultsApplied(t *testing.T) {
	svc := NewService(nil, 0, 0)
	assert.Equal(t, DefaultEventTTL, svc.eventTTL)
	assert.Equal(t, DefaultInterval, svc.interval)
}
