package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndCatchupEvents(t *testing.T) {
	svc := NewEventService(newTestDB(t))
	ctx := context.Background()

	id1, err := svc.CreateEvent(ctx, "c1", "conversations", `{"type":"conversation_created"}`)
	require.NoError(t, err)
	id2, err := svc.CreateEvent(ctx, "c1", "conversations", `{"type":"message_added"}`)
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, "", "energy", `{"type":"energy_update"}`)
	require.NoError(t, err)

	assert.Greater(t, id2, id1, "ids are monotonically increasing")

	// Catchup from before the first event returns both, in order,
	// without leaking the other channel.
	events, err := svc.GetEventsSince(ctx, "conversations", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, id1, events[0].ID)
	assert.Equal(t, id2, events[1].ID)

	// Catchup from the first id skips it.
	events, err = svc.GetEventsSince(ctx, "conversations", id1, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id2, events[0].ID)
}

func TestCreateEventRequiresChannel(t *testing.T) {
	svc := NewEventService(newTestDB(t))

	_, err := svc.CreateEvent(context.Background(), "", "", `{}`)
	assert.True(t, IsValidationError(err))
}

func TestCleanupOldEvents(t *testing.T) {
	db := newTestDB(t)
	svc := NewEventService(db)
	ctx := context.Background()

	_, err := db.Exec(
		`INSERT INTO events (channel, payload, created_at) VALUES ('energy', '{}', ?)`,
		time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, "", "energy", `{}`)
	require.NoError(t, err)

	removed, err := svc.CleanupOldEvents(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := svc.GetEventsSince(ctx, "energy", 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStatsAggregation(t *testing.T) {
	db := newTestDB(t)
	convs := NewConversationService(db)
	stats := NewStatsService(db)
	ctx := context.Background()

	_, err := convs.AddResponse(ctx, AddResponseParams{RequestID: "r1", Role: "user", Content: "a"})
	require.NoError(t, err)
	_, err = convs.AddResponse(ctx, AddResponseParams{
		RequestID: "r1", Role: "assistant", Content: "b", EnergyLevel: 80,
	})
	require.NoError(t, err)
	_, err = convs.AddResponse(ctx, AddResponseParams{
		RequestID: "r1", Role: "assistant", Content: "c", EnergyLevel: 40,
	})
	require.NoError(t, err)
	require.NoError(t, convs.IncrementSleepCycles(ctx, "r1"))
	require.NoError(t, convs.IncrementModelSwitches(ctx, "r1"))

	got, err := stats.GetStats(ctx, 72.5)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalConversations)
	assert.Equal(t, 2, got.TotalResponses, "user responses excluded")
	assert.Equal(t, 60.0, got.AvgEnergyLevel)
	assert.Equal(t, 72.5, got.CurrentEnergy)
	assert.Equal(t, 1, got.ModelSwitches)
	assert.Equal(t, 1, got.SleepCycles)
}
