package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cortexd/cortexd/pkg/services"
)

// EventServiceAdapter wraps services.EventService to implement CatchupQuerier.
type EventServiceAdapter struct {
	eventService *services.EventService
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(es *services.EventService) *EventServiceAdapter {
	return &EventServiceAdapter{eventService: es}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup mechanism.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	events, err := a.eventService.GetEventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(events))
	for i, evt := range events {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode stored event %d: %w", evt.ID, err)
		}
		result[i] = CatchupEvent{
			ID:      evt.ID,
			Payload: payload,
		}
	}
	return result, nil
}
