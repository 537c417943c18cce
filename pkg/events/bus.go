package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cortexd/cortexd/pkg/services"
)

// Broadcaster fans an event out to live subscribers of a channel.
// Implemented by ConnectionManager.
type Broadcaster interface {
	Broadcast(channel string, event []byte)
}

// Bus publishes events for WebSocket delivery. Persistent events are
// stored in the events table then handed to the Broadcaster; transient
// events (energy ticks, sleep transitions, stats) skip the store.
//
// cortexd is single-process, so there is no cross-pod notify hop: the
// bus fans out directly to the in-memory connection manager.
type Bus struct {
	events      *services.EventService
	broadcaster Broadcaster
}

// NewBus creates a new Bus.
func NewBus(events *services.EventService, broadcaster Broadcaster) *Bus {
	return &Bus{events: events, broadcaster: broadcaster}
}

// --- Typed public methods ---

// PublishConversationCreated persists and broadcasts a conversation_created
// event to both the conversation channel and the global list channel.
func (b *Bus) PublishConversationCreated(ctx context.Context, payload ConversationCreatedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ConversationCreatedPayload: %w", err)
	}
	if err := b.persistAndBroadcast(ctx, payload.RequestID, ConversationChannel(payload.RequestID), payloadJSON); err != nil {
		return err
	}
	b.broadcaster.Broadcast(GlobalConversationsChannel, payloadJSON)
	return nil
}

// PublishMessageAdded persists and broadcasts a message_added event.
func (b *Bus) PublishMessageAdded(ctx context.Context, payload MessageAddedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MessageAddedPayload: %w", err)
	}
	return b.persistAndBroadcast(ctx, payload.RequestID, ConversationChannel(payload.RequestID), payloadJSON)
}

// PublishStateChanged persists a state change to the conversation channel
// and broadcasts a transient copy to the global list channel. Both sends
// are best-effort; the first error wins.
func (b *Bus) PublishStateChanged(ctx context.Context, payload StateChangedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal StateChangedPayload: %w", err)
	}

	var firstErr error
	if err := b.persistAndBroadcast(ctx, payload.RequestID, ConversationChannel(payload.RequestID), payloadJSON); err != nil {
		slog.Warn("Failed to publish state change to conversation channel",
			"request_id", payload.RequestID, "state", payload.State, "error", err)
		firstErr = err
	}
	b.broadcaster.Broadcast(GlobalConversationsChannel, payloadJSON)
	return firstErr
}

// PublishModelSwitched persists and broadcasts a model_switched event.
func (b *Bus) PublishModelSwitched(ctx context.Context, payload ModelSwitchedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ModelSwitchedPayload: %w", err)
	}
	channel := SystemChannel
	if payload.RequestID != "" {
		channel = ConversationChannel(payload.RequestID)
	}
	return b.persistAndBroadcast(ctx, payload.RequestID, channel, payloadJSON)
}

// PublishToolInvocation persists and broadcasts a tool_invocation event.
func (b *Bus) PublishToolInvocation(ctx context.Context, payload ToolInvocationPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolInvocationPayload: %w", err)
	}
	channel := SystemChannel
	if payload.RequestID != "" {
		channel = ConversationChannel(payload.RequestID)
	}
	return b.persistAndBroadcast(ctx, payload.RequestID, channel, payloadJSON)
}

// PublishEnergyUpdate broadcasts an energy_update transient event.
// High frequency — never persisted.
func (b *Bus) PublishEnergyUpdate(payload EnergyUpdatePayload) {
	b.broadcastOnly(SystemChannel, payload)
}

// PublishSleep broadcasts a sleep_start or sleep_end transient event.
func (b *Bus) PublishSleep(payload SleepPayload) {
	b.broadcastOnly(SystemChannel, payload)
}

// PublishSystemStats broadcasts a system_stats transient event.
func (b *Bus) PublishSystemStats(payload SystemStatsPayload) {
	b.broadcastOnly(SystemChannel, payload)
}

// --- Internal core methods ---

// persistAndBroadcast stores a pre-marshaled event then fans it out with
// db_event_id injected for catchup position tracking.
func (b *Bus) persistAndBroadcast(ctx context.Context, conversationID, channel string, payloadJSON []byte) error {
	eventID, err := b.events.CreateEvent(ctx, conversationID, channel, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	enriched, err := injectDBEventID(payloadJSON, eventID)
	if err != nil {
		return err
	}

	b.broadcaster.Broadcast(channel, enriched)
	return nil
}

// broadcastOnly marshals and fans out a transient event.
func (b *Bus) broadcastOnly(channel string, payload any) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal transient event", "channel", channel, "error", err)
		return
	}
	b.broadcaster.Broadcast(channel, payloadJSON)
}

// injectDBEventID adds db_event_id to the JSON payload so clients can
// track their catchup position.
func injectDBEventID(payloadJSON []byte, dbEventID int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enriched payload: %w", err)
	}
	return enriched, nil
}
