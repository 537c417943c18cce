// Package events provides real-time dashboard event delivery over
// WebSocket. Persistent events are written to the events table before
// fan-out so reconnecting clients can catch up; transient events
// (energy ticks, stats snapshots) are broadcast only.
package events

// Persistent event types (stored in DB + broadcast).
const (
	EventTypeConversationCreated = "conversation_created"
	EventTypeMessageAdded        = "message_added"
	EventTypeStateChanged        = "conversation_state_changed"
	EventTypeModelSwitched       = "model_switched"
	EventTypeToolInvocation      = "tool_invocation"
)

// Transient event types (broadcast only, no DB persistence).
const (
	// EnergyUpdate fires on every regulator mutation — high frequency.
	EventTypeEnergyUpdate = "energy_update"
	EventTypeSleepStart   = "sleep_start"
	EventTypeSleepEnd     = "sleep_end"
	EventTypeSystemStats  = "system_stats"
)

// GlobalConversationsChannel carries conversation lifecycle events for
// the dashboard's conversation list.
const GlobalConversationsChannel = "conversations"

// SystemChannel carries energy updates, sleep transitions, and stats.
const SystemChannel = "system"

// ConversationChannel returns the channel name for one conversation's
// events. Format: "conversation:{request_id}"
func ConversationChannel(requestID string) string {
	return "conversation:" + requestID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "conversation:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
