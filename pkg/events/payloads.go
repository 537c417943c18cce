package events

import "github.com/cortexd/cortexd/pkg/models"

// EnergyUpdatePayload is the payload for energy_update events.
// Published on every regulator mutation — transient.
type EnergyUpdatePayload struct {
	Type       string  `json:"type"` // always EventTypeEnergyUpdate
	Level      float64 `json:"level"`
	Percentage int     `json:"percentage"`
	Status     string  `json:"status"`    // high, medium, low, urgent
	Timestamp  string  `json:"timestamp"` // RFC3339Nano
}

// ConversationCreatedPayload is the payload for conversation_created events.
type ConversationCreatedPayload struct {
	Type         string   `json:"type"` // always EventTypeConversationCreated
	RequestID    string   `json:"request_id"`
	AppID        string   `json:"app_id,omitempty"`
	InputMessage string   `json:"input_message"`
	Budget       *float64 `json:"budget,omitempty"`
	Timestamp    string   `json:"timestamp"` // RFC3339Nano
}

// MessageAddedPayload is the payload for message_added events.
type MessageAddedPayload struct {
	Type        string  `json:"type"` // always EventTypeMessageAdded
	RequestID   string  `json:"request_id"`
	Role        string  `json:"role"` // user or assistant
	Content     string  `json:"content"`
	EnergyLevel float64 `json:"energy_level"`
	ModelUsed   string  `json:"model_used,omitempty"`
	Timestamp   string  `json:"timestamp"` // RFC3339Nano
}

// StateChangedPayload is the payload for conversation_state_changed events.
type StateChangedPayload struct {
	Type      string                   `json:"type"` // always EventTypeStateChanged
	RequestID string                   `json:"request_id"`
	State     models.ConversationState `json:"state"`
	Reason    string                   `json:"reason,omitempty"`  // set when state is "ended"
	WakeAt    string                   `json:"wake_at,omitempty"` // RFC3339Nano, set when state is "snoozed"
	Timestamp string                   `json:"timestamp"`         // RFC3339Nano
}

// ModelSwitchedPayload is the payload for model_switched events.
type ModelSwitchedPayload struct {
	Type        string  `json:"type"` // always EventTypeModelSwitched
	RequestID   string  `json:"request_id,omitempty"`
	FromModel   string  `json:"from_model"`
	ToModel     string  `json:"to_model"`
	Reason      string  `json:"reason,omitempty"` // e.g. "low_energy", "recovered"
	EnergyLevel float64 `json:"energy_level"`     // level that triggered the switch
	Timestamp   string  `json:"timestamp"`        // RFC3339Nano
}

// ToolInvocationPayload is the payload for tool_invocation events.
// Arguments and Result are truncated copies for the dashboard timeline.
type ToolInvocationPayload struct {
	Type            string  `json:"type"` // always EventTypeToolInvocation
	RequestID       string  `json:"request_id,omitempty"`
	ToolName        string  `json:"tool_name"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Arguments       string  `json:"arguments,omitempty"` // raw JSON as the model sent it
	Result          string  `json:"result,omitempty"`
	Timestamp       string  `json:"timestamp"` // RFC3339Nano
}

// SleepPayload is the payload for sleep_start and sleep_end events.
// EnergyRestored is only set on sleep_end.
type SleepPayload struct {
	Type            string  `json:"type"` // EventTypeSleepStart or EventTypeSleepEnd
	DurationSeconds float64 `json:"duration_seconds"`
	EnergyLevel     float64 `json:"energy_level"`
	EnergyRestored  float64 `json:"energy_restored,omitempty"`
	Timestamp       string  `json:"timestamp"` // RFC3339Nano
}

// SystemStatsPayload is the payload for system_stats events — a periodic
// transient snapshot for the dashboard header.
type SystemStatsPayload struct {
	Type      string       `json:"type"` // always EventTypeSystemStats
	Stats     models.Stats `json:"stats"`
	Timestamp string       `json:"timestamp"` // RFC3339Nano
}
