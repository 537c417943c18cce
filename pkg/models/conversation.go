// Package models defines the domain types shared between the store,
// the sensitive loop, the app registry, and the HTTP API.
package models

import "time"

// ConversationState represents the lifecycle state of a conversation.
type ConversationState string

const (
	ConversationStateActive  ConversationState = "active"
	ConversationStateSnoozed ConversationState = "snoozed"
	ConversationStateEnded   ConversationState = "ended"
)

// ValidConversationState reports whether s is a known state value.
func ValidConversationState(s string) bool {
	switch ConversationState(s) {
	case ConversationStateActive, ConversationStateSnoozed, ConversationStateEnded:
		return true
	}
	return false
}

// BudgetStatus classifies a conversation's energy budget position.
type BudgetStatus string

const (
	// BudgetStatusWithin means remaining budget is positive.
	BudgetStatusWithin BudgetStatus = "within"
	// BudgetStatusExceeded means a positive budget has been consumed past zero.
	BudgetStatusExceeded BudgetStatus = "exceeded"
	// BudgetStatusDepleted means the budget was zero from the start ("last chance").
	BudgetStatusDepleted BudgetStatus = "depleted"
)

// ValidBudgetStatus reports whether s is a known budget status value.
func ValidBudgetStatus(s string) bool {
	switch BudgetStatus(s) {
	case BudgetStatusWithin, BudgetStatusExceeded, BudgetStatusDepleted:
		return true
	}
	return false
}

// Response is a single entry in a conversation's response history.
type Response struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Role        string    `json:"role"` // "user" or "assistant"
	Content     string    `json:"content"`
	EnergyLevel float64   `json:"energy_level"`
	ModelUsed   string    `json:"model_used"`
}

// Conversation is the durable record of a single request and everything
// the loop has done with it.
type Conversation struct {
	RequestID           string            `json:"request_id"`
	InputMessage        string            `json:"input_message"`
	AppID               string            `json:"app_id,omitempty"` // empty for historical/orphaned records
	Budget              *float64          `json:"budget,omitempty"` // nil = unlimited; 0 = last chance
	TotalEnergyConsumed float64           `json:"total_energy_consumed"`
	SleepCycles         int               `json:"sleep_cycles"`
	ModelSwitches       int               `json:"model_switches"`
	State               ConversationState `json:"state"`
	SnoozeUntil         *time.Time        `json:"snooze_until,omitempty"`
	EndedReason         string            `json:"ended_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Responses           []Response        `json:"responses,omitempty"`
}

// RemainingBudget returns budget − totalEnergyConsumed, or nil when the
// conversation has no budget.
func (c *Conversation) RemainingBudget() *float64 {
	if c.Budget == nil {
		return nil
	}
	r := *c.Budget - c.TotalEnergyConsumed
	return &r
}

// BudgetStatus derives the budget classification. Returns nil when the
// conversation has no budget.
func (c *Conversation) BudgetStatus() *BudgetStatus {
	if c.Budget == nil {
		return nil
	}
	var s BudgetStatus
	switch {
	case *c.Budget == 0:
		s = BudgetStatusDepleted
	case *c.Budget-c.TotalEnergyConsumed <= 0:
		s = BudgetStatusExceeded
	default:
		s = BudgetStatusWithin
	}
	return &s
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	RequestID           string            `json:"request_id"`
	InputMessage        string            `json:"input_message"`
	AppID               string            `json:"app_id,omitempty"`
	State               ConversationState `json:"state"`
	Budget              *float64          `json:"budget,omitempty"`
	TotalEnergyConsumed float64           `json:"total_energy_consumed"`
	BudgetStatus        *BudgetStatus     `json:"budget_status,omitempty"`
	ResponseCount       int               `json:"response_count"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ListConversationsParams filters the conversation list endpoint.
// Zero values mean "no filter"; Limit is clamped by the service.
type ListConversationsParams struct {
	Limit        int
	State        string
	BudgetStatus string
}

// Stats is the system-wide statistics snapshot.
type Stats struct {
	TotalConversations int     `json:"total_conversations"`
	TotalResponses     int     `json:"total_responses"`
	AvgEnergyLevel     float64 `json:"avg_energy_level"`
	CurrentEnergy      float64 `json:"current_energy"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	ModelSwitches      int     `json:"model_switches"`
	SleepCycles        int     `json:"sleep_cycles"`
}
