// Package subagent runs MCP server operations asynchronously so the
// sensitive loop never blocks on process spawning or network I/O. A
// single cooperative worker consumes a priority queue; results flow back
// through a pull-only mailbox and a monotone energy counter the loop
// drains once per cognitive cycle.
package subagent

import (
	"fmt"
	"time"

	"github.com/cortexd/cortexd/pkg/config"
)

// Priority orders queued requests. Higher values run first; requests of
// equal priority run in submission order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority converts the wire form ("high", "medium", "low").
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

// Operation identifies what a queued request does.
type Operation string

const (
	OpAddServer     Operation = "add_server"
	OpRemoveServer  Operation = "remove_server"
	OpTestServer    Operation = "test_server"
	OpListServers   Operation = "list_servers"
	OpSearchServers Operation = "search_servers"
	OpModifyServer  Operation = "modify_server"
)

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
)

// RequestParams carries the operation-specific inputs. Exactly the
// fields the operation needs are set; the rest stay zero.
type RequestParams struct {
	// Server is the full record for add_server and test_server.
	Server *config.MCPServerRecord `json:"server,omitempty"`
	// ServerID targets remove_server and modify_server.
	ServerID string `json:"server_id,omitempty"`
	// Query drives search_servers.
	Query string `json:"query,omitempty"`
	// Modify holds the partial update for modify_server.
	Modify *ModifySpec `json:"modify,omitempty"`
}

// ModifySpec is a partial update to a server record. Nil fields are left
// unchanged.
type ModifySpec struct {
	Enabled     *bool              `json:"enabled,omitempty"`
	Command     *string            `json:"command,omitempty"`
	Args        *[]string          `json:"args,omitempty"`
	Env         *map[string]string `json:"env,omitempty"`
	URL         *string            `json:"url,omitempty"`
	BearerToken *string            `json:"bearer_token,omitempty"`
}

// Request is one unit of sub-agent work.
type Request struct {
	ID        string        `json:"id"`
	Operation Operation     `json:"operation"`
	Priority  Priority      `json:"priority"`
	Params    RequestParams `json:"params"`
	Status    RequestStatus `json:"status"`
	// Progress is a coarse 0-100 indicator. It advances with wall time
	// while the request is in flight and reaches 100 on completion.
	Progress int `json:"progress"`
	// EnergyConsumed is the energy charged to this request so far.
	EnergyConsumed float64       `json:"energy_consumed"`
	Error          string        `json:"error,omitempty"`
	Result         any           `json:"result,omitempty"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	FinishedAt     time.Time     `json:"finished_at,omitzero"`
}

// MessageType classifies mailbox messages.
type MessageType string

const (
	MessageStatusUpdate MessageType = "status_update"
	MessageCompletion   MessageType = "completion"
	MessageError        MessageType = "error"
)

// Message is one mailbox entry. The loop drains these via PollMessages
// and never blocks waiting for them.
type Message struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Operation Operation   `json:"operation"`
	Text      string      `json:"text"`
	Result    any         `json:"result,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
