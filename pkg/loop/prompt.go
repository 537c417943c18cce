package loop

import (
	"fmt"
	"strings"

	"github.com/cortexd/cortexd/pkg/llm"
	"github.com/cortexd/cortexd/pkg/models"
)

// systemPrompt is the persistent instruction set. It explains the energy
// economy and the tool contract; per-cycle facts go into the ephemeral
// status message instead.
const systemPrompt = `You are the cognitive core of cortexd, a scheduler that manages ` +
	`conversations under an energy budget.

Energy: you have a shared energy reservoir. Every LLM call and tool call ` +
	`drains it; sleeping restores it. When energy runs low you will be switched ` +
	`to a cheaper model until it recovers. Use await_energy when you need ` +
	`headroom for demanding work.

Budgets: a conversation may carry an energy budget. When the budget is zero ` +
	`you have exactly one move left: respond or end_conversation. Nothing else. ` +
	`When the remaining budget is low, keep answers short.

Conversations: respond sends text to the user of the focused conversation. ` +
	`think records a private note. select_conversation changes focus next cycle. ` +
	`snooze_conversation defers a conversation; end_conversation is permanent.

MCP: tools named {server}_{tool} belong to connected MCP servers. ` +
	`mcp_add_server and mcp_list_servers are queued to a sub-agent; their ` +
	`results show up in your status on a later cycle.

Pick one tool per cycle. Plain text with no tool call is treated as a ` +
	`response to the focused conversation.`

// budgetSeverity derives the warning level shown in the status block.
func budgetSeverity(c *models.Conversation) string {
	if c.Budget == nil {
		return "ok"
	}
	remaining := *c.Budget - c.TotalEnergyConsumed
	switch {
	case *c.Budget == 0:
		return "depleted"
	case remaining <= 0:
		return "exceeded"
	case remaining < *c.Budget*0.2:
		return "low"
	default:
		return "ok"
	}
}

// composeMessages builds the LLM input for one cycle: an ephemeral
// status block (never stored), then the conversation's recent history.
func (l *Loop) composeMessages(conv *models.Conversation) []llm.ConversationMessage {
	var status strings.Builder

	snap := l.regulator.Snapshot()
	fmt.Fprintf(&status, "[status] energy %.1f (%d%%, %s)\n", snap.Current, snap.Percentage, snap.Status)

	if conv.Budget == nil {
		status.WriteString("budget: none\n")
	} else {
		remaining := *conv.Budget - conv.TotalEnergyConsumed
		fmt.Fprintf(&status, "budget: %.1f of %.1f remaining (%s)\n",
			remaining, *conv.Budget, budgetSeverity(conv))
		if *conv.Budget == 0 {
			status.WriteString("LAST CHANCE: this conversation has a zero budget. " +
				"You must respond or end_conversation now; no other tools.\n")
		}
	}

	if activity := l.subAgentActivity(); activity != "" {
		fmt.Fprintf(&status, "sub-agent: %s\n", activity)
	}

	fmt.Fprintf(&status, "focused: %s (app %s, %d messages, consumed %.1f energy)\n",
		conv.RequestID, orUnowned(conv.AppID), len(conv.Responses), conv.TotalEnergyConsumed)

	if notes := l.recentNotes(conv.RequestID); len(notes) > 0 {
		status.WriteString("recent notes and tool results:\n")
		for _, note := range notes {
			fmt.Fprintf(&status, "- %s\n", note)
		}
	}

	messages := []llm.ConversationMessage{{Role: "user", Content: status.String()}}

	history := conv.Responses
	limit := l.cfg.HistoryPerCycle
	if limit <= 0 {
		limit = 10
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, r := range history {
		role := "user"
		if r.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, llm.ConversationMessage{Role: role, Content: r.Content})
	}

	return messages
}

func orUnowned(appID string) string {
	if appID == "" {
		return "none"
	}
	return appID
}
