package apps

import (
	"context"
	"fmt"

	"github.com/cortexd/cortexd/pkg/models"
	"github.com/cortexd/cortexd/pkg/services"
)

// ChatAppID is the identity of the built-in in-process chat app. It is
// the routing fallback: responses for conversations with no owning app
// land here.
const ChatAppID = "chat"

// chatPersistCost is the fixed bookkeeping charge the chat app reports
// for persisting one response.
const chatPersistCost = 0.1

// ChatApp is the default in-process app. It persists loop responses into
// the conversation store and reports its own small energy charge through
// the registry.
type ChatApp struct {
	conversations *services.ConversationService
	registry      *Registry
}

// NewChatApp creates the built-in chat app.
func NewChatApp(conversations *services.ConversationService, registry *Registry) *ChatApp {
	return &ChatApp{conversations: conversations, registry: registry}
}

func (a *ChatApp) ID() string { return ChatAppID }

// ReceiveMessage persists a loop response into the conversation store.
// Expected content keys: request_id, response, energy_level, model_used.
func (a *ChatApp) ReceiveMessage(ctx context.Context, msg *models.AppMessage) error {
	requestID := contentString(msg.Content, "request_id")
	response := contentString(msg.Content, "response")
	if requestID == "" {
		return services.NewValidationError("request_id", "required")
	}
	if response == "" {
		return services.NewValidationError("response", "required")
	}

	_, err := a.conversations.AddResponse(ctx, services.AddResponseParams{
		RequestID:   requestID,
		Role:        "assistant",
		Content:     response,
		EnergyLevel: contentFloat(msg.Content, "energy_level"),
		ModelUsed:   contentString(msg.Content, "model_used"),
	})
	if err != nil {
		return fmt.Errorf("chat app persist response: %w", err)
	}

	a.registry.RecordEnergy(ChatAppID, chatPersistCost, requestID, "persist_response")
	return nil
}

func contentString(content map[string]any, key string) string {
	s, _ := content[key].(string)
	return s
}

func contentFloat(content map[string]any, key string) float64 {
	switch v := content[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
