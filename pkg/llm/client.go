// Package llm provides the provider-agnostic client the sensitive loop
// uses to call language models. Two real providers (Anthropic, OpenAI)
// sit behind one interface; tests use the scripted client.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cortexd/cortexd/pkg/config"
)

// ErrMissingAPIKey is returned when the configured API key env var is empty.
var ErrMissingAPIKey = errors.New("llm: API key is required")

// Client is the interface for calling a language model provider.
type Client interface {
	// Generate sends a conversation to the LLM and returns the complete
	// response. The loop charges energy from the measured wall time.
	Generate(ctx context.Context, input *GenerateInput) (*GenerateResult, error)
}

// GenerateInput is a single Generate request.
type GenerateInput struct {
	RequestID   string // conversation the call is attributed to (logging only)
	Model       string
	System      string
	Messages    []ConversationMessage
	Tools       []ToolDefinition // nil = no tools
	MaxTokens   int
	Temperature *float32
}

// ConversationMessage is the provider-agnostic message type.
type ConversationMessage struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // For assistant messages
	ToolCallID string     // For tool result messages
	ToolName   string     // For tool result messages
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall represents an LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// GenerateResult is the complete response from one Generate call.
type GenerateResult struct {
	Content      string
	ToolCalls    []ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
}

// New builds the provider client selected by cfg. The API key is read
// from the environment variable named by cfg.APIKeyEnv.
func New(cfg config.LLMConfig, getenv func(string) string) (Client, error) {
	apiKey := getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w (env %s)", ErrMissingAPIKey, cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case config.LLMProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
