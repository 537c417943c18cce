package llm

import (
	"context"
	"sync"
	"time"
)

// ScriptedClient replays a fixed sequence of results. It backs the loop
// and API tests, and the mock provider mode where no API key is set.
type ScriptedClient struct {
	mu      sync.Mutex
	script  []ScriptedStep
	pos     int
	calls   []*GenerateInput
	Default *GenerateResult // returned when the script is exhausted
}

// ScriptedStep is one scripted Generate outcome.
type ScriptedStep struct {
	Result *GenerateResult
	Err    error
	Delay  time.Duration // simulated call duration
}

// NewScriptedClient creates a client that replays the given steps in order.
func NewScriptedClient(steps ...ScriptedStep) *ScriptedClient {
	return &ScriptedClient{
		script:  steps,
		Default: &GenerateResult{Content: "ok"},
	}
}

// Generate returns the next scripted step, honoring its delay.
func (c *ScriptedClient) Generate(ctx context.Context, input *GenerateInput) (*GenerateResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, input)
	var step ScriptedStep
	if c.pos < len(c.script) {
		step = c.script[c.pos]
		c.pos++
	} else {
		step = ScriptedStep{Result: c.Default}
	}
	c.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step.Delay):
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}
	result := *step.Result
	if result.Model == "" {
		result.Model = input.Model
	}
	return &result, nil
}

// Calls returns a copy of all recorded inputs.
func (c *ScriptedClient) Calls() []*GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*GenerateInput(nil), c.calls...)
}
