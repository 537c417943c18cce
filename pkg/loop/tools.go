package loop

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cortexd/cortexd/pkg/llm"
)

// Core tool names. These are checked before the MCP catalog during
// dispatch, so MCP tools can never shadow them.
const (
	toolRespond            = "respond"
	toolThink              = "think"
	toolSelectConversation = "select_conversation"
	toolAwaitEnergy        = "await_energy"
	toolEndConversation    = "end_conversation"
	toolSnoozeConversation = "snooze_conversation"
	toolMCPAddServer       = "mcp_add_server"
	toolMCPListServers     = "mcp_list_servers"
)

type coreTool struct {
	name        string
	description string
	schema      string
	compiled    *jsonschema.Schema
}

func mustTool(name, description, schema string) coreTool {
	return coreTool{
		name:        name,
		description: description,
		schema:      schema,
		compiled:    jsonschema.MustCompileString(name+".schema.json", schema),
	}
}

// coreTools is the fixed part of the catalog the LLM sees every cycle.
var coreTools = []coreTool{
	mustTool(toolRespond,
		"Send a response to the user of a conversation.",
		`{
			"type": "object",
			"properties": {
				"request_id": {"type": "string", "description": "Conversation to respond to; defaults to the focused one"},
				"content": {"type": "string", "description": "The response text"}
			},
			"required": ["content"]
		}`),
	mustTool(toolThink,
		"Record an internal note. Not visible to users; costs energy.",
		`{
			"type": "object",
			"properties": {
				"text": {"type": "string"}
			},
			"required": ["text"]
		}`),
	mustTool(toolSelectConversation,
		"Focus a different conversation starting from the next cycle.",
		`{
			"type": "object",
			"properties": {
				"request_id": {"type": "string"}
			},
			"required": ["request_id"]
		}`),
	mustTool(toolAwaitEnergy,
		"Pause and recover until energy reaches min_level (or a bounded wait expires).",
		`{
			"type": "object",
			"properties": {
				"min_level": {"type": "number"}
			},
			"required": ["min_level"]
		}`),
	mustTool(toolEndConversation,
		"End a conversation permanently.",
		`{
			"type": "object",
			"properties": {
				"request_id": {"type": "string", "description": "Defaults to the focused conversation"},
				"reason": {"type": "string"}
			},
			"required": ["reason"]
		}`),
	mustTool(toolSnoozeConversation,
		"Put a conversation aside and wake it after a number of minutes.",
		`{
			"type": "object",
			"properties": {
				"request_id": {"type": "string", "description": "Defaults to the focused conversation"},
				"minutes": {"type": "number", "minimum": 1},
				"reason": {"type": "string"}
			},
			"required": ["minutes"]
		}`),
	mustTool(toolMCPAddServer,
		"Ask the sub-agent to install a new MCP server. Returns a request id; results arrive asynchronously.",
		`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"transport": {"type": "string", "enum": ["stdio", "http"]},
				"command": {"type": "string"},
				"args": {"type": "array", "items": {"type": "string"}},
				"url": {"type": "string"}
			},
			"required": ["id", "transport"]
		}`),
	mustTool(toolMCPListServers,
		"Ask the sub-agent for the configured MCP servers. Returns a request id; results arrive asynchronously.",
		`{"type": "object", "properties": {}}`),
}

func isCoreTool(name string) bool {
	for _, t := range coreTools {
		if t.name == name {
			return true
		}
	}
	return false
}

// decodeArgs unmarshals and validates a tool call's arguments against
// the tool's schema. Validation failures come back as errors the loop
// surfaces to the LLM as a synthetic tool result.
func decodeArgs(tool coreTool, rawArgs string) (map[string]any, error) {
	if rawArgs == "" {
		rawArgs = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(rawArgs), &decoded); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := tool.compiled.Validate(decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", tool.name, err)
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments for %s must be an object", tool.name)
	}
	return args, nil
}

// toolDefinitions builds the flat catalog for one LLM call: core tools
// first, then the namespaced MCP tools.
func (l *Loop) toolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(coreTools))
	for _, t := range coreTools {
		defs = append(defs, llm.ToolDefinition{
			Name:             t.name,
			Description:      t.description,
			ParametersSchema: t.schema,
		})
	}
	if l.catalog != nil {
		for _, spec := range l.catalog.Specs() {
			defs = append(defs, llm.ToolDefinition{
				Name:             spec.Name,
				Description:      spec.Description,
				ParametersSchema: string(spec.InputSchema),
			})
		}
	}
	return defs
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argFloat(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}

func argStrings(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
