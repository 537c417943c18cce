package mcp

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexd/cortexd/pkg/config"
)

// defaultMockSchema is used for mock tools that declare no input schema.
var defaultMockSchema = json.RawMessage(`{"type":"object"}`)

// mockServer serves canned responses for a server record in mock mode.
// Tool definitions come from the record's cached tool list; calls echo
// their arguments back so the loop can exercise the full dispatch path
// without a real MCP process.
type mockServer struct {
	serverID string
	tools    []*mcpsdk.Tool
}

func newMockServer(rec *config.MCPServerRecord) *mockServer {
	tools := make([]*mcpsdk.Tool, 0, len(rec.Tools))
	for _, t := range rec.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = defaultMockSchema
		}
		tools = append(tools, &mcpsdk.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return &mockServer{serverID: rec.ID, tools: tools}
}

func (m *mockServer) listTools() []*mcpsdk.Tool {
	return m.tools
}

func (m *mockServer) callTool(toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	for _, t := range m.tools {
		if t.Name == toolName {
			payload, err := json.Marshal(map[string]any{
				"mock":   true,
				"server": m.serverID,
				"tool":   toolName,
				"args":   args,
			})
			if err != nil {
				return nil, fmt.Errorf("mock result for %q.%s: %w", m.serverID, toolName, err)
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(payload)}},
			}, nil
		}
	}

	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{
			Text: fmt.Sprintf("unknown tool %q on mock server %q", toolName, m.serverID),
		}},
	}, nil
}
