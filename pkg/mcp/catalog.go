package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolSpec is a provider-neutral description of a namespaced MCP tool,
// ready to hand to an LLM client as a tool definition.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Catalog exposes the tools of all connected MCP servers under
// namespaced names ("{serverID}_{toolName}"). Because server IDs may
// themselves contain underscores, resolution goes through a reverse
// lookup map built during refresh rather than string splitting.
type Catalog struct {
	client *Client

	mu    sync.RWMutex
	specs []ToolSpec
	// namespaced name → origin
	origins map[string]toolOrigin

	logger *slog.Logger
}

type toolOrigin struct {
	serverID string
	toolName string
}

// NewCatalog creates a catalog over the MCP client.
func NewCatalog(client *Client) *Catalog {
	return &Catalog{
		client:  client,
		origins: make(map[string]toolOrigin),
		logger:  slog.Default(),
	}
}

// Refresh rebuilds the namespaced tool list from all connected servers.
// Servers that fail to list are skipped; their tools simply disappear
// from the surface until the next successful refresh.
func (cat *Catalog) Refresh(ctx context.Context) error {
	byServer, err := cat.client.ListAllTools(ctx)
	if err != nil {
		return fmt.Errorf("refresh tool catalog: %w", err)
	}

	specs := make([]ToolSpec, 0)
	origins := make(map[string]toolOrigin)
	for serverID, tools := range byServer {
		for _, tool := range tools {
			namespaced := NamespacedToolName(serverID, tool.Name)
			if prev, dup := origins[namespaced]; dup {
				cat.logger.Warn("Namespaced tool name collision, keeping first",
					"name", namespaced,
					"kept_server", prev.serverID,
					"dropped_server", serverID)
				continue
			}

			schema, err := marshalSchema(tool.InputSchema)
			if err != nil {
				cat.logger.Warn("Skipping tool with unmarshalable schema",
					"server", serverID, "tool", tool.Name, "error", err)
				continue
			}

			origins[namespaced] = toolOrigin{serverID: serverID, toolName: tool.Name}
			specs = append(specs, ToolSpec{
				Name:        namespaced,
				Description: fmt.Sprintf("[MCP:%s] %s", serverID, tool.Description),
				InputSchema: schema,
			})
		}
	}

	cat.mu.Lock()
	cat.specs = specs
	cat.origins = origins
	cat.mu.Unlock()

	return nil
}

// Specs returns the current namespaced tool definitions.
func (cat *Catalog) Specs() []ToolSpec {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	out := make([]ToolSpec, len(cat.specs))
	copy(out, cat.specs)
	return out
}

// Resolve maps a namespaced tool name back to its server and original
// tool name. Returns false if the name is not in the catalog.
func (cat *Catalog) Resolve(namespaced string) (serverID, toolName string, ok bool) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	origin, ok := cat.origins[namespaced]
	if !ok {
		return "", "", false
	}
	return origin.serverID, origin.toolName, true
}

// Dispatch resolves a namespaced tool name and executes the call on the
// owning server, returning the result as text.
func (cat *Catalog) Dispatch(ctx context.Context, namespaced string, args map[string]any) (string, error) {
	serverID, toolName, ok := cat.Resolve(namespaced)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", namespaced)
	}

	result, err := cat.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return "", fmt.Errorf("tool %q failed: %w", namespaced, err)
	}

	text := ExtractTextContent(result)
	if result.IsError {
		return "", fmt.Errorf("tool %q returned error: %s", namespaced, text)
	}
	return text, nil
}

// NamespacedToolName builds the exposed name for a server tool.
func NamespacedToolName(serverID, toolName string) string {
	return serverID + "_" + toolName
}

// marshalSchema normalizes a tool's input schema to raw JSON. The SDK
// surfaces schemas as any; an absent schema becomes a permissive object.
func marshalSchema(schema any) (json.RawMessage, error) {
	if schema == nil {
		return json.RawMessage(`{"type":"object"}`), nil
	}
	if raw, ok := schema.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage(`{"type":"object"}`), nil
		}
		return raw, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ExtractTextContent concatenates the text blocks of a tool result.
func ExtractTextContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
