package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexd/cortexd/pkg/models"
)

// httpDeliveryTimeout bounds one outbound delivery to an HTTP app.
const httpDeliveryTimeout = 30 * time.Second

// HTTPApp delivers messages to an external app by POSTing the message
// envelope to its configured endpoint.
type HTTPApp struct {
	appID    string
	endpoint string
	client   *http.Client
}

// NewHTTPApp creates an adapter for an HTTP-hosted app.
func NewHTTPApp(appID, endpoint string) *HTTPApp {
	return &HTTPApp{
		appID:    appID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: httpDeliveryTimeout},
	}
}

func (a *HTTPApp) ID() string { return a.appID }

func (a *HTTPApp) ReceiveMessage(ctx context.Context, msg *models.AppMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %q: %w", a.appID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %q: %w", a.appID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %q: %w", a.appID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("app %q rejected message: status %d", a.appID, resp.StatusCode)
	}
	return nil
}

// toolCaller is the slice of the MCP client the adapter needs.
type toolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
}

// receiveMessageTool is the tool an MCP-hosted app must expose to accept
// deliveries from the loop.
const receiveMessageTool = "receive_message"

// MCPApp delivers messages to an app hosted behind an MCP server by
// invoking its receive_message tool.
type MCPApp struct {
	appID    string
	serverID string
	client   toolCaller
}

// NewMCPApp creates an adapter for an MCP-hosted app.
func NewMCPApp(appID, serverID string, client toolCaller) *MCPApp {
	return &MCPApp{appID: appID, serverID: serverID, client: client}
}

func (a *MCPApp) ID() string { return a.appID }

func (a *MCPApp) ReceiveMessage(ctx context.Context, msg *models.AppMessage) error {
	args := map[string]any{
		"from":    msg.From,
		"content": msg.Content,
	}

	result, err := a.client.CallTool(ctx, a.serverID, receiveMessageTool, args)
	if err != nil {
		return fmt.Errorf("deliver to %q via MCP: %w", a.appID, err)
	}
	if result.IsError {
		return fmt.Errorf("app %q rejected message: %s", a.appID, extractResultText(result))
	}
	return nil
}

func extractResultText(result *mcpsdk.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
