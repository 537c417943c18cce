package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/config"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// testMCPServer holds an in-memory MCP server and its transport pair.
type testMCPServer struct {
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
	serverTransport *mcpsdk.InMemoryTransport
}

// startTestServer creates an in-memory MCP server with given tools and connects it.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &testMCPServer{
		server:          server,
		clientTransport: clientTransport,
		serverTransport: serverTransport,
	}
}

func emptyServersFile(t *testing.T) *config.MCPServersFile {
	t.Helper()
	f, err := config.LoadMCPServersFile(filepath.Join(t.TempDir(), "mcp_servers.json"))
	require.NoError(t, err)
	return f
}

// connectClientDirect creates a Client with a pre-wired in-memory transport.
// Bypasses the servers-file/createTransport path for unit testing the client.
func connectClientDirect(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()
	ctx := context.Background()

	client := NewClient(emptyServersFile(t))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "cortexd-test", Version: "test",
	}, nil)

	session, err := sdkClient.Connect(ctx, transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func echoHandler(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	data, _ := json.Marshal(req.Params.Arguments)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func TestClient_ListTools(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"search_code": echoHandler,
		"read_file":   echoHandler,
	})

	client := connectClientDirect(t, "coder", ts.clientTransport)
	ctx := context.Background()

	tools, err := client.ListTools(ctx, "coder")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "search_code")
	assert.Contains(t, names, "read_file")
}

func TestClient_ListTools_Cached(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"search_code": echoHandler,
	})

	client := connectClientDirect(t, "coder", ts.clientTransport)
	ctx := context.Background()

	tools1, err := client.ListTools(ctx, "coder")
	require.NoError(t, err)

	tools2, err := client.ListTools(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, tools1, tools2)

	// Invalidation forces a re-probe; same server, same answer.
	client.InvalidateToolCache("coder")
	tools3, err := client.ListTools(ctx, "coder")
	require.NoError(t, err)
	assert.Len(t, tools3, 1)
}

func TestClient_CallTool(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"echo": echoHandler,
	})

	client := connectClientDirect(t, "coder", ts.clientTransport)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "coder", "echo", map[string]any{"q": "hello"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"q":"hello"}`, ExtractTextContent(result))
}

func TestClient_CallTool_NoSession(t *testing.T) {
	client := NewClient(emptyServersFile(t))
	_, err := client.CallTool(context.Background(), "ghost", "echo", nil)
	assert.ErrorContains(t, err, "no session")
}

func TestMockModeServer(t *testing.T) {
	servers := emptyServersFile(t)
	require.NoError(t, servers.Add(&config.MCPServerRecord{
		ID:        "notes",
		Transport: config.TransportTypeStdio,
		Command:   "notes-server",
		Enabled:   true,
		Tools: []config.MCPToolRecord{
			{Name: "create_note", Description: "Create a note"},
			{Name: "list_notes", Description: "List notes", InputSchema: emptySchema},
		},
	}))

	client := NewClient(servers)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	require.NoError(t, client.Initialize(ctx))
	assert.True(t, client.HasSession("notes"))
	assert.Empty(t, client.FailedServers())

	tools, err := client.ListTools(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	// Tools without a schema get the permissive default.
	assert.Equal(t, emptySchema, tools[0].InputSchema)

	result, err := client.CallTool(ctx, "notes", "create_note", map[string]any{"title": "x"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var echoed map[string]any
	require.NoError(t, json.Unmarshal([]byte(ExtractTextContent(result)), &echoed))
	assert.Equal(t, true, echoed["mock"])
	assert.Equal(t, "notes", echoed["server"])
	assert.Equal(t, "create_note", echoed["tool"])

	// Unknown tools surface as tool errors, not transport errors.
	result, err = client.CallTool(ctx, "notes", "delete_note", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRemoveServer(t *testing.T) {
	servers := emptyServersFile(t)
	require.NoError(t, servers.Add(&config.MCPServerRecord{
		ID:        "notes",
		Transport: config.TransportTypeStdio,
		Command:   "notes-server",
		Enabled:   true,
		Tools:     []config.MCPToolRecord{{Name: "create_note"}},
	}))

	client := NewClient(servers)
	ctx := context.Background()
	require.NoError(t, client.Initialize(ctx))
	require.True(t, client.HasSession("notes"))

	client.RemoveServer("notes")
	assert.False(t, client.HasSession("notes"))

	_, err := client.ListTools(ctx, "notes")
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"cancelled", context.Canceled, NoRetry},
		{"deadline", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write: broken pipe"), RetryNewSession},
		{"net timeout", &net.DNSError{IsTimeout: true}, NoRetry},
		{"protocol", errors.New("jsonrpc: method not found"), NoRetry},
		{"unknown", errors.New("something odd"), NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
