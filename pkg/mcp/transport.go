package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexd/cortexd/pkg/config"
)

// createTransport creates an MCP SDK transport from a server record.
func createTransport(rec *config.MCPServerRecord) (mcpsdk.Transport, error) {
	switch rec.Transport {
	case config.TransportTypeStdio:
		return createStdioTransport(rec)
	case config.TransportTypeHTTP:
		return createHTTPTransport(rec)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", rec.Transport)
	}
}

func createStdioTransport(rec *config.MCPServerRecord) (*mcpsdk.CommandTransport, error) {
	if rec.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(rec.Command, rec.Args...)

	// Inherit parent environment + record overrides.
	env := os.Environ()
	for k, v := range rec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(rec *config.MCPServerRecord) (*mcpsdk.StreamableClientTransport, error) {
	if rec.URL == "" {
		return nil, fmt.Errorf("HTTP transport requires url")
	}
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: rec.URL,
	}
	if rec.BearerToken != "" {
		transport.HTTPClient = &http.Client{
			Transport: &bearerTokenTransport{
				base:  http.DefaultTransport,
				token: rec.BearerToken,
			},
		}
	}
	return transport, nil
}

// bearerTokenTransport wraps an http.RoundTripper to add Authorization headers.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
