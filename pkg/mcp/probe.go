package mcp

import (
	"context"
	"fmt"
	"io"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/version"
)

// Probe performs a one-shot initialize + tools/list round-trip against a
// server record without registering a session anywhere. Used to test
// server configurations before (or instead of) persisting them.
func Probe(ctx context.Context, rec *config.MCPServerRecord) ([]*mcpsdk.Tool, error) {
	transport, err := createTransport(rec)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", rec.ID, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(probeCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("probe %q: connect: %w", rec.ID, err)
	}
	defer session.Close()

	result, err := session.ListTools(probeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("probe %q: list tools: %w", rec.ID, err)
	}
	return result.Tools, nil
}

// ToolRecords converts SDK tool descriptors into the persistable form
// used by the servers file.
func ToolRecords(tools []*mcpsdk.Tool) []config.MCPToolRecord {
	records := make([]config.MCPToolRecord, 0, len(tools))
	for _, t := range tools {
		schema, err := marshalSchema(t.InputSchema)
		if err != nil {
			schema = nil
		}
		records = append(records, config.MCPToolRecord{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return records
}
