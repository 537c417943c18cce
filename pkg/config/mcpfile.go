package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TransportType identifies how an MCP server is reached.
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
)

// MCPServerRecord is one entry in the MCP servers file.
type MCPServerRecord struct {
	ID        string        `json:"id"`
	Transport TransportType `json:"transport"`

	// stdio transport
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// http transport
	URL         string `json:"url,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`

	Enabled bool `json:"enabled"`

	// Tools discovered on the last successful connection. Informational;
	// refreshed by test_server and on connect.
	Tools []MCPToolRecord `json:"tools,omitempty"`
}

// MCPToolRecord describes one tool discovered on an MCP server.
type MCPToolRecord struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// MockMode reports whether this server should be driven in mock mode:
// a stdio spec with an empty args list has nothing real to spawn.
func (r *MCPServerRecord) MockMode() bool {
	return r.Transport == TransportTypeStdio && len(r.Args) == 0
}

// Validate checks the record for structural problems.
func (r *MCPServerRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Component: "mcp_server", Field: "id", Err: ErrMissingRequiredField}
	}
	switch r.Transport {
	case TransportTypeStdio:
		if r.Command == "" && !r.MockMode() {
			return &ValidationError{Component: "mcp_server", ID: r.ID, Field: "command", Err: ErrMissingRequiredField}
		}
	case TransportTypeHTTP:
		if r.URL == "" {
			return &ValidationError{Component: "mcp_server", ID: r.ID, Field: "url", Err: ErrMissingRequiredField}
		}
	default:
		return &ValidationError{Component: "mcp_server", ID: r.ID, Field: "transport", Err: ErrInvalidValue}
	}
	return nil
}

// MCPServersFile is the on-disk MCP server state plus sub-agent toggles.
// Mutations go through the methods below and are persisted atomically
// (write-temp-rename) so a crash mid-write never corrupts the file.
type MCPServersFile struct {
	mu   sync.RWMutex
	path string

	doc mcpServersDoc
}

type mcpServersDoc struct {
	Servers              []*MCPServerRecord `json:"servers"`
	SubAgentEnabled      bool               `json:"subAgentEnabled"`
	AutoDiscoveryEnabled bool               `json:"autoDiscoveryEnabled"`
	ToolApprovalRequired bool               `json:"toolApprovalRequired"`
}

// LoadMCPServersFile reads the servers file, creating an empty default when
// the file does not exist yet.
func LoadMCPServersFile(path string) (*MCPServersFile, error) {
	f := &MCPServersFile{
		path: path,
		doc:  mcpServersDoc{Servers: []*MCPServerRecord{}, SubAgentEnabled: true},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	if err := json.Unmarshal(data, &f.doc); err != nil {
		return nil, NewLoadError(path, err)
	}
	if f.doc.Servers == nil {
		f.doc.Servers = []*MCPServerRecord{}
	}
	for _, rec := range f.doc.Servers {
		if err := rec.Validate(); err != nil {
			return nil, NewLoadError(path, err)
		}
	}
	return f, nil
}

// Get returns a copy of the record for id.
func (f *MCPServersFile) Get(id string) (*MCPServerRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, rec := range f.doc.Servers {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, id)
}

// List returns copies of all records.
func (f *MCPServersFile) List() []*MCPServerRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*MCPServerRecord, 0, len(f.doc.Servers))
	for _, rec := range f.doc.Servers {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// Enabled returns copies of all enabled records.
func (f *MCPServersFile) Enabled() []*MCPServerRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*MCPServerRecord, 0, len(f.doc.Servers))
	for _, rec := range f.doc.Servers {
		if rec.Enabled {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Add validates, appends, and persists a new server record.
// Server IDs must be unique: they namespace exposed tool names.
func (f *MCPServersFile) Add(rec *MCPServerRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.doc.Servers {
		if existing.ID == rec.ID {
			return fmt.Errorf("%w: %s", ErrMCPServerExists, rec.ID)
		}
	}
	cp := *rec
	f.doc.Servers = append(f.doc.Servers, &cp)
	return f.saveLocked()
}

// Remove deletes a server record and persists.
func (f *MCPServersFile) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.doc.Servers {
		if rec.ID == id {
			f.doc.Servers = append(f.doc.Servers[:i], f.doc.Servers[i+1:]...)
			return f.saveLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrMCPServerNotFound, id)
}

// Modify applies fn to the record for id and persists. fn receives a copy;
// returning an error aborts without persisting.
func (f *MCPServersFile) Modify(id string, fn func(*MCPServerRecord) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.doc.Servers {
		if rec.ID == id {
			cp := *rec
			if err := fn(&cp); err != nil {
				return err
			}
			if err := cp.Validate(); err != nil {
				return err
			}
			f.doc.Servers[i] = &cp
			return f.saveLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrMCPServerNotFound, id)
}

// SetDiscoveredTools replaces the cached tool list for a server and persists.
func (f *MCPServersFile) SetDiscoveredTools(id string, tools []MCPToolRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.doc.Servers {
		if rec.ID == id {
			rec.Tools = tools
			return f.saveLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrMCPServerNotFound, id)
}

// SubAgentEnabled reports whether the background sub-agent should run.
func (f *MCPServersFile) SubAgentEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc.SubAgentEnabled
}

// saveLocked writes the file atomically. Caller must hold f.mu.
func (f *MCPServersFile) saveLocked() error {
	if f.path == "" {
		return nil // in-memory only (tests)
	}
	data, err := json.MarshalIndent(&f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal MCP servers file: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".mcp-servers-*.json")
	if err != nil {
		return fmt.Errorf("create temp servers file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp servers file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp servers file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename servers file into place: %w", err)
	}
	return nil
}
