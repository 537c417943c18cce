package subagent

import "strings"

// KnownServer is an entry in the built-in directory of commonly used MCP
// servers, returned by search_servers.
type KnownServer struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Transport   string   `json:"transport"`
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// knownServers is a small curated directory. Search is substring-based
// over ID and description; an empty query returns everything.
var knownServers = []KnownServer{
	{
		ID:          "filesystem",
		Description: "Read and write files under configured roots",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
	},
	{
		ID:          "fetch",
		Description: "Fetch web pages and convert them to markdown",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-fetch"},
	},
	{
		ID:          "memory",
		Description: "Persistent knowledge-graph memory for notes and facts",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	{
		ID:          "github",
		Description: "GitHub issues, pull requests and repository search",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
	},
	{
		ID:          "sqlite",
		Description: "Query and inspect local SQLite databases",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-sqlite"},
	},
	{
		ID:          "time",
		Description: "Current time and timezone conversion utilities",
		Transport:   "stdio",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-time"},
	},
}

func searchKnownServers(query string) []KnownServer {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		out := make([]KnownServer, len(knownServers))
		copy(out, knownServers)
		return out
	}

	var out []KnownServer
	for _, s := range knownServers {
		if strings.Contains(strings.ToLower(s.ID), q) ||
			strings.Contains(strings.ToLower(s.Description), q) {
			out = append(out, s)
		}
	}
	return out
}
