package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cortexd.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	// Missing config file falls back to pure defaults.
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.Scheduler.ReplenishRate)
	assert.Equal(t, 10, cfg.Scheduler.HistoryPerCycle)
	assert.Equal(t, time.Second, cfg.Scheduler.SleepMin)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.SleepMax)
	assert.Equal(t, 2.0, cfg.Scheduler.SubAgentEnergyPerSecond)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)

	min, max := cfg.Scheduler.EnergyRange()
	assert.Equal(t, -50.0, min)
	assert.Equal(t, 100.0, max)

	// The default chat app is always present.
	require.NotEmpty(t, cfg.Apps)
	assert.Equal(t, "chat", cfg.Apps[0].AppID)
	assert.Equal(t, models.AppTypeInProcess, cfg.Apps[0].Type)
}

func TestInitializeOverrides(t *testing.T) {
	dir := writeConfig(t, `
scheduler:
  replenish_rate: 25
  history_per_cycle: 4
  sub_agent_energy_per_second: 3
llm:
  provider: openai
  large_model: gpt-4o
  small_model: gpt-4o-mini
  energy_per_second:
    gpt-4o: 12
apps:
  - app_id: slackbot
    type: http
    endpoint: http://localhost:9000/hook
    enabled: true
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Scheduler.ReplenishRate)
	assert.Equal(t, 4, cfg.Scheduler.HistoryPerCycle)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 12.0, cfg.LLM.RateFor("gpt-4o"))
	assert.Equal(t, 10.0, cfg.LLM.RateFor("unknown-model"))

	// User apps are appended after the implicit chat app.
	require.Len(t, cfg.Apps, 2)
	assert.Equal(t, "chat", cfg.Apps[0].AppID)
	assert.Equal(t, "slackbot", cfg.Apps[1].AppID)
}

func TestInitializeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad provider", "llm:\n  provider: cohere\n"},
		{"http app without endpoint", "apps:\n  - app_id: x\n    type: http\n"},
		{"bad app type", "apps:\n  - app_id: x\n    type: quantum\n"},
		{"duplicate app id", "apps:\n  - app_id: x\n    type: in-process\n  - app_id: x\n    type: in-process\n"},
		{"negative replenish", "scheduler:\n  replenish_rate: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			assert.Error(t, err)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CORTEXD_TEST_MODEL", "my-model")
	out := ExpandEnv([]byte("llm:\n  large_model: {{.CORTEXD_TEST_MODEL}}\n"))
	assert.Contains(t, string(out), "my-model")

	// Content without template syntax passes through unchanged.
	raw := []byte("a: b$c\n")
	assert.Equal(t, raw, ExpandEnv(raw))
}

func TestMCPServersFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-servers.json")
	f, err := LoadMCPServersFile(path)
	require.NoError(t, err)

	rec := &MCPServerRecord{
		ID:        "fs-local",
		Transport: TransportTypeStdio,
		Command:   "mcp-fs",
		Args:      []string{"--root", "/tmp"},
		Enabled:   true,
	}
	require.NoError(t, f.Add(rec))

	// Duplicate ids are rejected — they namespace exposed tool names.
	err = f.Add(&MCPServerRecord{ID: "fs-local", Transport: TransportTypeHTTP, URL: "http://x"})
	assert.ErrorIs(t, err, ErrMCPServerExists)

	// Reload from disk sees the persisted record.
	reloaded, err := LoadMCPServersFile(path)
	require.NoError(t, err)
	got, err := reloaded.Get("fs-local")
	require.NoError(t, err)
	assert.Equal(t, "mcp-fs", got.Command)
	assert.False(t, got.MockMode())

	require.NoError(t, reloaded.Remove("fs-local"))
	_, err = reloaded.Get("fs-local")
	assert.ErrorIs(t, err, ErrMCPServerNotFound)
}

func TestMCPServerMockMode(t *testing.T) {
	rec := &MCPServerRecord{ID: "sim", Transport: TransportTypeStdio, Enabled: true}
	require.NoError(t, rec.Validate())
	assert.True(t, rec.MockMode())
}

func TestMCPServersFileModify(t *testing.T) {
	f, err := LoadMCPServersFile(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	require.NoError(t, f.Add(&MCPServerRecord{ID: "a", Transport: TransportTypeHTTP, URL: "http://a", Enabled: true}))

	require.NoError(t, f.Modify("a", func(r *MCPServerRecord) error {
		r.Enabled = false
		return nil
	}))
	got, err := f.Get("a")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Empty(t, f.Enabled())
}
