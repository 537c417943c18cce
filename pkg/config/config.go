// Package config loads and validates the cortexd configuration: the YAML
// file describing the scheduler, LLM providers and pre-installed apps, plus
// the runtime-mutable MCP servers JSON file.
package config

import (
	"time"

	"github.com/cortexd/cortexd/pkg/models"
)

// Config is the fully loaded, validated configuration.
type Config struct {
	Scheduler  SchedulerConfig
	LLM        LLMConfig
	Apps       []models.AppConfig
	MCPServers *MCPServersFile

	// DashboardURL and AllowedWSOrigins configure the HTTP edge.
	DashboardURL     string
	AllowedWSOrigins []string

	// MCPServersPath is where the runtime-mutable servers file lives.
	MCPServersPath string
}

// SchedulerConfig holds the sensitive-loop and energy tuning knobs.
type SchedulerConfig struct {
	// Energy regulator range; defaults [-50, 100].
	EnergyMin *float64 `yaml:"energy_min,omitempty"`
	EnergyMax *float64 `yaml:"energy_max,omitempty"`

	// ReplenishRate is the recovery rate in energy units per second.
	ReplenishRate float64 `yaml:"replenish_rate,omitempty"`

	// Duration bounds total loop runtime; zero means run until shutdown.
	Duration time.Duration `yaml:"duration,omitempty"`

	// ContextWindow / HistoryPerCycle: how many prior messages each cycle
	// includes in the LLM prompt.
	ContextWindow   int `yaml:"context_window,omitempty"`
	HistoryPerCycle int `yaml:"history_per_cycle,omitempty"`

	// Sleep bounds; defaults [1s, 60s].
	SleepMin time.Duration `yaml:"sleep_min,omitempty"`
	SleepMax time.Duration `yaml:"sleep_max,omitempty"`

	// SubAgentEnergyPerSecond is the k factor applied to sub-agent
	// processing seconds when back-propagating energy to the regulator.
	SubAgentEnergyPerSecond float64 `yaml:"sub_agent_energy_per_second,omitempty"`

	// Model switch thresholds: switch to the small model at or below
	// LowEnergyThreshold, restore the large model at or above
	// HighEnergyThreshold.
	LowEnergyThreshold  float64 `yaml:"low_energy_threshold,omitempty"`
	HighEnergyThreshold float64 `yaml:"high_energy_threshold,omitempty"`

	// Per-call timeouts.
	LLMCallTimeout  time.Duration `yaml:"llm_call_timeout,omitempty"`
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout,omitempty"`
}

// Supported LLM provider identifiers.
const (
	LLMProviderAnthropic = "anthropic"
	LLMProviderOpenAI    = "openai"
)

// LLMConfig selects the provider and models.
type LLMConfig struct {
	// Provider is "anthropic" or "openai" (any OpenAI-compatible endpoint).
	Provider string `yaml:"provider,omitempty"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways).
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	LargeModel string `yaml:"large_model,omitempty"`
	SmallModel string `yaml:"small_model,omitempty"`

	// EnergyPerSecond maps model name → energy drain rate while a call to
	// that model is in flight. Models not listed fall back to
	// DefaultEnergyPerSecond.
	EnergyPerSecond        map[string]float64 `yaml:"energy_per_second,omitempty"`
	DefaultEnergyPerSecond float64            `yaml:"default_energy_per_second,omitempty"`

	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
}

// EnergyRange returns the configured [min, max] with defaults applied.
func (s *SchedulerConfig) EnergyRange() (min, max float64) {
	min, max = -50, 100
	if s.EnergyMin != nil {
		min = *s.EnergyMin
	}
	if s.EnergyMax != nil {
		max = *s.EnergyMax
	}
	return min, max
}

// RateFor returns the energy drain rate for a model.
func (l *LLMConfig) RateFor(model string) float64 {
	if r, ok := l.EnergyPerSecond[model]; ok {
		return r
	}
	return l.DefaultEnergyPerSecond
}
