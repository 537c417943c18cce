package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/cortexd/cortexd/pkg/models"
)

// cortexdYAMLConfig mirrors the cortexd.yaml file structure.
type cortexdYAMLConfig struct {
	System    *systemYAMLConfig  `yaml:"system"`
	Scheduler *SchedulerConfig   `yaml:"scheduler"`
	LLM       *LLMConfig         `yaml:"llm"`
	Apps      []models.AppConfig `yaml:"apps"`
}

// systemYAMLConfig groups system-wide infrastructure settings.
type systemYAMLConfig struct {
	DashboardURL     string   `yaml:"dashboard_url"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	MCPServersFile   string   `yaml:"mcp_servers_file"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load cortexd.yaml from configDir (missing file → all defaults)
//  2. Expand environment variables
//  3. Merge user values over built-in defaults (mergo)
//  4. Load the MCP servers JSON file
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"apps", len(cfg.Apps),
		"mcp_servers", len(cfg.MCPServers.List()),
		"provider", cfg.LLM.Provider)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	yamlCfg, err := loadYAML(filepath.Join(configDir, "cortexd.yaml"))
	if err != nil {
		return nil, err
	}

	scheduler := defaultScheduler()
	if yamlCfg.Scheduler != nil {
		if err := mergo.Merge(&scheduler, *yamlCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging scheduler config: %w", err)
		}
	}

	llm := defaultLLM()
	if yamlCfg.LLM != nil {
		if err := mergo.Merge(&llm, *yamlCfg.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging llm config: %w", err)
		}
	}

	cfg := &Config{
		Scheduler:      scheduler,
		LLM:            llm,
		Apps:           yamlCfg.Apps,
		MCPServersPath: filepath.Join(configDir, "mcp-servers.json"),
	}
	if yamlCfg.System != nil {
		cfg.DashboardURL = yamlCfg.System.DashboardURL
		cfg.AllowedWSOrigins = yamlCfg.System.AllowedWSOrigins
		if yamlCfg.System.MCPServersFile != "" {
			cfg.MCPServersPath = yamlCfg.System.MCPServersFile
		}
	}

	// The default chat app is always installed; it is the routing fallback
	// for orphaned conversations.
	if !hasChatApp(cfg.Apps) {
		cfg.Apps = append([]models.AppConfig{{
			AppID:   "chat",
			Type:    models.AppTypeInProcess,
			Name:    "Chat",
			Enabled: true,
		}}, cfg.Apps...)
	}

	servers, err := LoadMCPServersFile(cfg.MCPServersPath)
	if err != nil {
		return nil, err
	}
	cfg.MCPServers = servers

	return cfg, nil
}

func loadYAML(path string) (*cortexdYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Warn("Config file not found, using defaults", "path", path)
		return &cortexdYAMLConfig{}, nil
	}
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	var cfg cortexdYAMLConfig
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

func hasChatApp(apps []models.AppConfig) bool {
	for _, a := range apps {
		if a.AppID == "chat" {
			return true
		}
	}
	return false
}

func validate(cfg *Config) error {
	s := &cfg.Scheduler
	if min, max := s.EnergyRange(); max <= min {
		return &ValidationError{Component: "scheduler", Field: "energy_range", Err: ErrInvalidValue}
	}
	if s.ReplenishRate <= 0 {
		return &ValidationError{Component: "scheduler", Field: "replenish_rate", Err: ErrInvalidValue}
	}
	if s.SleepMin < time.Second || s.SleepMax < s.SleepMin {
		return &ValidationError{Component: "scheduler", Field: "sleep_bounds", Err: ErrInvalidValue}
	}
	if s.SubAgentEnergyPerSecond < 0 {
		return &ValidationError{Component: "scheduler", Field: "sub_agent_energy_per_second", Err: ErrInvalidValue}
	}

	switch cfg.LLM.Provider {
	case LLMProviderAnthropic, LLMProviderOpenAI:
	default:
		return &ValidationError{Component: "llm", Field: "provider", Err: ErrInvalidValue}
	}
	if cfg.LLM.LargeModel == "" || cfg.LLM.SmallModel == "" {
		return &ValidationError{Component: "llm", Field: "models", Err: ErrMissingRequiredField}
	}

	seen := make(map[string]bool, len(cfg.Apps))
	for _, app := range cfg.Apps {
		if app.AppID == "" {
			return &ValidationError{Component: "app", Field: "app_id", Err: ErrMissingRequiredField}
		}
		if seen[app.AppID] {
			return &ValidationError{Component: "app", ID: app.AppID, Err: fmt.Errorf("duplicate app id")}
		}
		seen[app.AppID] = true
		if !models.ValidAppType(string(app.Type)) {
			return &ValidationError{Component: "app", ID: app.AppID, Field: "type", Err: ErrInvalidValue}
		}
		if app.Type == models.AppTypeHTTP && app.Endpoint == "" {
			return &ValidationError{Component: "app", ID: app.AppID, Field: "endpoint", Err: ErrMissingRequiredField}
		}
	}

	return nil
}
