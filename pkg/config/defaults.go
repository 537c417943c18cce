package config

import "time"

// defaultScheduler returns the baseline scheduler configuration. User YAML
// values are merged on top of these with mergo.
func defaultScheduler() SchedulerConfig {
	return SchedulerConfig{
		ReplenishRate:           10,
		ContextWindow:           10,
		HistoryPerCycle:         10,
		SleepMin:                time.Second,
		SleepMax:                60 * time.Second,
		SubAgentEnergyPerSecond: 2,
		LowEnergyThreshold:      20,
		HighEnergyThreshold:     60,
		LLMCallTimeout:          120 * time.Second,
		ToolCallTimeout:         60 * time.Second,
	}
}

// defaultLLM returns the baseline LLM configuration. The energy rates
// express the calibration examples (small ≈ 5 units per inference, large
// ≈ 15) as per-second drain rates; operators tune them per deployment.
func defaultLLM() LLMConfig {
	return LLMConfig{
		Provider:   "anthropic",
		APIKeyEnv:  "ANTHROPIC_API_KEY",
		LargeModel: "claude-sonnet-4-20250514",
		SmallModel: "claude-3-5-haiku-20241022",
		EnergyPerSecond: map[string]float64{
			"claude-sonnet-4-20250514":  15,
			"claude-3-5-haiku-20241022": 5,
		},
		DefaultEnergyPerSecond: 10,
		MaxTokens:              4096,
	}
}
