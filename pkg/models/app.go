package models

import "time"

// AppType identifies how an app is hosted.
type AppType string

const (
	AppTypeInProcess AppType = "in-process"
	AppTypeMCP       AppType = "mcp"
	AppTypeHTTP      AppType = "http"
)

// ValidAppType reports whether t is a known app type.
func ValidAppType(t string) bool {
	switch AppType(t) {
	case AppTypeInProcess, AppTypeMCP, AppTypeHTTP:
		return true
	}
	return false
}

// AppHealth classifies an app by its recent energy consumption.
type AppHealth string

const (
	AppHealthHealthy   AppHealth = "healthy"
	AppHealthDegraded  AppHealth = "degraded"
	AppHealthUnhealthy AppHealth = "unhealthy"
)

// AppConfig is the installation record for an app.
type AppConfig struct {
	AppID    string  `json:"app_id" yaml:"app_id"`
	Type     AppType `json:"type" yaml:"type"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	Endpoint string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // required for http apps
	Enabled  bool    `json:"enabled" yaml:"enabled"`

	// Advisory budgets — never enforced, only surfaced in metrics.
	HourlyEnergyBudget *float64 `json:"hourly_energy_budget,omitempty" yaml:"hourly_energy_budget,omitempty"`
	DailyEnergyBudget  *float64 `json:"daily_energy_budget,omitempty" yaml:"daily_energy_budget,omitempty"`
}

// AppStatus is the live view of an installed app.
type AppStatus struct {
	AppConfig
	Running   bool      `json:"running"`
	Health    AppHealth `json:"health"`
	Installed time.Time `json:"installed_at"`
}

// EnergyMetrics summarizes an app's energy consumption over rolling windows.
type EnergyMetrics struct {
	Total    float64 `json:"total"`
	Last24h  float64 `json:"last_24h"`
	Last1h   float64 `json:"last_1h"`
	Last1min float64 `json:"last_1min"`
}

// EnergyEvent is one recorded energy charge attributed to an app.
type EnergyEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Amount         float64   `json:"amount"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Operation      string    `json:"operation,omitempty"`
}

// AppMessage is the envelope routed between the loop and apps.
type AppMessage struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Content map[string]any `json:"content"`
}
