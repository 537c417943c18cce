package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/pkg/models"
)

// StatsService aggregates system-wide statistics for the stats endpoint.
type StatsService struct {
	db      *sql.DB
	started time.Time
}

// NewStatsService creates a new StatsService
func NewStatsService(db *sql.DB) *StatsService {
	return &StatsService{db: db, started: time.Now()}
}

// GetStats computes the statistics snapshot. The caller supplies the
// regulator's current energy level.
func (s *StatsService) GetStats(ctx context.Context, currentEnergy float64) (*models.Stats, error) {
	stats := &models.Stats{
		CurrentEnergy: currentEnergy,
		UptimeSeconds: time.Since(s.started).Seconds(),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(model_switches), 0), COALESCE(SUM(sleep_cycles), 0)
		   FROM conversations`).
		Scan(&stats.TotalConversations, &stats.ModelSwitches, &stats.SleepCycles)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(energy_level), 0) FROM responses WHERE role = 'assistant'`).
		Scan(&stats.TotalResponses, &stats.AvgEnergyLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate responses: %w", err)
	}

	return stats, nil
}
