package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/pkg/models"
)

// AppService persists app installations, conversation bindings, and the
// per-app energy ledger.
type AppService struct {
	db *sql.DB
}

// NewAppService creates a new AppService
func NewAppService(db *sql.DB) *AppService {
	return &AppService{db: db}
}

// InstallApp records an app installation.
func (s *AppService) InstallApp(httpCtx context.Context, cfg models.AppConfig) error {
	if cfg.AppID == "" {
		return NewValidationError("app_id", "required")
	}
	if !models.ValidAppType(string(cfg.Type)) {
		return NewValidationError("type", "unknown app type")
	}
	if cfg.Type == models.AppTypeHTTP && cfg.Endpoint == "" {
		return NewValidationError("endpoint", "required for http apps")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT app_id FROM apps WHERE app_id = ?`, cfg.AppID).Scan(&existing)
	if err == nil {
		return ErrAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check app: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO apps (app_id, type, name, endpoint, enabled, hourly_energy_budget, daily_energy_budget, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.AppID, string(cfg.Type), nullString(cfg.Name), nullString(cfg.Endpoint),
		cfg.Enabled, nullFloat(cfg.HourlyEnergyBudget), nullFloat(cfg.DailyEnergyBudget),
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert app: %w", err)
	}

	return tx.Commit()
}

// UninstallApp removes an app and its energy ledger. Conversation rows
// survive so history stays queryable.
func (s *AppService) UninstallApp(httpCtx context.Context, appID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// The ledger references apps, so it goes first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_energy WHERE app_id = ?`, appID); err != nil {
		return fmt.Errorf("failed to delete energy ledger: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM apps WHERE app_id = ?`, appID)
	if err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetApp retrieves one installed app.
func (s *AppService) GetApp(ctx context.Context, appID string) (*models.AppConfig, error) {
	cfg, err := scanApp(s.db.QueryRowContext(ctx,
		`SELECT app_id, type, name, endpoint, enabled, hourly_energy_budget, daily_energy_budget
		   FROM apps WHERE app_id = ?`, appID))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetInstalledAt returns the installation timestamp for an app.
func (s *AppService) GetInstalledAt(ctx context.Context, appID string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT installed_at FROM apps WHERE app_id = ?`, appID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read installed_at: %w", err)
	}
	return at, nil
}

// ListApps returns all installed apps ordered by id.
func (s *AppService) ListApps(ctx context.Context) ([]models.AppConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app_id, type, name, endpoint, enabled, hourly_energy_budget, daily_energy_budget
		   FROM apps ORDER BY app_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []models.AppConfig
	for rows.Next() {
		cfg, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apps: %w", err)
	}
	return apps, nil
}

// SetEnabled flips an app's enabled flag.
func (s *AppService) SetEnabled(httpCtx context.Context, appID string, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE apps SET enabled = ? WHERE app_id = ?`, enabled, appID)
	if err != nil {
		return fmt.Errorf("failed to update app: %w", err)
	}
	return requireRow(res)
}

// BindConversation associates a conversation with an app. Re-binding the
// same pair is a no-op.
func (s *AppService) BindConversation(httpCtx context.Context, conversationID, appID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO app_conversations (conversation_id, app_id, created_at) VALUES (?, ?, ?)`,
		conversationID, appID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to bind conversation: %w", err)
	}
	return nil
}

// RecordEnergy appends one charge to an app's energy ledger. Requires
// the app to be installed (enforced by the foreign key).
func (s *AppService) RecordEnergy(httpCtx context.Context, appID string, amount float64, conversationID, operation string) error {
	if amount <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_energy (app_id, amount, conversation_id, operation, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		appID, amount, nullString(conversationID), nullString(operation), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record energy: %w", err)
	}
	return nil
}

// GetEnergyMetrics aggregates an app's consumption over the rolling
// windows surfaced by the API.
func (s *AppService) GetEnergyMetrics(ctx context.Context, appID string, now time.Time) (*models.EnergyMetrics, error) {
	if _, err := s.GetApp(ctx, appID); err != nil {
		return nil, err
	}

	var m models.EnergyMetrics
	windows := []struct {
		dest  *float64
		since time.Time
	}{
		{&m.Total, time.Time{}},
		{&m.Last24h, now.Add(-24 * time.Hour)},
		{&m.Last1h, now.Add(-time.Hour)},
		{&m.Last1min, now.Add(-time.Minute)},
	}
	for _, w := range windows {
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(amount), 0) FROM app_energy WHERE app_id = ? AND timestamp >= ?`,
			appID, w.since.UTC()).Scan(w.dest)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate energy: %w", err)
		}
	}
	return &m, nil
}

// GetEnergyEvents returns the newest ledger entries for an app.
func (s *AppService) GetEnergyEvents(ctx context.Context, appID string, limit int) ([]models.EnergyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount, conversation_id, operation, timestamp
		   FROM app_energy WHERE app_id = ? ORDER BY id DESC LIMIT ?`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query energy events: %w", err)
	}
	defer rows.Close()

	var events []models.EnergyEvent
	for rows.Next() {
		var e models.EnergyEvent
		var convID, op sql.NullString
		if err := rows.Scan(&e.Amount, &convID, &op, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan energy event: %w", err)
		}
		e.ConversationID = convID.String
		e.Operation = op.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate energy events: %w", err)
	}
	return events, nil
}

func scanApp(row queryRowScanner) (*models.AppConfig, error) {
	var cfg models.AppConfig
	var name, endpoint sql.NullString
	var hourly, daily sql.NullFloat64

	err := row.Scan(&cfg.AppID, &cfg.Type, &name, &endpoint, &cfg.Enabled, &hourly, &daily)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan app: %w", err)
	}

	cfg.Name = name.String
	cfg.Endpoint = endpoint.String
	if hourly.Valid {
		v := hourly.Float64
		cfg.HourlyEnergyBudget = &v
	}
	if daily.Valid {
		v := daily.Float64
		cfg.DailyEnergyBudget = &v
	}
	return &cfg, nil
}
