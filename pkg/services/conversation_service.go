// Package services implements the persistence layer over the embedded
// SQLite store. Each service owns one slice of the schema; all of them
// share a single *sql.DB guarded by the database client's connection cap.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/pkg/models"
)

// writeTimeout bounds critical writes so they survive HTTP client
// disconnects; reads use the caller's context directly.
const writeTimeout = 10 * time.Second

// ConversationService manages conversation lifecycle and response history.
type ConversationService struct {
	db *sql.DB
}

// NewConversationService creates a new ConversationService
func NewConversationService(db *sql.DB) *ConversationService {
	return &ConversationService{db: db}
}

// AddResponseParams carries one response append. The first append for a
// request id creates the conversation row.
type AddResponseParams struct {
	RequestID    string
	InputMessage string
	AppID        string
	Budget       *float64 // nil = unlimited, 0 = last chance
	Role         string   // "user" or "assistant"
	Content      string
	EnergyLevel  float64
	ModelUsed    string
}

// AddResponse appends a response to a conversation, creating the
// conversation on first use of the request id.
func (s *ConversationService) AddResponse(httpCtx context.Context, params AddResponseParams) (*models.Conversation, error) {
	if params.RequestID == "" {
		return nil, NewValidationError("request_id", "required")
	}
	if params.Role != "user" && params.Role != "assistant" {
		return nil, NewValidationError("role", "must be 'user' or 'assistant'")
	}
	if params.Budget != nil && *params.Budget < 0 {
		return nil, ErrInvalidBudget
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	conv, err := getConversationTx(ctx, tx, params.RequestID)
	if errors.Is(err, ErrNotFound) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations
			   (request_id, input_message, app_id, budget, state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			params.RequestID, params.InputMessage, nullString(params.AppID),
			nullFloat(params.Budget), string(models.ConversationStateActive), now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	} else if err != nil {
		return nil, err
	} else if conv.State == models.ConversationStateEnded {
		return nil, ErrConversationEnded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO responses (conversation_id, role, content, energy_level, model_used, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		params.RequestID, params.Role, params.Content, params.EnergyLevel,
		nullString(params.ModelUsed), now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert response: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE request_id = ?`,
		now, params.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return s.GetConversation(httpCtx, params.RequestID)
}

// GetConversation retrieves a conversation and its full response history.
// Returns ErrNotFound for unknown ids.
func (s *ConversationService) GetConversation(ctx context.Context, requestID string) (*models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT request_id, input_message, app_id, budget, total_energy_consumed,
		        sleep_cycles, model_switches, state, snooze_until, ended_reason,
		        created_at, updated_at
		   FROM conversations WHERE request_id = ?`, requestID))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, energy_level, model_used, timestamp
		   FROM responses WHERE conversation_id = ? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Response
		var model sql.NullString
		if err := rows.Scan(&r.ID, &r.Role, &r.Content, &r.EnergyLevel, &model, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		r.ModelUsed = model.String
		conv.Responses = append(conv.Responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}

	return conv, nil
}

const maxListLimit = 100

// ListConversations returns list-view summaries, newest update first.
// Limit defaults to 10 and is capped at 100.
func (s *ConversationService) ListConversations(ctx context.Context, params models.ListConversationsParams) ([]models.ConversationSummary, error) {
	if params.State != "" && !models.ValidConversationState(params.State) {
		return nil, NewValidationError("state", "unknown conversation state")
	}
	if params.BudgetStatus != "" && !models.ValidBudgetStatus(params.BudgetStatus) {
		return nil, NewValidationError("budgetStatus", "unknown budget status")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT c.request_id, c.input_message, c.app_id, c.state, c.budget,
	                 c.total_energy_consumed, c.created_at, c.updated_at,
	                 (SELECT COUNT(*) FROM responses r WHERE r.conversation_id = c.request_id)
	            FROM conversations c`
	args := []any{}
	if params.State != "" {
		query += ` WHERE c.state = ?`
		args = append(args, params.State)
	}
	query += ` ORDER BY c.updated_at DESC`

	// Budget status is derived, not stored, so it is filtered in memory
	// after the scan. The limit applies to the filtered result.
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0, limit)
	for rows.Next() {
		var sum models.ConversationSummary
		var appID sql.NullString
		var budget sql.NullFloat64
		if err := rows.Scan(&sum.RequestID, &sum.InputMessage, &appID, &sum.State,
			&budget, &sum.TotalEnergyConsumed, &sum.CreatedAt, &sum.UpdatedAt,
			&sum.ResponseCount); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.AppID = appID.String
		if budget.Valid {
			b := budget.Float64
			sum.Budget = &b
		}
		sum.BudgetStatus = (&models.Conversation{
			Budget:              sum.Budget,
			TotalEnergyConsumed: sum.TotalEnergyConsumed,
		}).BudgetStatus()

		if params.BudgetStatus != "" {
			if sum.BudgetStatus == nil || string(*sum.BudgetStatus) != params.BudgetStatus {
				continue
			}
		}
		summaries = append(summaries, sum)
		if len(summaries) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return summaries, nil
}

// GetPendingConversations returns active conversations whose newest
// response came from the user, oldest update first so the loop's
// tie-breaking favors the longest-waiting request.
func (s *ConversationService) GetPendingConversations(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.request_id, c.input_message, c.app_id, c.budget, c.total_energy_consumed,
		        c.sleep_cycles, c.model_switches, c.state, c.snooze_until, c.ended_reason,
		        c.created_at, c.updated_at
		   FROM conversations c
		  WHERE c.state = 'active'
		    AND (SELECT r.role FROM responses r
		          WHERE r.conversation_id = c.request_id
		          ORDER BY r.id DESC LIMIT 1) = 'user'
		  ORDER BY c.updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// GetConversationsByApp returns all conversations bound to an app,
// newest first.
func (s *ConversationService) GetConversationsByApp(ctx context.Context, appID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.request_id, c.input_message, c.app_id, c.budget, c.total_energy_consumed,
		        c.sleep_cycles, c.model_switches, c.state, c.snooze_until, c.ended_reason,
		        c.created_at, c.updated_at
		   FROM conversations c
		   JOIN app_conversations ac ON ac.conversation_id = c.request_id
		  WHERE ac.app_id = ?
		  ORDER BY c.updated_at DESC`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to query app conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// SetEnergyBudget sets or clears a conversation's energy budget.
func (s *ConversationService) SetEnergyBudget(httpCtx context.Context, requestID string, budget *float64) error {
	if budget != nil && *budget < 0 {
		return ErrInvalidBudget
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET budget = ?, updated_at = ? WHERE request_id = ?`,
		nullFloat(budget), time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to set budget: %w", err)
	}
	return requireRow(res)
}

// AddEnergyConsumed attributes a charge to a conversation. Negative and
// zero amounts are ignored so the counter only grows.
func (s *ConversationService) AddEnergyConsumed(httpCtx context.Context, requestID string, amount float64) error {
	if amount <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		    SET total_energy_consumed = total_energy_consumed + ?, updated_at = ?
		  WHERE request_id = ?`,
		amount, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to add energy: %w", err)
	}
	return requireRow(res)
}

// IncrementSleepCycles bumps the conversation's sleep cycle counter.
func (s *ConversationService) IncrementSleepCycles(ctx context.Context, requestID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET sleep_cycles = sleep_cycles + 1 WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to increment sleep cycles: %w", err)
	}
	return requireRow(res)
}

// IncrementModelSwitches bumps the conversation's model switch counter.
func (s *ConversationService) IncrementModelSwitches(ctx context.Context, requestID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET model_switches = model_switches + 1 WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to increment model switches: %w", err)
	}
	return requireRow(res)
}

// EndConversation moves a conversation to the terminal ended state.
// Ending an already-ended conversation is a no-op.
func (s *ConversationService) EndConversation(httpCtx context.Context, requestID, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	conv, err := getConversationDB(ctx, s.db, requestID)
	if err != nil {
		return err
	}
	if conv.State == models.ConversationStateEnded {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations
		    SET state = 'ended', ended_reason = ?, snooze_until = NULL, updated_at = ?
		  WHERE request_id = ?`,
		nullString(reason), time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	return nil
}

// SnoozeConversation parks an active conversation until the given time.
func (s *ConversationService) SnoozeConversation(httpCtx context.Context, requestID string, until time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	conv, err := getConversationDB(ctx, s.db, requestID)
	if err != nil {
		return err
	}
	if conv.State == models.ConversationStateEnded {
		return ErrConversationEnded
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET state = 'snoozed', snooze_until = ?, updated_at = ?
		  WHERE request_id = ?`,
		until.UTC(), time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to snooze conversation: %w", err)
	}
	return nil
}

// WakeDueConversations reactivates every snoozed conversation whose
// wake time has passed. Returns the ids that woke.
func (s *ConversationService) WakeDueConversations(httpCtx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id FROM conversations
		  WHERE state = 'snoozed' AND snooze_until IS NOT NULL AND snooze_until <= ?`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due conversations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		_, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET state = 'active', snooze_until = NULL, updated_at = ?
			  WHERE request_id = ?`, time.Now().UTC(), id)
		if err != nil {
			return nil, fmt.Errorf("failed to wake conversation %s: %w", id, err)
		}
	}
	return ids, nil
}

// queryRowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type queryRowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row queryRowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var appID, endedReason sql.NullString
	var budget sql.NullFloat64
	var snoozeUntil sql.NullTime

	err := row.Scan(&c.RequestID, &c.InputMessage, &appID, &budget,
		&c.TotalEnergyConsumed, &c.SleepCycles, &c.ModelSwitches, &c.State,
		&snoozeUntil, &endedReason, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	c.AppID = appID.String
	c.EndedReason = endedReason.String
	if budget.Valid {
		b := budget.Float64
		c.Budget = &b
	}
	if snoozeUntil.Valid {
		t := snoozeUntil.Time
		c.SnoozeUntil = &t
	}
	return &c, nil
}

func collectConversations(rows *sql.Rows) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

const conversationColumns = `request_id, input_message, app_id, budget, total_energy_consumed,
	sleep_cycles, model_switches, state, snooze_until, ended_reason, created_at, updated_at`

func getConversationDB(ctx context.Context, db *sql.DB, requestID string) (*models.Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE request_id = ?`, requestID))
}

func getConversationTx(ctx context.Context, tx *sql.Tx, requestID string) (*models.Conversation, error) {
	return scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE request_id = ?`, requestID))
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
