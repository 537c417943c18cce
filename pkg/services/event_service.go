package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one persisted dashboard event, replayable through the
// WebSocket catchup protocol.
type Event struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Channel        string    `json:"channel"`
	Payload        string    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventService manages WebSocket event persistence and catchup.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// CreateEvent persists an event and returns its assigned id.
func (s *EventService) CreateEvent(httpCtx context.Context, conversationID, channel, payload string) (int64, error) {
	if channel == "" {
		return 0, NewValidationError("channel", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (conversation_id, channel, payload, created_at) VALUES (?, ?, ?, ?)`,
		nullString(conversationID), channel, payload, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// GetEventsSince retrieves events on a channel with id greater than
// sinceID, oldest first, capped at limit.
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, channel, payload, created_at
		   FROM events WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var convID sql.NullString
		if err := rows.Scan(&e.ID, &convID, &e.Channel, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.ConversationID = convID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// CleanupOldEvents removes events older than the TTL.
func (s *EventService) CleanupOldEvents(httpCtx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	return res.RowsAffected()
}
