package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"

	// MaxAttempts is the number of publish attempts before an event is parked.
	MaxAttempts = 5
)

type OutboxEvent struct {
	ID          string                 `json:"id"`
	AggregateID string                 `json:"aggregate_id"`
	EventType   string                 `json:"event_type"`
	Topic       string                 `json:"topic"`
	Payload     map[string]interface{} `json:"payload"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	LastError   *string                `json:"last_error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	PublishedAt *time.Time             `json:"published_at,omitempty"`
}

// NewEvent converts any JSON-serializable payload into an outbox event.
func NewEvent(aggregateID, eventType, topic string, payload interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return &OutboxEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		Topic:       topic,
		Payload:     m,
	}, nil
}

type Repository struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewRepository(database *sql.DB, log *logger.Logger) *Repository {
	return &Repository{db: database, logger: log}
}

// SaveEvent inserts the event inside the caller's transaction so it commits
// or rolls back together with the state change it describes.
func (r *Repository) SaveEvent(ctx context.Context, tx *sql.Tx, event *OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Status = StatusPending

	query := `
		INSERT INTO outbox_events (id, aggregate_id, event_type, topic, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err = tx.QueryRowContext(ctx, query,
		event.ID, event.AggregateID, event.EventType, event.Topic, payload, event.Status,
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents returns pending events oldest first.
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := `
		SELECT id, aggregate_id, event_type, topic, payload, status, attempts, last_error, created_at, published_at
		FROM outbox_events
		WHERE status = $1 AND attempts < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, StatusPending, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			e           OutboxEvent
			payload     []byte
			lastError   sql.NullString
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Topic, &payload,
			&e.Status, &e.Attempts, &lastError, &e.CreatedAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", e.ID, err)
		}
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		if publishedAt.Valid {
			e.PublishedAt = &publishedAt.Time
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkAsPublished(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, published_at = NOW() WHERE id = $2`,
		StatusPublished, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}

func (r *Repository) MarkAsFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, last_error = $2 WHERE id = $3`,
		StatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

func (r *Repository) IncrementAttempt(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}
