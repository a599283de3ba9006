package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// Repository is insert-only.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListByActivation(ctx context.Context, activationID string) ([]Entry, error)
	ListBySubscriber(ctx context.Context, subscriberID string, limit, offset int) ([]Entry, error)
	Summary(ctx context.Context, from, to time.Time) ([]StatusSummary, error)
}

type PostgresRepository struct {
	db     *db.DB
	logger *logger.Logger
}

func NewRepository(database *db.DB, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: database, logger: log}
}

const entryColumns = `id, billing_activation_id, COALESCE(radius_activation_id, ''), event, from_status,
	to_status, subscriber_id, subscriber_username, acted_by, on_behalf_of, billing_profile_id,
	billing_profile_name, service_profile_name, activation_type, amount, cashback_amount,
	previous_expiry, new_expiry, retry_count, reason, distribution, created_at`

func (r *PostgresRepository) Insert(ctx context.Context, e *Entry) error {
	var distribution interface{}
	if len(e.Distribution) > 0 {
		distribution = []byte(e.Distribution)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activation_histories (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		e.ID,
		e.BillingActivationID,
		db.NullString(e.RadiusActivationID),
		e.Event,
		e.FromStatus,
		e.ToStatus,
		e.SubscriberID,
		e.SubscriberUsername,
		e.ActedBy,
		e.OnBehalfOf,
		e.BillingProfileID,
		e.BillingProfileName,
		e.ServiceProfileName,
		e.ActivationType,
		e.Amount,
		e.CashbackAmount,
		db.NullTime(e.PreviousExpiry),
		db.NullTime(e.NewExpiry),
		e.RetryCount,
		e.Reason,
		distribution,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByActivation(ctx context.Context, activationID string) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+`
		FROM activation_histories
		WHERE billing_activation_id = $1
		ORDER BY created_at ASC, id ASC`, activationID)
}

func (r *PostgresRepository) ListBySubscriber(ctx context.Context, subscriberID string, limit, offset int) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+`
		FROM activation_histories
		WHERE subscriber_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, subscriberID, limit, offset)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activation history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e             Entry
			previous, nxt sql.NullTime
			distribution  []byte
		)
		err := rows.Scan(
			&e.ID, &e.BillingActivationID, &e.RadiusActivationID, &e.Event, &e.FromStatus,
			&e.ToStatus, &e.SubscriberID, &e.SubscriberUsername, &e.ActedBy, &e.OnBehalfOf,
			&e.BillingProfileID, &e.BillingProfileName, &e.ServiceProfileName, &e.ActivationType,
			&e.Amount, &e.CashbackAmount, &previous, &nxt, &e.RetryCount, &e.Reason,
			&distribution, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation history: %w", err)
		}
		e.PreviousExpiry = db.TimePtr(previous)
		e.NewExpiry = db.TimePtr(nxt)
		e.Distribution = distribution
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary counts activations by the terminal status they reached in
// [from, to).
func (r *PostgresRepository) Summary(ctx context.Context, from, to time.Time) ([]StatusSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT to_status, COUNT(DISTINCT billing_activation_id),
			COALESCE(SUM(amount), 0), COALESCE(SUM(cashback_amount), 0)
		FROM activation_histories
		WHERE to_status IN ('completed', 'failed', 'rolled_back')
			AND from_status <> to_status
			AND created_at >= $1 AND created_at < $2
		GROUP BY to_status
		ORDER BY to_status
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize activations: %w", err)
	}
	defer rows.Close()

	var out []StatusSummary
	for rows.Next() {
		var s StatusSummary
		if err := rows.Scan(&s.Status, &s.Count, &s.Amount, &s.Cashback); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
