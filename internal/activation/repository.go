package activation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
	"github.com/Ali-Mohammed/openRadius-sub010/pkg/outbox"
)

// ErrDuplicateRequest means an activation with the same idempotency key
// already exists.
var ErrDuplicateRequest = errors.New("duplicate activation request")

// Repository persists activations and their attempts. CreateActivation
// fails with ErrBusy while the subscriber has an open activation, and
// CreateAttempt fails with ErrBusy while another attempt is open.
// UpdateActivation only writes when the stored status is still from, and
// StartAttempt only moves a pending attempt to processing.
type Repository interface {
	CreateActivation(ctx context.Context, a *Activation) error
	UpdateActivation(ctx context.Context, a *Activation, from Status) error
	GetActivation(ctx context.Context, id string) (*Activation, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Activation, error)
	FindReversalOf(ctx context.Context, id string) (*Activation, error)
	HasOpenActivation(ctx context.Context, subscriberID string) (bool, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Activation, error)
	HasCompletedActivation(ctx context.Context, billingProfileID string) (bool, error)
	CreateAttempt(ctx context.Context, at *Attempt) error
	StartAttempt(ctx context.Context, at *Attempt) error
	UpdateAttempt(ctx context.Context, at *Attempt) error
	ListAttempts(ctx context.Context, activationID string) ([]Attempt, error)
	ListProcessingAttempts(ctx context.Context, startedBefore time.Time) ([]Attempt, error)
}

type PostgresRepository struct {
	db         *db.DB
	outboxRepo *outbox.Repository
	logger     *logger.Logger
}

func NewRepository(database *db.DB, outboxRepo *outbox.Repository, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:         database,
		outboxRepo: outboxRepo,
		logger:     log,
	}
}

const activationColumns = `id, subscriber_id, billing_profile_id, acted_by, COALESCE(on_behalf_of, ''),
	payment_method, COALESCE(payer_wallet_kind, ''), COALESCE(payer_wallet_id, ''), source, type,
	amount, cashback_amount, apply_cashback, previous_expiry, new_expiry,
	COALESCE(previous_profile_id, ''), COALESCE(new_profile_id, ''), status, failure_reason,
	retry_count, next_retry_at, COALESCE(settlement_transaction_id, ''), COALESCE(reversal_of_id, ''),
	COALESCE(idempotency_key, ''), distribution, created_at, updated_at, completed_at, is_deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivation(row rowScanner) (*Activation, error) {
	var (
		a                                  Activation
		payerKind, payerID                 string
		previous, next, retryAt, completed sql.NullTime
		deleted                            sql.NullTime
		distribution                       []byte
	)
	err := row.Scan(
		&a.ID, &a.SubscriberID, &a.BillingProfileID, &a.ActedBy, &a.OnBehalfOf,
		&a.PaymentMethod, &payerKind, &payerID, &a.Source, &a.Type,
		&a.Amount, &a.CashbackAmount, &a.ApplyCashback, &previous, &next,
		&a.PreviousProfileID, &a.NewProfileID, &a.Status, &a.FailureReason,
		&a.RetryCount, &retryAt, &a.SettlementTransactionID, &a.ReversalOfID,
		&a.IdempotencyKey, &distribution, &a.CreatedAt, &a.UpdatedAt, &completed, &a.IsDeleted, &deleted,
	)
	if err != nil {
		return nil, err
	}
	if payerID != "" {
		a.PayerWallet = wallet.Ref{Kind: wallet.Kind(payerKind), ID: payerID}
	}
	a.PreviousExpiry = db.TimePtr(previous)
	a.NewExpiry = db.TimePtr(next)
	a.NextRetryAt = db.TimePtr(retryAt)
	a.CompletedAt = db.TimePtr(completed)
	a.DeletedAt = db.TimePtr(deleted)
	a.Distribution = distribution
	return &a, nil
}

func jsonOrNull(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *PostgresRepository) CreateActivation(ctx context.Context, a *Activation) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO billing_activations (id, subscriber_id, billing_profile_id, acted_by, on_behalf_of,
				payment_method, payer_wallet_kind, payer_wallet_id, source, type, amount, cashback_amount,
				apply_cashback, previous_expiry, new_expiry, previous_profile_id, new_profile_id, status,
				failure_reason, retry_count, settlement_transaction_id, reversal_of_id, idempotency_key,
				distribution, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
				$19, $20, $21, $22, $23, $24, $25, $26, $27)
		`,
			a.ID, a.SubscriberID, a.BillingProfileID, a.ActedBy, db.NullString(a.OnBehalfOf),
			a.PaymentMethod, db.NullString(string(a.PayerWallet.Kind)), db.NullString(a.PayerWallet.ID),
			a.Source, a.Type, a.Amount, a.CashbackAmount,
			a.ApplyCashback, db.NullTime(a.PreviousExpiry), db.NullTime(a.NewExpiry),
			db.NullString(a.PreviousProfileID), db.NullString(a.NewProfileID), a.Status,
			a.FailureReason, a.RetryCount, db.NullString(a.SettlementTransactionID),
			db.NullString(a.ReversalOfID), db.NullString(a.IdempotencyKey),
			jsonOrNull(a.Distribution), a.CreatedAt, a.UpdatedAt, db.NullTime(a.CompletedAt),
		)
		if err != nil {
			return mapConflict(err, a)
		}
		return r.saveEvent(ctx, tx, a)
	})
}

func mapConflict(err error, a *Activation) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == "uq_billing_activations_idempotency" {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, a.IdempotencyKey)
		}
		return fmt.Errorf("%w: subscriber %s has an open activation", ErrBusy, a.SubscriberID)
	}
	return fmt.Errorf("failed to save activation: %w", err)
}

func (r *PostgresRepository) UpdateActivation(ctx context.Context, a *Activation, from Status) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE billing_activations SET
				type = $2, amount = $3, cashback_amount = $4, previous_expiry = $5, new_expiry = $6,
				previous_profile_id = $7, new_profile_id = $8, status = $9, failure_reason = $10,
				retry_count = $11, next_retry_at = $12, settlement_transaction_id = $13,
				distribution = $14, updated_at = $15, completed_at = $16
			WHERE id = $1 AND status = $17
		`,
			a.ID, a.Type, a.Amount, a.CashbackAmount, db.NullTime(a.PreviousExpiry), db.NullTime(a.NewExpiry),
			db.NullString(a.PreviousProfileID), db.NullString(a.NewProfileID), a.Status, a.FailureReason,
			a.RetryCount, db.NullTime(a.NextRetryAt), db.NullString(a.SettlementTransactionID),
			jsonOrNull(a.Distribution), a.UpdatedAt, db.NullTime(a.CompletedAt), from,
		)
		if err != nil {
			return mapConflict(err, a)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var current Status
			err := tx.QueryRowContext(ctx, `SELECT status FROM billing_activations WHERE id = $1`, a.ID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrActivationNotFound, a.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to read activation status: %w", err)
			}
			return fmt.Errorf("%w: activation %s is %s, expected %s", ErrInvalidTransition, a.ID, current, from)
		}
		return r.saveEvent(ctx, tx, a)
	})
}

func (r *PostgresRepository) saveEvent(ctx context.Context, tx *sql.Tx, a *Activation) error {
	if r.outboxRepo == nil {
		return nil
	}
	event, err := outbox.NewEvent(a.ID, EventTypeStatusChanged, TopicActivationEvents, StatusEvent{
		ActivationID:  a.ID,
		SubscriberID:  a.SubscriberID,
		Status:        a.Status,
		Type:          a.Type,
		Amount:        a.Amount.StringFixed(2),
		RetryCount:    a.RetryCount,
		FailureReason: a.FailureReason,
		OccurredAt:    a.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if err := r.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg interface{}) (*Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM billing_activations WHERE ` + where + ` AND NOT is_deleted`
	a, err := scanActivation(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrActivationNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activation: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetActivation(ctx context.Context, id string) (*Activation, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Activation, error) {
	return r.getOne(ctx, "idempotency_key = $1", key)
}

func (r *PostgresRepository) FindReversalOf(ctx context.Context, id string) (*Activation, error) {
	return r.getOne(ctx, "reversal_of_id = $1", id)
}

func (r *PostgresRepository) HasOpenActivation(ctx context.Context, subscriberID string) (bool, error) {
	var open bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM billing_activations
			WHERE subscriber_id = $1 AND NOT is_deleted
				AND status IN ('created', 'distributing', 'awaiting_external', 'retrying')
		)
	`, subscriberID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("failed to check open activations: %w", err)
	}
	return open, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]Activation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+activationColumns+`
		FROM billing_activations
		WHERE status = $1 AND NOT is_deleted
		ORDER BY COALESCE(next_retry_at, updated_at) ASC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) HasCompletedActivation(ctx context.Context, billingProfileID string) (bool, error) {
	var found bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM billing_activations
			WHERE billing_profile_id = $1 AND status = 'completed' AND reversal_of_id IS NULL
		)
	`, billingProfileID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check profile references: %w", err)
	}
	return found, nil
}

const attemptColumns = `id, billing_activation_id, COALESCE(previous_service_profile_id, ''),
	COALESCE(new_service_profile_id, ''), COALESCE(previous_billing_profile_id, ''),
	COALESCE(new_billing_profile_id, ''), previous_expiry, new_expiry, previous_balance, new_balance,
	type, status, api_status_code, api_message, api_raw_response, retry_count, last_retry_at,
	processing_started_at, completed_at, created_at`

func (r *PostgresRepository) CreateAttempt(ctx context.Context, at *Attempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO radius_activations (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		at.ID, at.BillingActivationID, db.NullString(at.PreviousServiceProfileID),
		db.NullString(at.NewServiceProfileID), db.NullString(at.PreviousBillingProfileID),
		db.NullString(at.NewBillingProfileID), db.NullTime(at.PreviousExpiry), db.NullTime(at.NewExpiry),
		at.PreviousBalance, at.NewBalance, at.Type, at.Status, at.APIStatusCode, at.APIMessage,
		at.APIRawResponse, at.RetryCount, db.NullTime(at.LastRetryAt), db.NullTime(at.ProcessingStartedAt),
		db.NullTime(at.CompletedAt), at.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: activation %s already has an attempt in flight", ErrBusy, at.BillingActivationID)
	}
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// StartAttempt stamps the call start on a pending attempt.
func (r *PostgresRepository) StartAttempt(ctx context.Context, at *Attempt) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE radius_activations SET status = 'processing', processing_started_at = $2
		WHERE id = $1 AND status = 'pending'
	`, at.ID, db.NullTime(at.ProcessingStartedAt))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: activation %s already has an attempt in flight", ErrBusy, at.BillingActivationID)
	}
	if err != nil {
		return fmt.Errorf("failed to start attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: attempt %s is no longer pending", ErrBusy, at.ID)
	}
	return nil
}

// UpdateAttempt only finalizes: status, outcome and timestamps.
func (r *PostgresRepository) UpdateAttempt(ctx context.Context, at *Attempt) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE radius_activations SET
			status = $2, api_status_code = $3, api_message = $4, api_raw_response = $5,
			new_balance = $6, completed_at = $7
		WHERE id = $1
	`, at.ID, at.Status, at.APIStatusCode, at.APIMessage, at.APIRawResponse, at.NewBalance, db.NullTime(at.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAttempts(ctx context.Context, activationID string) ([]Attempt, error) {
	return r.listAttempts(ctx, `SELECT `+attemptColumns+`
		FROM radius_activations
		WHERE billing_activation_id = $1
		ORDER BY created_at ASC, retry_count ASC`, activationID)
}

func (r *PostgresRepository) ListProcessingAttempts(ctx context.Context, startedBefore time.Time) ([]Attempt, error) {
	return r.listAttempts(ctx, `SELECT `+attemptColumns+`
		FROM radius_activations
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at ASC`, startedBefore)
}

func (r *PostgresRepository) listAttempts(ctx context.Context, query string, args ...interface{}) ([]Attempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			at                                        Attempt
			previous, next, lastRetry, started, done sql.NullTime
		)
		err := rows.Scan(
			&at.ID, &at.BillingActivationID, &at.PreviousServiceProfileID, &at.NewServiceProfileID,
			&at.PreviousBillingProfileID, &at.NewBillingProfileID, &previous, &next,
			&at.PreviousBalance, &at.NewBalance, &at.Type, &at.Status, &at.APIStatusCode,
			&at.APIMessage, &at.APIRawResponse, &at.RetryCount, &lastRetry, &started, &done, &at.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		at.PreviousExpiry = db.TimePtr(previous)
		at.NewExpiry = db.TimePtr(next)
		at.LastRetryAt = db.TimePtr(lastRetry)
		at.ProcessingStartedAt = db.TimePtr(started)
		at.CompletedAt = db.TimePtr(done)
		out = append(out, at)
	}
	return out, rows.Err()
}
