package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
	"github.com/Ali-Mohammed/openRadius-sub010/pkg/outbox"
)

// Repository stores ledger rows. Append methods move the wallet balance in
// the same store transaction as the rows they insert.
type Repository interface {
	AppendTransaction(ctx context.Context, t *Transaction) error
	AppendReversal(ctx context.Context, rev *Transaction, originalID string) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactionsByActivation(ctx context.Context, activationID string) ([]Transaction, error)
	ListTransactionsByWallet(ctx context.Context, ref wallet.Ref, limit, offset int) ([]Transaction, error)
	ListWalletHistory(ctx context.Context, ref wallet.Ref, limit, offset int) ([]WalletHistory, error)
	SumSigned(ctx context.Context, ref wallet.Ref) (decimal.Decimal, error)
	SpentSince(ctx context.Context, ref wallet.Ref, since time.Time) (decimal.Decimal, error)
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

const transactionColumns = `id, type, amount_type, amount, status, wallet_kind, wallet_id,
	balance_before, balance_after, COALESCE(related_transaction_id, ''), COALESCE(billing_activation_id, ''),
	description, created_by, created_at, updated_at, is_deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t         Transaction
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.AmountType,
		&t.Amount,
		&t.Status,
		&t.Wallet.Kind,
		&t.Wallet.ID,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.RelatedTransactionID,
		&t.BillingActivationID,
		&t.Description,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.IsDeleted,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.DeletedAt = db.TimePtr(deletedAt)
	return &t, nil
}

// moveBalance is a compare-and-set on the wallet row; it fails when the
// balance no longer equals the value the caller computed from.
func moveBalance(ctx context.Context, tx *sql.Tx, t *Transaction) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = $1, updated_at = NOW()
		WHERE kind = $2 AND id = $3 AND balance = $4
	`, t.BalanceAfter, t.Wallet.Kind, t.Wallet.ID, t.BalanceBefore)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrBalanceMismatch, t.Wallet)
	}
	return nil
}

func (r *PostgresRepository) insert(ctx context.Context, tx *sql.Tx, t *Transaction, eventType string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, type, amount_type, amount, status, wallet_kind, wallet_id,
			balance_before, balance_after, related_transaction_id, billing_activation_id,
			description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`,
		t.ID,
		t.Type,
		t.AmountType,
		t.Amount,
		t.Status,
		t.Wallet.Kind,
		t.Wallet.ID,
		t.BalanceBefore,
		t.BalanceAfter,
		db.NullString(t.RelatedTransactionID),
		db.NullString(t.BillingActivationID),
		t.Description,
		t.CreatedBy,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	h := t.History(uuid.NewString())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_histories (id, transaction_id, wallet_kind, wallet_id, type, amount_type,
			amount, balance_before, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		h.ID, h.TransactionID, h.Wallet.Kind, h.Wallet.ID, h.Type, h.AmountType,
		h.Amount, h.BalanceBefore, h.BalanceAfter, h.Description, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet history: %w", err)
	}

	if r.outboxRepo == nil {
		return nil
	}
	event, err := outbox.NewEvent(t.Wallet.String(), eventType, TopicLedgerTransactions, NewTransactionEvent(t))
	if err != nil {
		return err
	}
	if err := r.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendTransaction(ctx context.Context, t *Transaction) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := moveBalance(ctx, tx, t); err != nil {
			return err
		}
		return r.insert(ctx, tx, t, EventTypeAppended)
	})
}

func (r *PostgresRepository) AppendReversal(ctx context.Context, rev *Transaction, originalID string) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3 AND type <> $4 AND NOT is_deleted
		`, StatusReversed, originalID, StatusCompleted, TypeReversal)
		if err != nil {
			return fmt.Errorf("failed to mark transaction reversed: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrNotReversible, originalID)
		}

		if err := moveBalance(ctx, tx, rev); err != nil {
			return err
		}
		return r.insert(ctx, tx, rev, EventTypeReversed)
	})
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListTransactionsByActivation(ctx context.Context, activationID string) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE billing_activation_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, activationID)
}

func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, ref wallet.Ref, limit, offset int) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE wallet_kind = $1 AND wallet_id = $2 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	return r.list(ctx, query, ref.Kind, ref.ID, limit, offset)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (r *PostgresRepository) ListWalletHistory(ctx context.Context, ref wallet.Ref, limit, offset int) ([]WalletHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, wallet_kind, wallet_id, type, amount_type, amount,
			balance_before, balance_after, description, created_at
		FROM wallet_histories
		WHERE wallet_kind = $1 AND wallet_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, ref.Kind, ref.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet history: %w", err)
	}
	defer rows.Close()

	var history []WalletHistory
	for rows.Next() {
		var h WalletHistory
		if err := rows.Scan(&h.ID, &h.TransactionID, &h.Wallet.Kind, &h.Wallet.ID, &h.Type,
			&h.AmountType, &h.Amount, &h.BalanceBefore, &h.BalanceAfter, &h.Description, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *PostgresRepository) SumSigned(ctx context.Context, ref wallet.Ref) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN amount_type = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE wallet_kind = $1 AND wallet_id = $2 AND status = $3 AND NOT is_deleted
	`, ref.Kind, ref.ID, StatusCompleted).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

func (r *PostgresRepository) SpentSince(ctx context.Context, ref wallet.Ref, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE wallet_kind = $1 AND wallet_id = $2 AND amount_type = 'debit'
			AND status = $3 AND NOT is_deleted AND created_at >= $4
	`, ref.Kind, ref.ID, StatusCompleted, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum spending: %w", err)
	}
	return sum, nil
}
