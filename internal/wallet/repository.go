package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/pkg/outbox"
)

// Repository persists wallets. Balances are never written here; only the
// ledger moves money.
type Repository interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, ref Ref) (*Wallet, error)
	ListWalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error)
	ListWalletsWithReservations(ctx context.Context) ([]Wallet, error)
	SaveReservations(ctx context.Context, ref Ref, reservations []Reservation) error
	UpdateWalletStatus(ctx context.Context, ref Ref, status Status) error
	SoftDeleteWallet(ctx context.Context, ref Ref) error
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

const walletColumns = `kind, id, COALESCE(owner_id, ''), name, balance, max_fill, daily_spending_limit,
	allow_negative_balance, status, reservations, created_at, updated_at, is_deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var (
		w         Wallet
		reserved  []byte
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&w.Kind,
		&w.ID,
		&w.OwnerID,
		&w.Name,
		&w.Balance,
		&w.MaxFill,
		&w.DailySpendingLimit,
		&w.AllowNegativeBalance,
		&w.Status,
		&reserved,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.IsDeleted,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(reserved) > 0 {
		if err := json.Unmarshal(reserved, &w.Reservations); err != nil {
			return nil, fmt.Errorf("failed to decode reservations for %s: %w", w.Ref(), err)
		}
	}
	w.DeletedAt = db.TimePtr(deletedAt)
	return &w, nil
}

func (r *PostgresRepository) CreateWallet(ctx context.Context, w *Wallet) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO wallets (kind, id, owner_id, name, balance, max_fill, daily_spending_limit,
				allow_negative_balance, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, query,
			w.Kind,
			w.ID,
			db.NullString(w.OwnerID),
			w.Name,
			w.Balance,
			w.MaxFill,
			w.DailySpendingLimit,
			w.AllowNegativeBalance,
			w.Status,
		).Scan(&w.CreatedAt, &w.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrWalletExists, w.Ref())
		}
		if err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}

		return r.saveEvent(ctx, tx, w.Ref(), EventTypeCreated, w.Status)
	})
}

func (r *PostgresRepository) GetWallet(ctx context.Context, ref Ref) (*Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE kind = $1 AND id = $2`

	w, err := scanWallet(r.db.QueryRowContext(ctx, query, ref.Kind, ref.ID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (r *PostgresRepository) ListWalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC`
	return r.list(ctx, query, ownerID)
}

func (r *PostgresRepository) ListWalletsWithReservations(ctx context.Context) ([]Wallet, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallets
		WHERE jsonb_array_length(reservations) > 0`
	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]Wallet, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

func (r *PostgresRepository) SaveReservations(ctx context.Context, ref Ref, reservations []Reservation) error {
	if reservations == nil {
		reservations = []Reservation{}
	}
	payload, err := json.Marshal(reservations)
	if err != nil {
		return fmt.Errorf("failed to encode reservations: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET reservations = $1 WHERE kind = $2 AND id = $3`,
		payload, ref.Kind, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to save reservations: %w", err)
	}
	return requireRow(result, ref)
}

func (r *PostgresRepository) UpdateWalletStatus(ctx context.Context, ref Ref, status Status) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE wallets SET status = $1, updated_at = NOW() WHERE kind = $2 AND id = $3 AND NOT is_deleted`,
			status, ref.Kind, ref.ID)
		if err != nil {
			return fmt.Errorf("failed to update wallet status: %w", err)
		}
		if err := requireRow(result, ref); err != nil {
			return err
		}
		return r.saveEvent(ctx, tx, ref, EventTypeStatusChanged, status)
	})
}

func (r *PostgresRepository) SoftDeleteWallet(ctx context.Context, ref Ref) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE wallets SET is_deleted = TRUE, deleted_at = NOW(), status = $1, updated_at = NOW()
			 WHERE kind = $2 AND id = $3 AND NOT is_deleted`,
			StatusDisabled, ref.Kind, ref.ID)
		if err != nil {
			return fmt.Errorf("failed to delete wallet: %w", err)
		}
		if err := requireRow(result, ref); err != nil {
			return err
		}
		return r.saveEvent(ctx, tx, ref, EventTypeDeleted, StatusDisabled)
	})
}

func (r *PostgresRepository) saveEvent(ctx context.Context, tx *sql.Tx, ref Ref, eventType string, status Status) error {
	if r.outboxRepo == nil {
		return nil
	}
	event, err := outbox.NewEvent(ref.String(), eventType, TopicWalletEvents, WalletEvent{
		Wallet:    ref.String(),
		EventType: eventType,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := r.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, ref Ref) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, ref)
	}
	return nil
}
