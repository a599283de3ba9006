package cashback

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// Repository reads and writes cashback configuration. Find methods return
// nil without error when nothing is configured.
type Repository interface {
	CreateGroup(ctx context.Context, g *Group) error
	SetProfileAmount(ctx context.Context, pa *ProfileAmount) error
	SetUserCashback(ctx context.Context, uc *UserCashback) error
	SetSubAgentCashback(ctx context.Context, sc *SubAgentCashback) error
	FindSubAgentCashback(ctx context.Context, supervisorID, subAgentID, billingProfileID string) (*SubAgentCashback, error)
	FindUserCashback(ctx context.Context, subscriberID, billingProfileID string) (*UserCashback, error)
	FindProfileAmount(ctx context.Context, groupID, billingProfileID string) (*ProfileAmount, error)
}

type PostgresRepository struct {
	db     *db.DB
	logger *logger.Logger
}

func NewRepository(database *db.DB, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: database, logger: log}
}

func (r *PostgresRepository) CreateGroup(ctx context.Context, g *Group) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO cashback_groups (id, name) VALUES ($1, $2) RETURNING created_at`,
		g.ID, g.Name,
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cashback group: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetProfileAmount(ctx context.Context, pa *ProfileAmount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cashback_profile_amounts (cashback_group_id, billing_profile_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (cashback_group_id, billing_profile_id)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`, pa.GroupID, pa.BillingProfileID, pa.Amount)
	if err != nil {
		return fmt.Errorf("failed to set group cashback: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetUserCashback(ctx context.Context, uc *UserCashback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_cashbacks (subscriber_id, billing_profile_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, billing_profile_id)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`, uc.SubscriberID, uc.BillingProfileID, uc.Amount)
	if err != nil {
		return fmt.Errorf("failed to set user cashback: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetSubAgentCashback(ctx context.Context, sc *SubAgentCashback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sub_agent_cashbacks (supervisor_id, sub_agent_id, billing_profile_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (supervisor_id, sub_agent_id, billing_profile_id)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`, sc.SupervisorID, sc.SubAgentID, sc.BillingProfileID, sc.Amount)
	if err != nil {
		return fmt.Errorf("failed to set sub-agent cashback: %w", err)
	}
	return nil
}

// FindSubAgentCashback matches any supervisor when supervisorID is empty,
// preferring the most recently updated entry.
func (r *PostgresRepository) FindSubAgentCashback(ctx context.Context, supervisorID, subAgentID, billingProfileID string) (*SubAgentCashback, error) {
	var sc SubAgentCashback
	err := r.db.QueryRowContext(ctx, `
		SELECT supervisor_id, sub_agent_id, billing_profile_id, amount
		FROM sub_agent_cashbacks
		WHERE sub_agent_id = $1 AND billing_profile_id = $2 AND ($3 = '' OR supervisor_id = $3)
		ORDER BY updated_at DESC
		LIMIT 1
	`, subAgentID, billingProfileID, supervisorID).Scan(&sc.SupervisorID, &sc.SubAgentID, &sc.BillingProfileID, &sc.Amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sub-agent cashback: %w", err)
	}
	return &sc, nil
}

func (r *PostgresRepository) FindUserCashback(ctx context.Context, subscriberID, billingProfileID string) (*UserCashback, error) {
	var uc UserCashback
	err := r.db.QueryRowContext(ctx, `
		SELECT subscriber_id, billing_profile_id, amount
		FROM user_cashbacks
		WHERE subscriber_id = $1 AND billing_profile_id = $2
	`, subscriberID, billingProfileID).Scan(&uc.SubscriberID, &uc.BillingProfileID, &uc.Amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user cashback: %w", err)
	}
	return &uc, nil
}

func (r *PostgresRepository) FindProfileAmount(ctx context.Context, groupID, billingProfileID string) (*ProfileAmount, error) {
	var pa ProfileAmount
	err := r.db.QueryRowContext(ctx, `
		SELECT a.cashback_group_id, a.billing_profile_id, a.amount
		FROM cashback_profile_amounts a
		JOIN cashback_groups g ON g.id = a.cashback_group_id AND NOT g.is_deleted
		WHERE a.cashback_group_id = $1 AND a.billing_profile_id = $2
	`, groupID, billingProfileID).Scan(&pa.GroupID, &pa.BillingProfileID, &pa.Amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group cashback: %w", err)
	}
	return &pa, nil
}
