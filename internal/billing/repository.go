package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type Repository interface {
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	SoftDeleteProfile(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db     *db.DB
	logger *logger.Logger
}

func NewRepository(database *db.DB, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: database, logger: log}
}

func (r *PostgresRepository) CreateProfile(ctx context.Context, p *Profile) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO billing_profiles (id, name, service_profile_id, group_id, price, duration_days, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, p.ID, p.Name, p.ServiceProfileID, db.NullString(p.GroupID), p.Price, p.DurationDays, p.IsActive,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create billing profile: %w", err)
		}
		return insertChildren(ctx, tx, p)
	})
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, p *Profile) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE billing_profiles
			SET name = $2, service_profile_id = $3, group_id = $4, price = $5, duration_days = $6,
				is_active = $7, updated_at = NOW()
			WHERE id = $1 AND NOT is_deleted
			RETURNING created_at, updated_at
		`, p.ID, p.Name, p.ServiceProfileID, db.NullString(p.GroupID), p.Price, p.DurationDays, p.IsActive,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update billing profile: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM wallet_distribution_rules WHERE billing_profile_id = $1`, p.ID); err != nil {
			return fmt.Errorf("failed to clear rules: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM billing_profile_addons WHERE billing_profile_id = $1`, p.ID); err != nil {
			return fmt.Errorf("failed to clear addons: %w", err)
		}
		return insertChildren(ctx, tx, p)
	})
}

func insertChildren(ctx context.Context, tx *sql.Tx, p *Profile) error {
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_distribution_rules (id, billing_profile_id, wallet_kind, wallet_id,
				use_payer_wallet, share_type, share, direction, display_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, rule.ID, p.ID, db.NullString(string(rule.Wallet.Kind)), db.NullString(rule.Wallet.ID),
			rule.UsePayerWallet, rule.ShareType, rule.Share, rule.Direction, rule.DisplayOrder)
		if err != nil {
			return fmt.Errorf("failed to insert distribution rule: %w", err)
		}
	}

	for i := range p.Addons {
		addon := &p.Addons[i]
		if addon.ID == "" {
			addon.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO billing_profile_addons (id, billing_profile_id, name, price, wallet_kind, wallet_id, display_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, addon.ID, p.ID, addon.Name, addon.Price, addon.Wallet.Kind, addon.Wallet.ID, addon.DisplayOrder)
		if err != nil {
			return fmt.Errorf("failed to insert addon: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var (
		p         Profile
		groupID   sql.NullString
		deletedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, service_profile_id, group_id, price, duration_days, is_active,
			created_at, updated_at, is_deleted, deleted_at
		FROM billing_profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.ServiceProfileID, &groupID, &p.Price, &p.DurationDays, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt, &p.IsDeleted, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile: %w", err)
	}
	p.GroupID = groupID.String
	p.DeletedAt = db.TimePtr(deletedAt)

	if err := r.loadChildren(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) loadChildren(ctx context.Context, p *Profile) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(wallet_kind, ''), COALESCE(wallet_id, ''), use_payer_wallet, share_type, share,
			direction, display_order
		FROM wallet_distribution_rules
		WHERE billing_profile_id = $1
		ORDER BY display_order ASC, id ASC
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	p.Rules = nil
	for rows.Next() {
		var (
			rule DistributionRule
			kind string
		)
		if err := rows.Scan(&rule.ID, &kind, &rule.Wallet.ID, &rule.UsePayerWallet, &rule.ShareType,
			&rule.Share, &rule.Direction, &rule.DisplayOrder); err != nil {
			return fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Wallet.Kind = wallet.Kind(kind)
		p.Rules = append(p.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	addonRows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, wallet_kind, wallet_id, display_order
		FROM billing_profile_addons
		WHERE billing_profile_id = $1
		ORDER BY display_order ASC, id ASC
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load addons: %w", err)
	}
	defer addonRows.Close()

	p.Addons = nil
	for addonRows.Next() {
		var a Addon
		if err := addonRows.Scan(&a.ID, &a.Name, &a.Price, &a.Wallet.Kind, &a.Wallet.ID, &a.DisplayOrder); err != nil {
			return fmt.Errorf("failed to scan addon: %w", err)
		}
		p.Addons = append(p.Addons, a)
	}
	return addonRows.Err()
}

func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM billing_profiles WHERE NOT is_deleted ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing profiles: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan billing profile id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func (r *PostgresRepository) SoftDeleteProfile(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE billing_profiles SET is_deleted = TRUE, deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete billing profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return nil
}
