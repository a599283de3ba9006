package subscriber

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// Repository stores synced RADIUS records. Upserts key on the external id
// and report whether the row was created.
type Repository interface {
	UpsertServiceProfile(ctx context.Context, p *ServiceProfile) (bool, error)
	UpsertGroup(ctx context.Context, g *Group) (bool, error)
	UpsertZone(ctx context.Context, z *Zone) (bool, error)
	UpsertNAS(ctx context.Context, n *NAS) (bool, error)
	UpsertSubscriber(ctx context.Context, s *Subscriber) (bool, error)
	GetSubscriber(ctx context.Context, id string) (*Subscriber, error)
	GetServiceProfile(ctx context.Context, id string) (*ServiceProfile, error)
	UpdateSubscriberService(ctx context.Context, id, serviceProfileID, billingProfileID string, expiration time.Time) error
	AssignSubscriber(ctx context.Context, id string, req *AssignRequest) error
}

type PostgresRepository struct {
	db     *db.DB
	logger *logger.Logger
}

func NewRepository(database *db.DB, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: database, logger: log}
}

// New rows take the external id as their id.
func (r *PostgresRepository) upsert(ctx context.Context, what, query string, args ...interface{}) (bool, error) {
	var inserted bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("failed to upsert %s: %w", what, err)
	}
	return inserted, nil
}

func (r *PostgresRepository) UpsertServiceProfile(ctx context.Context, p *ServiceProfile) (bool, error) {
	return r.upsert(ctx, "service profile", `
		INSERT INTO service_profiles (id, external_id, name, download, upload)
		VALUES ($1, $1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name, download = EXCLUDED.download, upload = EXCLUDED.upload,
			is_deleted = FALSE, deleted_at = NULL, updated_at = NOW()
		RETURNING (xmax = 0)
	`, p.ExternalID, p.Name, p.Download, p.Upload)
}

func (r *PostgresRepository) UpsertGroup(ctx context.Context, g *Group) (bool, error) {
	return r.upsert(ctx, "group", `
		INSERT INTO subscriber_groups (id, external_id, name)
		VALUES ($1, $1, $2)
		ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING (xmax = 0)
	`, g.ExternalID, g.Name)
}

func (r *PostgresRepository) UpsertZone(ctx context.Context, z *Zone) (bool, error) {
	return r.upsert(ctx, "zone", `
		INSERT INTO zones (id, external_id, name)
		VALUES ($1, $1, $2)
		ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING (xmax = 0)
	`, z.ExternalID, z.Name)
}

func (r *PostgresRepository) UpsertNAS(ctx context.Context, n *NAS) (bool, error) {
	return r.upsert(ctx, "nas", `
		INSERT INTO nas (id, external_id, name, ip_address, type)
		VALUES ($1, $1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name, ip_address = EXCLUDED.ip_address, type = EXCLUDED.type, updated_at = NOW()
		RETURNING (xmax = 0)
	`, n.ExternalID, n.Name, n.IPAddress, n.Type)
}

func (r *PostgresRepository) UpsertSubscriber(ctx context.Context, s *Subscriber) (bool, error) {
	return r.upsert(ctx, "subscriber", `
		INSERT INTO subscribers (id, external_id, username, profile_id, billing_profile_id, group_id,
			zone_id, cashback_group_id, expiration, enabled)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			profile_id = EXCLUDED.profile_id,
			billing_profile_id = COALESCE(EXCLUDED.billing_profile_id, subscribers.billing_profile_id),
			group_id = EXCLUDED.group_id,
			zone_id = EXCLUDED.zone_id,
			cashback_group_id = COALESCE(EXCLUDED.cashback_group_id, subscribers.cashback_group_id),
			expiration = EXCLUDED.expiration,
			enabled = EXCLUDED.enabled,
			is_deleted = FALSE,
			deleted_at = NULL,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`,
		s.ExternalID,
		s.Username,
		db.NullString(s.ProfileID),
		db.NullString(s.BillingProfileID),
		db.NullString(s.GroupID),
		db.NullString(s.ZoneID),
		db.NullString(s.CashbackGroupID),
		db.NullTime(s.Expiration),
		s.Enabled,
	)
}

func (r *PostgresRepository) GetSubscriber(ctx context.Context, id string) (*Subscriber, error) {
	var (
		s                   Subscriber
		expiration, deleted sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, username, COALESCE(profile_id, ''), COALESCE(billing_profile_id, ''),
			COALESCE(group_id, ''), COALESCE(zone_id, ''), COALESCE(cashback_group_id, ''),
			expiration, enabled, created_at, updated_at, is_deleted, deleted_at
		FROM subscribers
		WHERE id = $1 AND NOT is_deleted
	`, id).Scan(
		&s.ID, &s.ExternalID, &s.Username, &s.ProfileID, &s.BillingProfileID,
		&s.GroupID, &s.ZoneID, &s.CashbackGroupID,
		&expiration, &s.Enabled, &s.CreatedAt, &s.UpdatedAt, &s.IsDeleted, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	s.Expiration = db.TimePtr(expiration)
	s.DeletedAt = db.TimePtr(deleted)
	return &s, nil
}

func (r *PostgresRepository) GetServiceProfile(ctx context.Context, id string) (*ServiceProfile, error) {
	var p ServiceProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, download, upload, updated_at, is_deleted
		FROM service_profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ExternalID, &p.Name, &p.Download, &p.Upload, &p.UpdatedAt, &p.IsDeleted)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrServiceProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) UpdateSubscriberService(ctx context.Context, id, serviceProfileID, billingProfileID string, expiration time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscribers
		SET profile_id = $2, billing_profile_id = $3, expiration = $4, enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted
	`, id, serviceProfileID, billingProfileID, expiration)
	if err != nil {
		return fmt.Errorf("failed to update subscriber service: %w", err)
	}
	return requireRow(result, id)
}

func (r *PostgresRepository) AssignSubscriber(ctx context.Context, id string, req *AssignRequest) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscribers
		SET billing_profile_id = CASE WHEN $2 THEN NULLIF($3, '') ELSE billing_profile_id END,
			cashback_group_id = CASE WHEN $4 THEN NULLIF($5, '') ELSE cashback_group_id END,
			updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted
	`, id,
		req.BillingProfileID != nil, deref(req.BillingProfileID),
		req.CashbackGroupID != nil, deref(req.CashbackGroupID),
	)
	if err != nil {
		return fmt.Errorf("failed to assign subscriber: %w", err)
	}
	return requireRow(result, id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, id)
	}
	return nil
}
