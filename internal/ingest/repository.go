package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type ProgressStore interface {
	SaveProgress(ctx context.Context, p *Progress) error
	GetProgress(ctx context.Context, id string) (*Progress, error)
	LatestProgress(ctx context.Context) (*Progress, error)
}

type PostgresRepository struct {
	db     *db.DB
	logger *logger.Logger
}

func NewRepository(database *db.DB, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{db: database, logger: log}
}

func (r *PostgresRepository) SaveProgress(ctx context.Context, p *Progress) error {
	phases, err := json.Marshal(p.Phases)
	if err != nil {
		return fmt.Errorf("failed to encode phases: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_progress (id, phase, status, phases, new_count, updated_count, failed_count,
			percentage, error, started_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			status = EXCLUDED.status,
			phases = EXCLUDED.phases,
			new_count = EXCLUDED.new_count,
			updated_count = EXCLUDED.updated_count,
			failed_count = EXCLUDED.failed_count,
			percentage = GREATEST(sync_progress.percentage, EXCLUDED.percentage),
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at
	`,
		p.ID, p.Phase, p.Status, phases, p.NewCount, p.UpdatedCount, p.FailedCount,
		p.Percentage, p.Error, p.StartedAt, p.UpdatedAt, db.NullTime(p.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync progress: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, args ...interface{}) (*Progress, error) {
	var (
		p        Progress
		phases   []byte
		finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phase, status, phases, new_count, updated_count, failed_count,
			percentage, error, started_at, updated_at, finished_at
		FROM sync_progress
		`+where, args...).Scan(
		&p.ID, &p.Phase, &p.Status, &phases, &p.NewCount, &p.UpdatedCount, &p.FailedCount,
		&p.Percentage, &p.Error, &p.StartedAt, &p.UpdatedAt, &finished,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync progress: %w", err)
	}
	if err := json.Unmarshal(phases, &p.Phases); err != nil {
		return nil, fmt.Errorf("failed to decode phases: %w", err)
	}
	p.FinishedAt = db.TimePtr(finished)
	return &p, nil
}

func (r *PostgresRepository) GetProgress(ctx context.Context, id string) (*Progress, error) {
	p, err := r.getOne(ctx, "WHERE id = $1", id)
	if err == ErrRunNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return p, err
}

func (r *PostgresRepository) LatestProgress(ctx context.Context) (*Progress, error) {
	return r.getOne(ctx, "ORDER BY started_at DESC LIMIT 1")
}

// MemoryStore keeps progress in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Progress
	last string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Progress)}
}

func (m *MemoryStore) SaveProgress(_ context.Context, p *Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[p.ID]; !ok {
		m.last = p.ID
	}
	m.runs[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) GetProgress(_ context.Context, id string) (*Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return p.clone(), nil
}

func (m *MemoryStore) LatestProgress(_ context.Context) (*Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.runs[m.last]
	if !ok {
		return nil, ErrRunNotFound
	}
	return p.clone(), nil
}
