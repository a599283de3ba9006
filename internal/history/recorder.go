package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type Recorder struct {
	repo   Repository
	logger *logger.Logger
	now    func() time.Time
}

func NewRecorder(repo Repository, log *logger.Logger) *Recorder {
	return &Recorder{repo: repo, logger: log, now: time.Now}
}

func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record appends a snapshot. Entries are never updated.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.BillingActivationID == "" || e.Event == "" {
		return fmt.Errorf("history entry needs an activation and an event")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	if err := r.repo.Insert(ctx, e); err != nil {
		return err
	}
	r.logger.WithFields(map[string]interface{}{
		"activation_id": e.BillingActivationID,
		"event":         e.Event,
		"status":        e.ToStatus,
	}).Debug("Activation history recorded")
	return nil
}

func (r *Recorder) ListByActivation(ctx context.Context, activationID string) ([]Entry, error) {
	return r.repo.ListByActivation(ctx, activationID)
}

func (r *Recorder) ListBySubscriber(ctx context.Context, subscriberID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return r.repo.ListBySubscriber(ctx, subscriberID, limit, offset)
}

func (r *Recorder) Summary(ctx context.Context, from, to time.Time) (*SummaryResponse, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("validation failed: to must be after from")
	}
	statuses, err := r.repo.Summary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &SummaryResponse{From: from, To: to, Statuses: statuses}, nil
}
