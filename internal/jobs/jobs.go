package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ingest"
)

const (
	JobReservationSweep   = "reservation-sweep"
	JobActivationRecovery = "activation-recovery"
	JobSubscriberSync     = "subscriber-sync"
)

type Sweeper interface {
	SweepStaleReservations(ctx context.Context) (int, error)
}

type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

type Syncer interface {
	Run(ctx context.Context) (*ingest.Progress, error)
}

// RegisterBilling schedules the billing service's maintenance jobs.
func RegisterBilling(s *Scheduler, cfg *config.Config, sweeper Sweeper, recoverer Recoverer) error {
	if err := s.Add(JobReservationSweep, cfg.Wallet.SweepSchedule, time.Minute, sweeper.SweepStaleReservations); err != nil {
		return err
	}
	return s.Add(JobActivationRecovery, cfg.Activation.RecoverySchedule, 5*time.Minute, recoverer.Recover)
}

// RegisterSync schedules the periodic full sync.
func RegisterSync(s *Scheduler, cfg *config.Config, syncer Syncer) error {
	return s.Add(JobSubscriberSync, cfg.Sync.Schedule, 0, SyncFunc(syncer))
}

// SyncFunc adapts a sync run to a job. A run already in progress is not
// an error; the schedule simply skips.
func SyncFunc(syncer Syncer) Func {
	return func(ctx context.Context) (int, error) {
		p, err := syncer.Run(ctx)
		if errors.Is(err, ingest.ErrRunInProgress) {
			return 0, nil
		}
		if p == nil {
			return 0, err
		}
		return p.NewCount + p.UpdatedCount, err
	}
}
