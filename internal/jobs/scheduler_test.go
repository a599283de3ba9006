package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ingest"
)

type countingJob struct {
	calls int
	n     int
	err   error
}

func (c *countingJob) SweepStaleReservations(ctx context.Context) (int, error) {
	c.calls++
	return c.n, c.err
}

func (c *countingJob) Recover(ctx context.Context) (int, error) {
	c.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("expected a deadline")
	}
	return c.n, c.err
}

type fakeSyncer struct {
	progress *ingest.Progress
	err      error
}

func (f *fakeSyncer) Run(ctx context.Context) (*ingest.Progress, error) {
	return f.progress, f.err
}

func TestRegisterBillingAndTrigger(t *testing.T) {
	s := NewScheduler(logger.New("test"))
	defer s.Stop()

	sweeper := &countingJob{n: 2}
	recoverer := &countingJob{n: 1}
	cfg := &config.Config{
		Wallet:     config.WalletConfig{SweepSchedule: "@every 1m"},
		Activation: config.ActivationConfig{RecoverySchedule: "*/5 * * * *"},
	}
	require.NoError(t, RegisterBilling(s, cfg, sweeper, recoverer))

	n, err := s.Trigger(JobReservationSweep)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, sweeper.calls)

	n, err = s.Trigger(JobActivationRecovery)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddSkipsEmptyScheduleAndRejectsBadOnes(t *testing.T) {
	s := NewScheduler(logger.New("test"))
	defer s.Stop()

	job := &countingJob{}
	require.NoError(t, s.Add("off", "", 0, job.SweepStaleReservations))
	_, err := s.Trigger("off")
	assert.Error(t, err)

	assert.Error(t, s.Add("bad", "every tuesday", 0, job.SweepStaleReservations))
}

func TestTriggerReportsJobErrors(t *testing.T) {
	s := NewScheduler(logger.New("test"))
	defer s.Stop()

	job := &countingJob{err: errors.New("db down")}
	require.NoError(t, s.Add("sweep", "@every 1h", time.Second, job.SweepStaleReservations))
	_, err := s.Trigger("sweep")
	assert.EqualError(t, err, "db down")
}

func TestSyncFunc(t *testing.T) {
	ctx := context.Background()

	n, err := SyncFunc(&fakeSyncer{err: ingest.ErrRunInProgress})(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = SyncFunc(&fakeSyncer{progress: &ingest.Progress{NewCount: 3, UpdatedCount: 4}})(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = SyncFunc(&fakeSyncer{progress: &ingest.Progress{}, err: errors.New("users page 2: boom")})(ctx)
	assert.Error(t, err)
}
