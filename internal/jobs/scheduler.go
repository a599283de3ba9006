// Package jobs runs the periodic maintenance work of the billing service on
// cron schedules.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// Func is one execution of a job. It returns how many items it handled.
type Func func(ctx context.Context) (int, error)

type job struct {
	name    string
	timeout time.Duration
	run     Func
}

type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
}

func NewScheduler(log *logger.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Add registers fn under name. An empty schedule disables the job.
func (s *Scheduler) Add(name, schedule string, timeout time.Duration, fn Func) error {
	if schedule == "" {
		s.logger.Infof("Job %s disabled (no schedule)", name)
		return nil
	}

	j := &job{name: name, timeout: timeout, run: fn}
	if _, err := s.cron.AddFunc(schedule, func() { s.execute(j) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = j
	s.mu.Unlock()
	s.logger.WithFields(map[string]interface{}{"job": name, "schedule": schedule}).Info("Job scheduled")
	return nil
}

// Trigger runs a registered job now, outside its schedule.
func (s *Scheduler) Trigger(name string) (int, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("job %s is not registered", name)
	}
	return s.execute(j)
}

func (s *Scheduler) execute(j *job) (int, error) {
	ctx := s.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := j.run(ctx)
	fields := map[string]interface{}{"job": j.name, "items": n, "duration": time.Since(start).String()}
	if err != nil {
		s.logger.WithFields(fields).Errorf("Job failed: %v", err)
		return n, err
	}
	if n > 0 {
		s.logger.WithFields(fields).Info("Job finished")
	}
	return n, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
