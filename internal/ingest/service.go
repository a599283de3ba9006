package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
)

type Source interface {
	FetchPage(ctx context.Context, phase Phase, page int) (*Page, error)
}

// Sink is satisfied by subscriber.Repository.
type Sink interface {
	UpsertServiceProfile(ctx context.Context, p *subscriber.ServiceProfile) (bool, error)
	UpsertGroup(ctx context.Context, g *subscriber.Group) (bool, error)
	UpsertZone(ctx context.Context, z *subscriber.Zone) (bool, error)
	UpsertNAS(ctx context.Context, n *subscriber.NAS) (bool, error)
	UpsertSubscriber(ctx context.Context, s *subscriber.Subscriber) (bool, error)
}

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, v interface{}) error
}

type Service struct {
	source     Source
	sink       Sink
	store      ProgressStore
	publisher  Publisher
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewService(source Source, sink Sink, store ProgressStore, publisher Publisher, cfg config.SyncConfig, m *metrics.Metrics, log *logger.Logger) *Service {
	maxRetries := cfg.MaxPageRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		source:     source,
		sink:       sink,
		store:      store,
		publisher:  publisher,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		metrics:    m,
		logger:     log,
		now:        time.Now,
	}
}

// Start begins a run in the background and returns its initial progress.
func (s *Service) Start(ctx context.Context) (*Progress, error) {
	p, runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := p.clone()
	go s.execute(runCtx, p)
	return snapshot, nil
}

// Run performs a full run and returns its final progress. The scheduled
// sync uses it.
func (s *Service) Run(ctx context.Context) (*Progress, error) {
	p, runCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	s.execute(runCtx, p)
	if p.Status == StatusFailed {
		return p, errors.New(p.Error)
	}
	return p, nil
}

func (s *Service) begin(ctx context.Context) (*Progress, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, s.current)
	}

	now := s.now().UTC()
	p := &Progress{
		ID:        uuid.New().String(),
		Phase:     Phases[0],
		Status:    StatusRunning,
		Phases:    make(map[Phase]*PhaseProgress, len(Phases)),
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, ph := range Phases {
		p.Phases[ph] = &PhaseProgress{}
	}
	if err := s.store.SaveProgress(ctx, p); err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.current = p.ID
	s.cancel = cancel
	s.done = make(chan struct{})
	s.publish(ctx, p)
	s.logger.Infof("Sync run %s started", p.ID)
	return p, runCtx, nil
}

func (s *Service) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	close(s.done)
	s.current = ""
	s.cancel = nil
}

// Cancel stops the running run and waits until it has recorded itself
// cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Progress, error) {
	s.mu.Lock()
	if s.current != id {
		s.mu.Unlock()
		p, err := s.store.GetProgress(ctx, id)
		if err != nil {
			return nil, err
		}
		return p, fmt.Errorf("%w: %s is %s", ErrNotRunning, id, p.Status)
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.store.GetProgress(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*Progress, error) {
	return s.store.GetProgress(ctx, id)
}

func (s *Service) Latest(ctx context.Context) (*Progress, error) {
	return s.store.LatestProgress(ctx)
}

func (s *Service) execute(ctx context.Context, p *Progress) {
	defer s.finish()

	// Progress writes must land even after cancellation.
	saveCtx := context.WithoutCancel(ctx)

	var runErr error
	for i, phase := range Phases {
		p.Phase = phase
		if runErr = s.runPhase(ctx, saveCtx, p, i); runErr != nil {
			break
		}
	}

	now := s.now().UTC()
	p.UpdatedAt = now
	p.FinishedAt = &now
	switch {
	case runErr == nil:
		p.Phase = PhaseCompleted
		p.Status = StatusCompleted
		p.Percentage = 100
	case errors.Is(runErr, context.Canceled):
		p.Status = StatusCancelled
		p.Error = "cancelled"
	default:
		p.Status = StatusFailed
		p.Error = runErr.Error()
	}
	s.save(saveCtx, p)

	s.logger.WithFields(map[string]interface{}{
		"sync_id": p.ID,
		"status":  p.Status,
		"new":     p.NewCount,
		"updated": p.UpdatedCount,
		"failed":  p.FailedCount,
	}).Info("Sync run finished")
}

func (s *Service) runPhase(ctx, saveCtx context.Context, p *Progress, index int) error {
	pp := p.Phases[p.Phase]
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pg, err := s.fetch(ctx, p.Phase, page)
		if err != nil {
			return err
		}

		for _, raw := range pg.Items {
			inserted, err := s.upsert(ctx, p.Phase, raw)
			switch {
			case err != nil:
				s.logger.Warnf("Sync %s: failed to store %s record: %v", p.ID, p.Phase, err)
				pp.Failed++
				p.FailedCount++
				s.metrics.SyncRecord(string(p.Phase), "failed")
			case inserted:
				pp.New++
				p.NewCount++
				s.metrics.SyncRecord(string(p.Phase), "new")
			default:
				pp.Updated++
				p.UpdatedCount++
				s.metrics.SyncRecord(string(p.Phase), "updated")
			}
		}

		pp.CurrentPage = page
		pp.TotalPages = pg.TotalPages
		s.advance(p, index, page, pg.TotalPages)
		s.save(saveCtx, p)

		if page >= pg.TotalPages {
			return nil
		}
	}
}

// fetch retries a page a bounded number of times.
func (s *Service) fetch(ctx context.Context, phase Phase, page int) (*Page, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		pg, err := s.source.FetchPage(ctx, phase, page)
		if err == nil {
			return pg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		s.logger.Warnf("Fetching %s page %d failed (attempt %d/%d): %v", phase, page, attempt, s.maxRetries, err)
		if attempt == s.maxRetries {
			break
		}
		select {
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s page %d: %w", phase, page, lastErr)
}

func (s *Service) upsert(ctx context.Context, phase Phase, raw json.RawMessage) (bool, error) {
	switch phase {
	case PhaseProfiles:
		var r remoteProfile
		if err := decode(raw, &r, &r.ID); err != nil {
			return false, err
		}
		return s.sink.UpsertServiceProfile(ctx, &subscriber.ServiceProfile{ExternalID: r.ID, Name: r.Name, Download: r.Download, Upload: r.Upload})
	case PhaseGroups:
		var r remoteNamed
		if err := decode(raw, &r, &r.ID); err != nil {
			return false, err
		}
		return s.sink.UpsertGroup(ctx, &subscriber.Group{ExternalID: r.ID, Name: r.Name})
	case PhaseZones:
		var r remoteNamed
		if err := decode(raw, &r, &r.ID); err != nil {
			return false, err
		}
		return s.sink.UpsertZone(ctx, &subscriber.Zone{ExternalID: r.ID, Name: r.Name})
	case PhaseUsers:
		var r remoteUser
		if err := decode(raw, &r, &r.ID); err != nil {
			return false, err
		}
		return s.sink.UpsertSubscriber(ctx, &subscriber.Subscriber{
			ExternalID: r.ID,
			Username:   r.Username,
			ProfileID:  r.ProfileID,
			GroupID:    r.GroupID,
			ZoneID:     r.ZoneID,
			Expiration: r.Expiration,
			Enabled:    r.Enabled,
		})
	case PhaseNAS:
		var r remoteNAS
		if err := decode(raw, &r, &r.ID); err != nil {
			return false, err
		}
		return s.sink.UpsertNAS(ctx, &subscriber.NAS{ExternalID: r.ID, Name: r.Name, IPAddress: r.IPAddress, Type: r.Type})
	}
	return false, fmt.Errorf("unknown phase %q", phase)
}

func decode(raw json.RawMessage, v interface{}, id *string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if *id == "" {
		return errors.New("record has no id")
	}
	return nil
}

// advance recomputes the percentage; each phase is an equal share.
func (s *Service) advance(p *Progress, index, page, totalPages int) {
	done := 1.0
	if totalPages > 0 && page < totalPages {
		done = float64(page) / float64(totalPages)
	}
	pct := (float64(index) + done) / float64(len(Phases)) * 100
	pct = math.Round(pct*100) / 100
	if pct > p.Percentage {
		p.Percentage = pct
	}
	p.UpdatedAt = s.now().UTC()
}

func (s *Service) save(ctx context.Context, p *Progress) {
	if err := s.store.SaveProgress(ctx, p); err != nil {
		s.logger.Errorf("Failed to save sync progress %s: %v", p.ID, err)
	}
	s.publish(ctx, p)
}

func (s *Service) publish(ctx context.Context, p *Progress) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, TopicSyncProgress, p.ID, p); err != nil {
		s.logger.Warnf("Failed to publish sync progress %s: %v", p.ID, err)
	}
}
