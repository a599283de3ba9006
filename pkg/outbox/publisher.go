package outbox

import (
	"context"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
}

// Store is the subset of Repository the publisher polls.
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkAsPublished(ctx context.Context, id string) error
	MarkAsFailed(ctx context.Context, id, reason string) error
	IncrementAttempt(ctx context.Context, id, reason string) error
}

type Publisher struct {
	store     Store
	producer  EventPublisher
	logger    *logger.Logger
	interval  time.Duration
	batchSize int
}

func NewPublisher(store Store, producer EventPublisher, log *logger.Logger, interval time.Duration) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    log,
		interval:  interval,
		batchSize: 100,
	}
}

// Start polls until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox publisher stopped")
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				p.logger.Errorf("Outbox publish cycle failed: %v", err)
			}
		}
	}
}

// PublishPending runs one polling cycle and returns how many events went out.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	events, err := p.store.GetPendingEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := p.producer.PublishEvent(ctx, event.Topic, event.AggregateID, event.Payload); err != nil {
			p.logger.Warnf("Failed to publish outbox event %s (%s): %v", event.ID, event.EventType, err)
			if event.Attempts+1 >= MaxAttempts {
				if mErr := p.store.MarkAsFailed(ctx, event.ID, err.Error()); mErr != nil {
					p.logger.Errorf("Failed to park outbox event %s: %v", event.ID, mErr)
				}
				continue
			}
			if iErr := p.store.IncrementAttempt(ctx, event.ID, err.Error()); iErr != nil {
				p.logger.Errorf("Failed to record attempt for %s: %v", event.ID, iErr)
			}
			continue
		}

		if err := p.store.MarkAsPublished(ctx, event.ID); err != nil {
			p.logger.Errorf("Failed to mark outbox event %s published: %v", event.ID, err)
			continue
		}
		published++
	}

	if published > 0 {
		p.logger.Debugf("Published %d outbox events", published)
	}
	return published, nil
}
