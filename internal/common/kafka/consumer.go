package kafka

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type HandlerFunc func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafkago.Reader
	topic  string
	logger *logger.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, log *logger.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
		logger: log,
	}
}

// Consume fetches messages until ctx is done. Offsets are committed only
// after the handler succeeds, so a failed message is redelivered after a
// restart.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	c.logger.Infof("Consuming topic %s", c.topic)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Errorf("Handler failed for %s offset %d: %v", c.topic, msg.Offset, err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warnf("Failed to commit offset %d on %s: %v", msg.Offset, c.topic, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
