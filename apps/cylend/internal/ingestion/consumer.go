package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cylend/apps/cylend/internal/events"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

// kafkaClient is the part of *kafka.Consumer the ingestion loop uses
type kafkaClient interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// Consumer feeds chain events from Kafka into the engine, one message at a time.
// Offsets are committed only after a message was handled or found malformed.
type Consumer struct {
	logger        *zap.Logger
	client        kafkaClient
	engine        *Engine
	topic         string
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	pollTimeout   time.Duration
}

func NewConsumer(kafkaBroker, kafkaTopic, groupID string, engine *Engine, logger *zap.Logger) (*Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  kafkaBroker,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return newConsumer(consumer, kafkaTopic, engine, logger), nil
}

func newConsumer(client kafkaClient, topic string, engine *Engine, logger *zap.Logger) *Consumer {
	return &Consumer{
		logger:        logger,
		client:        client,
		engine:        engine,
		topic:         topic,
		retryDelay:    time.Second,
		maxRetryDelay: 30 * time.Second,
		pollTimeout:   500 * time.Millisecond,
	}
}

// Start blocks until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting ingestion consumer", zap.String("topic", c.topic))

	if err := c.client.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.client.ReadMessage(c.pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if !c.processMessage(ctx, msg) {
			// shutting down mid-retry; leave the offset for the next run
			return nil
		}

		if _, err := c.client.CommitMessage(msg); err != nil {
			c.logger.Error("Failed to commit offset",
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("offset", msg.TopicPartition.Offset.String()),
				zap.Error(err))
		}
	}
}

// processMessage retries a failing event until it is handled, backing off up to
// maxRetryDelay. Malformed events are logged and skipped. It returns false only when
// ctx ended before the message was dealt with.
func (c *Consumer) processMessage(ctx context.Context, msg *kafka.Message) bool {
	var ev events.ChainEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error("Dropping undecodable chain event",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return true
	}

	for attempt := 1; ; attempt++ {
		err := c.engine.Handle(ctx, ev)
		if err == nil {
			return true
		}

		if errors.Is(err, events.ErrMalformed) {
			c.logger.Error("Dropping malformed chain event",
				zap.String("chain", string(ev.Chain)),
				zap.String("kind", string(ev.Kind)),
				zap.String("tx_hash", ev.TxHash.Hex()),
				zap.Error(err))
			return true
		}

		delay := c.backoff(attempt)
		c.logger.Warn("Error processing chain event, retrying",
			zap.String("kind", string(ev.Kind)),
			zap.String("tx_hash", ev.TxHash.Hex()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	delay := c.retryDelay * time.Duration(attempt)
	if c.maxRetryDelay > 0 && delay > c.maxRetryDelay {
		return c.maxRetryDelay
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
