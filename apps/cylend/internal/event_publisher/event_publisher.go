package event_publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

// Outbox is where crawlers leave decoded logs for the publisher
type Outbox interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, id int64) error
	MarkEventAsFailed(ctx context.Context, id int64) error
}

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

type EventPublisher struct {
	logger     *zap.Logger
	producer   producer
	kafkaTopic string
	outbox     Outbox
	metrics    *metrics.Metrics
	interval   time.Duration
	batchSize  int
	mu         sync.Mutex // one publishing pass at a time
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox Outbox, m *metrics.Metrics) (*EventPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newEventPublisher(p, kafkaTopic, logger, outbox, m), nil
}

func newEventPublisher(p producer, kafkaTopic string, logger *zap.Logger, outbox Outbox, m *metrics.Metrics) *EventPublisher {
	return &EventPublisher{
		logger:     logger,
		producer:   p,
		kafkaTopic: kafkaTopic,
		outbox:     outbox,
		metrics:    m,
		interval:   3 * time.Second,
		batchSize:  100,
	}
}

// StartPublishing drains the outbox every interval until ctx is cancelled
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents publishes one batch in outbox order. The first failure stops the
// batch and hands every remaining event back to the outbox, so a chain's events are
// never delivered out of order.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, ep.batchSize)
	if err != nil {
		return err
	}

	successCount := 0
	for i, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("chain", event.Chain),
				zap.String("kind", event.Kind),
				zap.String("tx_hash", event.TxHash),
				zap.Error(err))
			ep.count("failed")
			ep.release(ctx, outboxEvents[i:])
			break
		}

		if err := ep.outbox.MarkEventAsSent(ctx, event.ID); err != nil {
			// already on Kafka; ingestion tolerates the duplicate on the next pass
			ep.logger.Error("Failed to mark event as sent", zap.Int64("id", event.ID), zap.Error(err))
		} else {
			successCount++
		}
		ep.count("sent")
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}
	return nil
}

func (ep *EventPublisher) release(ctx context.Context, events []model.OutboxEvent) {
	for _, event := range events {
		if err := ep.outbox.MarkEventAsFailed(ctx, event.ID); err != nil {
			ep.logger.Error("Failed to mark event as failed", zap.Int64("id", event.ID), zap.Error(err))
		}
	}
}

func (ep *EventPublisher) count(result string) {
	if ep.metrics != nil {
		ep.metrics.OutboxPublished.WithLabelValues(result).Inc()
	}
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event, 1)

	// keyed by chain so each chain's events land on one partition in order
	err := ep.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Chain),
		Value:          event.EventBlob,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	case kafka.Error:
		return ev
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.producer != nil {
		ep.producer.Close()
	}
	return nil
}
