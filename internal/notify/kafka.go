package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
)

// Publisher errors
var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrSerializeFailed = errors.New("failed to serialize trigger event")
)

// Publisher delivers trigger events to the notification transport.
// Delivery is best-effort from the evaluator's point of view.
type Publisher interface {
	Publish(ctx context.Context, ev *models.TriggerEvent) error
	PublishBatch(ctx context.Context, evs []*models.TriggerEvent) error
}

// KafkaPublisher publishes trigger events to a Kafka topic with retry
// and exponential backoff.
type KafkaPublisher struct {
	cfg    config.ProducerConfig
	topic  string
	writer *kafka.Writer
	closed atomic.Bool

	// Metrics
	eventsSent   atomic.Uint64
	eventsFailed atomic.Uint64
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, cfg config.ProducerConfig) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Partition by key
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxRetries + 1,
		Async:        false, // Sync for reliability
	}

	return &KafkaPublisher{
		cfg:    cfg,
		topic:  topic,
		writer: writer,
	}, nil
}

// buildMessage serializes a trigger event into a Kafka message keyed by
// the owning user.
func buildMessage(ev *models.TriggerEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Key:   []byte(ev.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(ev.AlertID)},
			{Key: "user_id", Value: []byte(ev.UserID)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Time: ev.TriggeredAt,
	}, nil
}

// Publish sends a single trigger event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev *models.TriggerEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msg, err := buildMessage(ev)
	if err != nil {
		p.eventsFailed.Add(1)
		metrics.NotifyPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := p.publishWithRetry(ctx, msg); err != nil {
		p.eventsFailed.Add(1)
		metrics.NotifyPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.eventsSent.Add(1)
	metrics.NotifyPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// PublishBatch sends multiple trigger events in a single write.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, evs []*models.TriggerEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	if len(evs) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_publisher")

	messages := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := buildMessage(ev)
		if err != nil {
			log.Error().
				Err(err).
				Str("alert_id", ev.AlertID).
				Msg("failed to serialize trigger event")
			p.eventsFailed.Add(1)
			metrics.NotifyPublishTotal.WithLabelValues("failed").Inc()
			continue
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return nil
	}

	if err := p.publishBatchWithRetry(ctx, messages); err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(messages)).
			Msg("failed to publish trigger batch")
		p.eventsFailed.Add(uint64(len(messages)))
		metrics.NotifyPublishTotal.WithLabelValues("failed").Add(float64(len(messages)))
		return err
	}

	log.Debug().Int("batch_size", len(messages)).Msg("trigger batch published")
	p.eventsSent.Add(uint64(len(messages)))
	metrics.NotifyPublishTotal.WithLabelValues("success").Add(float64(len(messages)))
	return nil
}

// publishWithRetry writes a single message with exponential backoff
func (p *KafkaPublisher) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	return p.retry(ctx, 1, func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
}

// publishBatchWithRetry writes a batch of messages with exponential backoff
func (p *KafkaPublisher) publishBatchWithRetry(ctx context.Context, messages []kafka.Message) error {
	return p.retry(ctx, len(messages), func() error {
		return p.writer.WriteMessages(ctx, messages...)
	})
}

func (p *KafkaPublisher) retry(ctx context.Context, size int, write func() error) error {
	log := logger.WithComponent("kafka_publisher")
	var lastErr error
	backoff := p.cfg.RetryBackoff.Std()

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", size).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.NotifyPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := write()
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("kafka publish attempt failed")

		// Check for non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}
	return p.writer.Close()
}

// Stats returns publisher statistics
func (p *KafkaPublisher) Stats() Stats {
	return Stats{
		EventsSent:   p.eventsSent.Load(),
		EventsFailed: p.eventsFailed.Load(),
	}
}

// Stats holds publisher metrics
type Stats struct {
	EventsSent   uint64
	EventsFailed uint64
}

// HealthCheck verifies the publisher can reach Kafka.
func (p *KafkaPublisher) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	_ = p.writer.Stats()
	return ctx.Err()
}
