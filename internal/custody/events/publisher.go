// Package events provides event publishing for the custody module
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
)

// Sink delivers a serialized event to one destination.
type Sink interface {
	Deliver(ctx context.Context, topic string, event *interfaces.CustodyEvent) error
}

// Publisher fans a custody event out to all configured sinks. Publishing is
// best-effort: an error is returned only when every sink fails, so a dead
// broker never blocks a committed state transition.
type Publisher struct {
	topic  string
	sinks  []Sink
	logger *zap.Logger
}

var _ interfaces.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a fan-out publisher for the given topic.
func NewPublisher(topic string, sinks []Sink, logger *zap.Logger) *Publisher {
	return &Publisher{topic: topic, sinks: sinks, logger: logger}
}

// Publish delivers the event to every sink.
func (p *Publisher) Publish(ctx context.Context, event *interfaces.CustodyEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var lastErr error
	successCount := 0
	for i, sink := range p.sinks {
		if err := sink.Deliver(ctx, p.topic, event); err != nil {
			p.logger.Error("failed to publish event",
				zap.Int("sink_index", i),
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	p.logger.Info("published custody event",
		zap.String("event_type", event.Type),
		zap.String("wallet_id", event.WalletID.String()),
		zap.String("entity_id", event.EntityID.String()),
		zap.String("status", event.Status),
		zap.Int("sinks_success", successCount),
		zap.Int("sinks_total", len(p.sinks)),
	)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all sinks failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaSink delivers events to a Kafka topic.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a Kafka sink writing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
	}
}

// Deliver writes the event keyed by wallet so per-wallet ordering is
// preserved within a partition.
func (k *KafkaSink) Deliver(ctx context.Context, topic string, event *interfaces.CustodyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.WalletID.String()),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID.String())},
		},
	}
	return k.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// WebhookSink delivers events to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink posting to the given URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver posts the event as JSON.
func (w *WebhookSink) Deliver(ctx context.Context, topic string, event *interfaces.CustodyEvent) error {
	payload, err := json.Marshal(map[string]interface{}{
		"topic": topic,
		"event": event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// LogSink records events through the structured logger. It backs tests and
// deployments without a broker.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver logs the event.
func (s *LogSink) Deliver(ctx context.Context, topic string, event *interfaces.CustodyEvent) error {
	s.logger.Info("custody event",
		zap.String("topic", topic),
		zap.String("event_type", event.Type),
		zap.String("wallet_id", event.WalletID.String()),
		zap.String("entity_id", event.EntityID.String()),
		zap.String("status", event.Status),
	)
	return nil
}
