// Package events publishes ledger change events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event types carried in the eventType header
const (
	AnsweredCallRecorded    = "answered_call.recorded"
	AbandonedCallRecorded   = "abandoned_call.recorded"
	AbandonedCallBackfilled = "abandoned_call.backfilled"
)

// Config holds Kafka publisher configuration
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher writes ledger events to a single topic keyed by user ID.
// When disabled it only logs the payload.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a publisher; a nil, disabled or broker-less config yields log-only mode
func New(cfg *Config, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	logger = logger.With().Str("component", "events").Logger()

	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m, logger: logger}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: m, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writer:  writer,
		topic:   cfg.Topic,
		enabled: true,
		metrics: m,
		logger:  logger,
	}
}

// Enabled reports whether events reach Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Publish marshals event and writes it with the user ID as the partition key
func (p *Publisher) Publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("eventType", eventType).Msg("failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("eventType", eventType).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !p.enabled || p.writer == nil {
		p.record(eventType, nil, start)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", key).
			Msg("failed to write to Kafka")
		p.record(eventType, err, start)
		return err
	}

	p.record(eventType, nil, start)
	return nil
}

func (p *Publisher) record(eventType string, err error, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordPublish(eventType, err, time.Since(start))
	}
}

// Close flushes and closes the Kafka writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("error closing Kafka writer")
		return err
	}
	return nil
}
