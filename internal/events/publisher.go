package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/protocol"
)

const transportKafka = "kafka"

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Enabled  bool
}

// Event is the record written to Kafka.
type Event struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Envelope protocol.CaptionMessage
}

// MarshalJSON flattens the caption fields next to the id and source.
func (e Event) MarshalJSON() ([]byte, error) {
	type flat struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		protocol.CaptionMessage
	}
	return json.Marshal(flat{ID: e.ID, Source: e.Source, CaptionMessage: e.Envelope})
}

// Publisher writes captions to Kafka. It implements transport.Broadcaster.
type Publisher struct {
	writer   messageWriter
	topic    string
	clientID string
	enabled  bool
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// New creates a publisher. A disabled config or an empty broker list yields a
// log-only publisher.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	p := &Publisher{
		topic:    cfg.Topic,
		clientID: cfg.ClientID,
		logger:   logger,
		metrics:  m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			Dial:     dialer.DialFunc,
			ClientID: cfg.ClientID,
		},
	}
	p.enabled = true

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka caption publisher initialized")

	return p
}

// Enabled reports whether messages are actually sent to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Start is a no-op; the writer connects lazily.
func (p *Publisher) Start(ctx context.Context) error {
	return nil
}

// Broadcast publishes one caption.
func (p *Publisher) Broadcast(ctx context.Context, ev *caption.Event) error {
	if ev == nil {
		return fmt.Errorf("nil caption event")
	}

	event := Event{
		ID:       uuid.NewString(),
		Source:   p.clientID,
		Envelope: protocol.NewCaptionMessage(ev),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("id", event.ID).
		RawJSON("payload", payload).
		Msg("Publishing caption event")

	if !p.enabled || p.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(string(ev.Mode)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(protocol.MessageTypeCaption)},
			{Key: "mode", Value: []byte(ev.Mode)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("id", event.ID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordSendFailure(transportKafka)
		return fmt.Errorf("failed to publish caption: %w", err)
	}

	p.metrics.RecordFrameSent(transportKafka)
	return nil
}

// Stop closes the writer.
func (p *Publisher) Stop() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
