// ABOUTME: Kafka publisher that writes each event to its agent's own topic
// ABOUTME: Message key is the agent ID; the event type travels as a header

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to Kafka, one topic per agent.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Brokers. The writer has
// no fixed topic; each message carries its own.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "prompt-forge"
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  false,
		Transport:              &kafka.Transport{ClientID: clientID},
	}

	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: logger.With("component", "kafka"),
	}
}

// Publish writes event to the topic named by event.Subject.
func (p *KafkaPublisher) Publish(ctx context.Context, event *Event) error {
	value, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	msg := kafka.Message{
		Topic: event.Subject,
		Key:   []byte(event.AgentID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.Time,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", event.Subject, err)
	}

	p.logger.Debug("published event", "topic", event.Subject, "event_id", event.ID)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
