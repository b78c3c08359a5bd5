// Package messaging fans audit events out to Kafka for downstream consumers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// messageWriter abstracts kafka.Writer so tests can capture messages.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...writerMessage) error
	Close() error
}

type writerMessage struct {
	Topic string
	Key   []byte
	Value []byte
}

type kafkaGoWriter struct {
	w *kafka.Writer
}

func (k *kafkaGoWriter) WriteMessages(ctx context.Context, msgs ...writerMessage) error {
	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		kafkaMsgs[i] = kafka.Message{
			Topic: m.Topic,
			Key:   m.Key,
			Value: m.Value,
		}
	}
	return k.w.WriteMessages(ctx, kafkaMsgs...)
}

func (k *kafkaGoWriter) Close() error {
	return k.w.Close()
}

// AuditPublisher writes one JSON message per audit event, keyed by user so
// a consumer sees each user's events in order.
type AuditPublisher struct {
	writer messageWriter
	topic  string
}

func NewAuditPublisher(cfg config.KafkaConfig) *AuditPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &AuditPublisher{
		writer: &kafkaGoWriter{w: w},
		topic:  cfg.AuditTopic,
	}
}

type auditMessage struct {
	ID        string                `json:"id"`
	UserID    *string               `json:"user_id,omitempty"`
	EventType models.AuditEventType `json:"event_type"`
	Success   bool                  `json:"success"`
	IPAddress *string               `json:"ip_address,omitempty"`
	Metadata  models.AuditMetadata  `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func (p *AuditPublisher) Publish(ctx context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(auditMessage{
		ID:        event.ID,
		UserID:    event.UserID,
		EventType: event.EventType,
		Success:   event.Success,
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	key := "anonymous"
	if event.UserID != nil {
		key = *event.UserID
	}

	msg := writerMessage{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	return nil
}

func (p *AuditPublisher) Close() error {
	return p.writer.Close()
}
