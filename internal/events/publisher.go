// Package events delivers outbox rows to the outside world: Kafka for other
// services and a websocket hub for the admin live feed.
package events

import (
	"context"
	"fmt"
	"time"

	"shopfront/internal/config"
	"shopfront/internal/domain"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers one outbox message. It must be safe to call again with
// the same message; consumers dedupe on the event-id header.
type Publisher interface {
	Publish(ctx context.Context, msg domain.OutboxMessage) error
}

// MessageWriter is the part of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each message to the topic stored on the outbox row,
// keyed by order id so one order's events stay in one partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter builds a synchronous writer without a fixed topic
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(msg.EventID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", msg.EventID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
