package notification

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers change notifications to the external webhook stream.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// KafkaPublisher writes change notifications to a Kafka topic, keyed by
// event id so a consumer sees each event's changes in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher initializes a new Kafka producer.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish publishes a message to Kafka.
func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte) error {
	const op = "notification.KafkaPublisher.Publish"

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs change notifications instead of publishing them. It is
// used when no broker is configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, key, value []byte) error {
	p.Log.Info("change notification", zap.ByteString("key", key), zap.ByteString("value", value))
	return nil
}

func (LogPublisher) Close() error { return nil }
