package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w        Writer
	topic    string
	producer string
	logger   *zap.Logger
}

// NewProducer writes synchronously to topic, hashing keys so every event of
// one key lands on one partition.
func NewProducer(brokers []string, topic, producerName string, logger *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}, topic, producerName, logger)
}

func NewProducerWithWriter(w Writer, topic, producerName string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{w: w, topic: topic, producer: producerName, logger: logger}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		p.logger.Warn("kafka write failed", zap.String("topic", p.topic), zap.ByteString("key", key), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// PublishEvent wraps payload in an envelope and publishes it under key.
func (p *Producer) PublishEvent(ctx context.Context, key []byte, eventType, correlationID string, payload any) error {
	env, err := NewEnvelope(ctx, eventType, p.producer, correlationID, payload)
	if err != nil {
		return err
	}
	b, err := Marshal(env)
	if err != nil {
		return err
	}
	return p.Publish(ctx, key, b, kafka.Header{Key: "event_type", Value: []byte(eventType)})
}

func (p *Producer) Close() error { return p.w.Close() }
