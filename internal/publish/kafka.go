package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig holds the settings for the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// kafkaWriter is the slice of kafka.Writer the publisher needs.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes crawl events to a Kafka topic, one message per event,
// keyed so events for the same listing land on the same partition.
type Kafka struct {
	writer kafkaWriter
	logger *zap.Logger
}

var _ crawler.Publisher = (*Kafka)(nil)

// NewKafka builds a Kafka publisher against the given brokers.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs a topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &Kafka{writer: w, logger: logger}, nil
}

// NewKafkaWithWriter wraps an already constructed writer.
func NewKafkaWithWriter(w kafkaWriter, logger *zap.Logger) (*Kafka, error) {
	if w == nil {
		return nil, fmt.Errorf("kafka publisher needs a writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{writer: w, logger: logger}, nil
}

// Publish marshals the payload to JSON and writes one keyed message.
func (p *Kafka) Publish(ctx context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", key, err)
	}
	return nil
}

// Close shuts down the writer.
func (p *Kafka) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
