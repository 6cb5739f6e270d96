package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/credmirror/cfg"
	"github.com/maxpert/credmirror/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaWriteTimeout = 10 * time.Second
)

func init() {
	publisher.RegisterSink("kafka", kafkaFromConfig)
}

func kafkaFromConfig(config cfg.SinkConfiguration) (publisher.Sink, error) {
	kafkaConfig := DefaultKafkaConfig(config.Brokers)
	if config.BatchSize > 0 {
		kafkaConfig.BatchSize = config.BatchSize
	}
	kafkaConfig.ContentType = contentType(config.Format)
	return NewKafkaSink(kafkaConfig)
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	BatchSize        int                // Messages per write batch
	BatchBytes       int64              // Max batch bytes
	RequiredAcks     kafka.RequiredAcks // Ack requirement
	WriteTimeout     time.Duration      // Per-publish deadline
	AutoCreateTopics bool               // Create topics on first write
	ContentType      string             // Sent as the content-type header
}

// DefaultKafkaConfig returns a KafkaConfig that waits for all replicas
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		WriteTimeout:     DefaultKafkaWriteTimeout,
		AutoCreateTopics: true,
	}
}

// KafkaSink publishes document events to Kafka. Messages are keyed by
// document id, so every write of one document lands on one partition in order.
type KafkaSink struct {
	writer      *kafka.Writer
	timeout     time.Duration
	contentType string
}

// NewKafkaSink creates a synchronous Kafka writer
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes <= 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{
		writer:      writer,
		timeout:     config.WriteTimeout,
		contentType: config.ContentType,
	}, nil
}

// Publish writes one message; a nil value is a tombstone for compacted topics
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if k.contentType != "" && value != nil {
		msg.Headers = []kafka.Header{{Key: "content-type", Value: []byte(k.contentType)}}
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// contentType maps a sink format to a MIME type
func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "msgpack":
		return "application/msgpack"
	default:
		return ""
	}
}
