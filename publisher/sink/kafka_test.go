package sink

import (
	"testing"
	"time"

	"github.com/maxpert/credmirror/cfg"
	"github.com/segmentio/kafka-go"
)

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}
	if config.BatchSize != DefaultKafkaBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultKafkaBatchSize, config.BatchSize)
	}
	if config.RequiredAcks != kafka.RequireAll {
		t.Errorf("expected RequireAll acks, got %v", config.RequiredAcks)
	}
	if config.WriteTimeout != DefaultKafkaWriteTimeout {
		t.Errorf("expected write timeout %v, got %v", DefaultKafkaWriteTimeout, config.WriteTimeout)
	}
}

func TestNewKafkaSink(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    50,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: time.Second,
		ContentType:  "application/json",
	})
	if err != nil {
		t.Fatalf("unexpected error creating sink: %v", err)
	}
	defer sink.Close()

	if sink.writer.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", sink.writer.BatchSize)
	}
	if sink.writer.BatchBytes != DefaultKafkaBatchBytes {
		t.Errorf("expected default batch bytes, got %d", sink.writer.BatchBytes)
	}
	if sink.writer.Async {
		t.Error("expected synchronous writes")
	}
	if _, ok := sink.writer.Balancer.(*kafka.Hash); !ok {
		t.Errorf("expected hash balancer, got %T", sink.writer.Balancer)
	}
	if sink.contentType != "application/json" {
		t.Errorf("unexpected content type %q", sink.contentType)
	}
}

func TestNewKafkaSinkEmptyBrokers(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{}); err == nil {
		t.Error("expected error for empty brokers, got nil")
	}
}

func TestKafkaFactoryFromConfig(t *testing.T) {
	snk, err := kafkaFromConfig(cfg.SinkConfiguration{
		Name:      "events",
		Type:      "kafka",
		Format:    "msgpack",
		Brokers:   []string{"localhost:9092"},
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer snk.Close()

	k := snk.(*KafkaSink)
	if k.writer.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", k.writer.BatchSize)
	}
	if k.contentType != "application/msgpack" {
		t.Errorf("unexpected content type %q", k.contentType)
	}
}

func TestStreamName(t *testing.T) {
	if got := streamName("credmirror.http"); got != "credmirror_http" {
		t.Errorf("unexpected stream name %q", got)
	}
}
