package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

const defaultMaxAttempts = 3

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExporter publishes one JSON message per occupied slot, keyed by
// slot index so a slot's history stays on one partition.
type KafkaExporter struct {
	topic  string
	writer messageWriter
}

// NewKafkaExporter creates a writer for cfg. No connection is made until
// the first export.
func NewKafkaExporter(cfg config.KafkaExportConfig) (*KafkaExporter, error) {
	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  defaultMaxAttempts,
		Async:        false,
	}

	switch cfg.Compression {
	case "none", "":
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	case "zstd":
		writerConfig.CompressionCodec = compress.Zstd.Codec()
	default:
		return nil, fmt.Errorf("%w: invalid kafka compression %q", core.ErrConfigInvalid, cfg.Compression)
	}

	slog.Info("kafka exporter configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression)

	return &KafkaExporter{topic: cfg.Topic, writer: kafka.NewWriter(writerConfig)}, nil
}

func (e *KafkaExporter) Name() string { return "kafka" }

// Export writes the snapshot synchronously.
func (e *KafkaExporter) Export(ctx context.Context, snap Snapshot) error {
	if len(snap.Records) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(snap.Records))
	for _, r := range snap.Records {
		value, err := encodeSlot(&snap, r)
		if err != nil {
			return fmt.Errorf("encode slot %d: %w", r.Slot, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.Itoa(r.Slot)),
			Value: value,
			Time:  snap.Time,
		})
	}

	if err := e.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (e *KafkaExporter) Close() error {
	return e.writer.Close()
}
