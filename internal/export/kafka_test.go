package export

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaExport(t *testing.T) {
	w := &fakeWriter{}
	e := &KafkaExporter{topic: "t", writer: w}
	snap := Take(testTable(t), Node{Name: "n1", Tags: map[string]string{"site": "lab"}}, time.Unix(10, 0))

	require.NoError(t, e.Export(context.Background(), snap))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, strconv.Itoa(snap.Records[0].Slot), string(msg.Key))
	assert.Equal(t, time.Unix(10, 0), msg.Time)

	var m slotMessage
	require.NoError(t, json.Unmarshal(msg.Value, &m))
	assert.Equal(t, newSlotMessage(&snap, snap.Records[0]), m)

	require.NoError(t, e.Close())
	assert.True(t, w.closed)
}

func TestKafkaExportEmptyAndError(t *testing.T) {
	w := &fakeWriter{err: errors.New("no brokers")}
	e := &KafkaExporter{writer: w}

	assert.NoError(t, e.Export(context.Background(), Snapshot{}))
	assert.Error(t, e.Export(context.Background(), Take(testTable(t), Node{}, time.Now())))
	assert.Equal(t, "kafka", e.Name())
}

func TestNewKafkaExporter(t *testing.T) {
	for _, codec := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		e, err := NewKafkaExporter(config.KafkaExportConfig{
			Brokers:      []string{"127.0.0.1:9092"},
			Topic:        "flowcache-slots",
			Compression:  codec,
			BatchSize:    10,
			BatchTimeout: time.Second,
		})
		require.NoError(t, err, codec)
		require.NoError(t, e.Close())
	}

	_, err := NewKafkaExporter(config.KafkaExportConfig{Brokers: []string{"b"}, Topic: "t", Compression: "brotli"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
