package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowcache/internal/flowcache"
)

type fakeExporter struct {
	name string
	err  error

	mu     sync.Mutex
	snaps  []Snapshot
	closed bool
}

func (f *fakeExporter) Name() string { return f.name }

func (f *fakeExporter) Export(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return f.err
}

func (f *fakeExporter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeExporter) state() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps), f.closed
}

func testTable(t *testing.T) *flowcache.Controller {
	t.Helper()
	c, err := flowcache.NewController(flowcache.Options{Capacity: 64})
	require.NoError(t, err)
	c.Observe(flowcache.Observation{
		Key:       flowcache.FlowKey{SrcAddr: 0x0A000001, DstAddr: 0x0A000102, Protocol: 6, SrcPort: 40000, DstPort: 80},
		Length:    60,
		Timestamp: 100,
	})
	c.Observe(flowcache.Observation{
		Key:       flowcache.FlowKey{SrcAddr: 0x0A000001, DstAddr: 0x0A000102, Protocol: 6, SrcPort: 40000, DstPort: 80},
		Length:    40,
		Timestamp: 250,
	})
	return c
}

func TestTake(t *testing.T) {
	c := testTable(t)
	now := time.Unix(1700000000, 0)

	snap := Take(c, Node{Name: "node-a"}, now)
	assert.Equal(t, now, snap.Time)
	assert.Equal(t, "node-a", snap.Node.Name)
	assert.Equal(t, 64, snap.Capacity)
	assert.Equal(t, uint32(2), snap.Packets)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, uint64(100), snap.Records[0].TotalSize)
	assert.Equal(t, uint64(150), snap.Records[0].Duration)
}

func TestSchedulerExportOnce(t *testing.T) {
	good := &fakeExporter{name: "good"}
	bad := &fakeExporter{name: "bad", err: errors.New("unreachable")}

	s := NewScheduler(testTable(t), Node{Name: "n1"}, time.Hour, good, bad)
	assert.Equal(t, 1, s.ExportOnce(context.Background()))

	n, _ := good.state()
	assert.Equal(t, 1, n)
	n, _ = bad.state()
	assert.Equal(t, 1, n)
}

func TestSchedulerRunFlushesAndCloses(t *testing.T) {
	e := &fakeExporter{name: "fake"}
	s := NewScheduler(testTable(t), Node{Name: "n1"}, 10*time.Millisecond, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := e.state()
		return n >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	_, closed := e.state()
	assert.True(t, closed)
}

func TestEncodeSlot(t *testing.T) {
	c := testTable(t)
	snap := Take(c, Node{Name: "edge-1", Tags: map[string]string{"rack": "r7"}}, time.UnixMicro(5_000_000))

	b, err := encodeSlot(&snap, snap.Records[0])
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "edge-1", m["node"])
	assert.Equal(t, map[string]any{"rack": "r7"}, m["tags"])
	assert.Equal(t, "10.0.0.1", m["src_ip"])
	assert.Equal(t, "10.0.1.2", m["dst_ip"])
	assert.EqualValues(t, 40000, m["src_port"])
	assert.EqualValues(t, 80, m["dst_port"])
	assert.EqualValues(t, 100, m["first_seen"])
	assert.EqualValues(t, 250, m["last_seen"])
	assert.EqualValues(t, 5_000_000, m["exported_at"])
	assert.EqualValues(t, 2, m["packet_counter"])
	assert.EqualValues(t, snap.Records[0].Slot, m["slot"])
}
