package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowcache/internal/command"
	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/pipeline"
)

// MockClient implements ClientInterface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) FlowsList(ctx context.Context, offset, limit int) (*command.FlowsListResult, error) {
	args := m.Called(ctx, offset, limit)
	res, _ := args.Get(0).(*command.FlowsListResult)
	return res, args.Error(1)
}

func (m *MockClient) FlowsGet(ctx context.Context, slot int) (flowcache.Record, error) {
	args := m.Called(ctx, slot)
	return args.Get(0).(flowcache.Record), args.Error(1)
}

func (m *MockClient) CounterGet(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *MockClient) FlowHash(ctx context.Context, params command.FlowHashParams) (*command.FlowHashResult, error) {
	args := m.Called(ctx, params)
	res, _ := args.Get(0).(*command.FlowHashResult)
	return res, args.Error(1)
}

func (m *MockClient) DaemonStats(ctx context.Context) (*command.DaemonStats, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*command.DaemonStats)
	return res, args.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// 10.0.0.1:40000 -> 10.0.1.2:80
var sampleRecord = flowcache.Record{
	Slot:      4242,
	Exists:    true,
	SrcAddr:   0x0A000001,
	DstAddr:   0x0A000102,
	SrcPort:   40000,
	DstPort:   80,
	FirstSeen: 1700000000000000,
	LastSeen:  1700000000250000,
	Duration:  250000,
	TotalSize: 120,
}

func TestRunStop_Success(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Shutdown", mock.Anything).Return(nil)

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, "", &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Shutdown requested")
	mockClient.AssertExpectations(t)
}

func TestRunStop_NotRunning(t *testing.T) {
	mockClient := new(MockClient)
	notRunning := fmt.Errorf("%w: /tmp/x.sock", core.ErrDaemonNotRunning)
	mockClient.On("Shutdown", mock.Anything).Return(notRunning)

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, "", &buf)
	assert.ErrorIs(t, err, core.ErrDaemonNotRunning)

	// The PID file fallback fails too when there is no PID file.
	err = runStop(context.Background(), mockClient, filepath.Join(t.TempDir(), "none.pid"), &buf)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not running")
	assert.Empty(t, buf.String())
}

func TestRunStop_RPCError(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Shutdown", mock.Anything).Return(errors.New("shutdown handler not registered"))

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, "/does/not/matter.pid", &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop daemon")
	mockClient.AssertExpectations(t)
}

func sampleStats() *command.DaemonStats {
	return &command.DaemonStats{
		Version:   "test",
		UptimeSec: 42,
		FlowTable: flowcache.Stats{Capacity: 65536, Occupied: 3, Inserts: 3, Updates: 7, Packets: 10},
		Pipelines: &pipeline.GroupStats{
			Mode:      "dispatch",
			Strategy:  "slot-affinity",
			Total:     pipeline.Stats{ID: -1, Received: 11, Decoded: 10, DecodeErrors: 1, Forwarded: 9},
			Pipelines: []pipeline.Stats{{ID: 0, Received: 11, Decoded: 10, DecodeErrors: 1, Forwarded: 9}},
			Sources:   []pipeline.SourceStats{{Name: "pcap:in.pcap"}},
		},
	}
}

func TestRunStats_Table(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("DaemonStats", mock.Anything).Return(sampleStats(), nil)

	var buf bytes.Buffer
	require.NoError(t, runStats(context.Background(), mockClient, formatTable, &buf))

	out := buf.String()
	assert.Contains(t, out, "3/65536 slots occupied")
	assert.Contains(t, out, "dispatch: dispatch (slot-affinity)")
	assert.Contains(t, out, "pcap:in.pcap")
	assert.Contains(t, out, "total")
}

func TestRunStats_YAML(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("DaemonStats", mock.Anything).Return(sampleStats(), nil)

	var buf bytes.Buffer
	require.NoError(t, runStats(context.Background(), mockClient, formatYAML, &buf))

	out := buf.String()
	assert.Contains(t, out, "uptime_sec: 42")
	assert.Contains(t, out, "decode_errors: 1")
	assert.Contains(t, out, "dispatch_strategy: slot-affinity")
}

func TestRunStats_Error(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("DaemonStats", mock.Anything).Return(nil, errors.New("connection refused"))

	var buf bytes.Buffer
	err := runStats(context.Background(), mockClient, formatTable, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, buf.String())
}

func TestRunFlows_List(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("FlowsList", mock.Anything, 100, 10).Return(&command.FlowsListResult{
		Capacity: 65536,
		Count:    1,
		Records:  []flowcache.Record{sampleRecord},
	}, nil)

	var buf bytes.Buffer
	err := runFlows(context.Background(), mockClient, flowsOptions{slot: -1, offset: 100, limit: 10, format: formatTable}, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "10.0.0.1:40000")
	assert.Contains(t, out, "10.0.1.2:80")
	assert.Contains(t, out, "250ms")
	assert.Contains(t, out, "1 slot(s) shown, table capacity 65536")
	mockClient.AssertExpectations(t)
}

func TestRunFlows_Slot(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("FlowsGet", mock.Anything, 4242).Return(sampleRecord, nil)
	mockClient.On("FlowsGet", mock.Anything, 7).Return(flowcache.Record{Slot: 7}, nil)

	var buf bytes.Buffer
	require.NoError(t, runFlows(context.Background(), mockClient, flowsOptions{slot: 4242, format: formatJSON}, &buf))
	assert.Contains(t, buf.String(), `"src_port": 40000`)

	buf.Reset()
	require.NoError(t, runFlows(context.Background(), mockClient, flowsOptions{slot: 7, format: formatTable}, &buf))
	assert.Contains(t, buf.String(), "7  ")
	assert.NotContains(t, buf.String(), "0.0.0.0")
}

func TestRunCounter(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("CounterGet", mock.Anything).Return(uint32(4294967295), nil)

	var buf bytes.Buffer
	require.NoError(t, runCounter(context.Background(), mockClient, &buf))
	assert.Equal(t, "4294967295\n", buf.String())
}

func TestRunHashLocal(t *testing.T) {
	params := command.FlowHashParams{SrcIP: "10.0.0.1", DstIP: "10.0.1.2", SrcPort: 40000, DstPort: 80}

	key, err := params.Key()
	require.NoError(t, err)
	h, err := flowcache.NewHasher(1024)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runHashLocal(params, 1024, formatTable, &buf))
	assert.Contains(t, buf.String(), fmt.Sprintf("slot:     %d (capacity 1024)", h.Index(key).Int()))
	assert.Contains(t, buf.String(), fmt.Sprintf("crc16:    0x%04x", h.Sum(key)))

	assert.Error(t, runHashLocal(params, 0, formatTable, &buf))
	assert.Error(t, runHashLocal(command.FlowHashParams{SrcIP: "::1"}, 1024, formatTable, &buf))
}

func TestRunHashDaemon_Aliased(t *testing.T) {
	params := command.FlowHashParams{SrcIP: "10.0.0.9", DstIP: "10.0.1.2", SrcPort: 1, DstPort: 80}
	occ := sampleRecord
	mockClient := new(MockClient)
	mockClient.On("FlowHash", mock.Anything, params).Return(&command.FlowHashResult{
		Key:      "10.0.0.9:1 -> 10.0.1.2:80 proto 6",
		Capacity: 65536,
		Slot:     4242,
		Occupant: &occ,
		Aliased:  true,
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runHashDaemon(context.Background(), mockClient, params, formatTable, &buf))
	assert.Contains(t, buf.String(), "occupant: 10.0.0.1:40000 -> 10.0.1.2:80, 120 bytes (aliased)")
	mockClient.AssertExpectations(t)
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
flowcache:
  node:
    hostname: validate-node
  capture:
    type: pcap
    file: /tmp/in.pcap
  forwarding:
    port_rules:
      - ingress_port: 1
        egress_port: 2
    routes:
      - prefix: 10.0.0.0/8
        dst_mac: "02:00:00:00:00:09"
        port: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(path, &buf))
	assert.Contains(t, buf.String(), "VALID: capacity 65536")
	assert.Contains(t, buf.String(), "1 port rule(s), 1 route(s)")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("flowcache:\n  capture:\n    type: tape\n"), 0644))
	err := runValidate(bad, &buf)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestWriteStructured_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, writeStructured(&buf, "xml", sampleRecord))
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"daemon", "stop", "stats", "flows", "counter", "hash", "validate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
