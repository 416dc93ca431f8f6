// Package command implements the read-only control plane: a JSON-RPC
// handler over the flow table and pipeline counters, served on a Unix
// domain socket.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/pipeline"
)

// Version is reported by daemon_stats.
var Version = "0.1.0"

// Method names.
const (
	MethodFlowsList      = "flows_list"
	MethodFlowsGet       = "flows_get"
	MethodCounterGet     = "counter_get"
	MethodFlowHash       = "flow_hash"
	MethodDaemonStats    = "daemon_stats"
	MethodDaemonShutdown = "daemon_shutdown"
)

// FlowReader is the read side of the flow cache.
type FlowReader interface {
	Records(offset, limit int) []flowcache.Record
	Slot(slot int) (flowcache.Record, error)
	PacketCount() uint32
	Stats() flowcache.Stats
	Hasher() *flowcache.Hasher
}

// CommandHandler handles control plane commands. None of them writes to
// the flow table.
type CommandHandler struct {
	flows         FlowReader
	pipelineStats func() pipeline.GroupStats
	shutdownFunc  func() // Called by daemon_shutdown to trigger graceful stop
	startTime     time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(flows FlowReader) *CommandHandler {
	return &CommandHandler{
		flows:     flows,
		startTime: time.Now(),
	}
}

// SetPipelineStats sets the source of pipeline counters for daemon_stats.
func (h *CommandHandler) SetPipelineStats(fn func() pipeline.GroupStats) {
	h.pipelineStats = fn
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

func errorResponse(id string, code int, format string, args ...any) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodFlowsList:
		return h.handleFlowsList(ctx, cmd)
	case MethodFlowsGet:
		return h.handleFlowsGet(ctx, cmd)
	case MethodCounterGet:
		return h.handleCounterGet(ctx, cmd)
	case MethodFlowHash:
		return h.handleFlowHash(ctx, cmd)
	case MethodDaemonStats:
		return h.handleDaemonStats(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

func decodeParams(cmd Command, v any) *Response {
	if len(cmd.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
		return &resp
	}
	return nil
}

// FlowsListParams pages through occupied slots. Offset is a slot index.
type FlowsListParams struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// FlowsListResult is the flows_list result.
type FlowsListResult struct {
	Capacity int                `json:"capacity" yaml:"capacity"`
	Count    int                `json:"count" yaml:"count"`
	Records  []flowcache.Record `json:"records" yaml:"records"`
}

func (h *CommandHandler) handleFlowsList(_ context.Context, cmd Command) Response {
	var params FlowsListParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	if params.Offset < 0 || params.Limit < 0 {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "offset and limit must not be negative")
	}

	records := h.flows.Records(params.Offset, params.Limit)
	if records == nil {
		records = []flowcache.Record{}
	}
	return Response{
		ID: cmd.ID,
		Result: FlowsListResult{
			Capacity: h.flows.Stats().Capacity,
			Count:    len(records),
			Records:  records,
		},
	}
}

// FlowsGetParams selects one slot.
type FlowsGetParams struct {
	Slot int `json:"slot"`
}

func (h *CommandHandler) handleFlowsGet(_ context.Context, cmd Command) Response {
	var params FlowsGetParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	rec, err := h.flows.Slot(params.Slot)
	if errors.Is(err, core.ErrSlotOutOfRange) {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "%v", err)
	}
	return Response{ID: cmd.ID, Result: rec}
}

// CounterResult is the counter_get result.
type CounterResult struct {
	Packets uint32 `json:"packets" yaml:"packets"`
}

func (h *CommandHandler) handleCounterGet(_ context.Context, cmd Command) Response {
	return Response{ID: cmd.ID, Result: CounterResult{Packets: h.flows.PacketCount()}}
}

// FlowHashParams is a 5-tuple. Protocol defaults to TCP.
type FlowHashParams struct {
	SrcIP    string `json:"src_ip"`
	DstIP    string `json:"dst_ip"`
	Protocol uint8  `json:"protocol,omitempty"`
	SrcPort  uint16 `json:"src_port"`
	DstPort  uint16 `json:"dst_port"`
}

// Key converts the tuple to a flow key.
func (p FlowHashParams) Key() (flowcache.FlowKey, error) {
	src, err := parseIPv4(p.SrcIP)
	if err != nil {
		return flowcache.FlowKey{}, fmt.Errorf("src_ip: %w", err)
	}
	dst, err := parseIPv4(p.DstIP)
	if err != nil {
		return flowcache.FlowKey{}, fmt.Errorf("dst_ip: %w", err)
	}
	proto := p.Protocol
	if proto == 0 {
		proto = core.ProtocolTCP
	}
	return flowcache.FlowKey{
		SrcAddr:  src,
		DstAddr:  dst,
		Protocol: proto,
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
	}, nil
}

func parseIPv4(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	v, ok := core.AddrToUint32(addr)
	if !ok {
		return 0, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return v, nil
}

// FlowHashResult tells where a tuple lands and what currently occupies
// that slot. Aliased is set when the slot is held by different endpoints.
// The table keeps no protocol register, so a tuple that matches the
// occupant's addresses and ports but not its protocol is not reported as
// aliased.
type FlowHashResult struct {
	Key      string            `json:"key" yaml:"key"`
	CRC      uint16            `json:"crc" yaml:"crc"`
	Capacity int               `json:"capacity" yaml:"capacity"`
	Slot     int               `json:"slot" yaml:"slot"`
	Occupant *flowcache.Record `json:"occupant,omitempty" yaml:"occupant,omitempty"`
	Aliased  bool              `json:"aliased" yaml:"aliased"`
}

// HashTuple computes where key lands in a table hashed by h.
func HashTuple(h *flowcache.Hasher, key flowcache.FlowKey) FlowHashResult {
	return FlowHashResult{
		Key:      key.String(),
		CRC:      h.Sum(key),
		Capacity: h.Capacity(),
		Slot:     h.Index(key).Int(),
	}
}

func (h *CommandHandler) handleFlowHash(_ context.Context, cmd Command) Response {
	var params FlowHashParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	key, err := params.Key()
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}

	res := HashTuple(h.flows.Hasher(), key)
	rec, err := h.flows.Slot(res.Slot)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "%v", err)
	}
	if rec.Exists {
		res.Occupant = &rec
		res.Aliased = rec.SrcAddr != key.SrcAddr || rec.DstAddr != key.DstAddr ||
			rec.SrcPort != key.SrcPort || rec.DstPort != key.DstPort
	}
	return Response{ID: cmd.ID, Result: res}
}

// DaemonStats is the daemon_stats result.
type DaemonStats struct {
	Version   string               `json:"version" yaml:"version"`
	UptimeSec int64                `json:"uptime_sec" yaml:"uptime_sec"`
	FlowTable flowcache.Stats      `json:"flow_table" yaml:"flow_table"`
	Pipelines *pipeline.GroupStats `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
}

func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	stats := DaemonStats{
		Version:   Version,
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
		FlowTable: h.flows.Stats(),
	}
	if h.pipelineStats != nil {
		ps := h.pipelineStats()
		stats.Pipelines = &ps
	}
	return Response{ID: cmd.ID, Result: stats}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
	}
}
