package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/flowcache"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// clientResponse keeps the result undecoded so callers pick the type.
type clientResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Call sends a command and waits for response. Result holds the raw JSON
// result as a json.RawMessage.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
		}
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// A decoder has no line length limit; flows_list results can be large.
	var raw clientResponse
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	respID := fmt.Sprintf("%v", raw.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{ID: respID, Result: raw.Result, Error: raw.Error}, nil
}

// callInto performs Call and decodes a successful result into out.
func (c *UDSClient) callInto(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	raw, _ := resp.Result.(json.RawMessage)
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// FlowsList pages through occupied slots starting at slot offset.
func (c *UDSClient) FlowsList(ctx context.Context, offset, limit int) (*FlowsListResult, error) {
	var res FlowsListResult
	if err := c.callInto(ctx, MethodFlowsList, FlowsListParams{Offset: offset, Limit: limit}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FlowsGet reads one slot.
func (c *UDSClient) FlowsGet(ctx context.Context, slot int) (flowcache.Record, error) {
	var rec flowcache.Record
	err := c.callInto(ctx, MethodFlowsGet, FlowsGetParams{Slot: slot}, &rec)
	return rec, err
}

// CounterGet reads the global packet counter.
func (c *UDSClient) CounterGet(ctx context.Context) (uint32, error) {
	var res CounterResult
	err := c.callInto(ctx, MethodCounterGet, nil, &res)
	return res.Packets, err
}

// FlowHash asks the daemon where a tuple lands in its table.
func (c *UDSClient) FlowHash(ctx context.Context, params FlowHashParams) (*FlowHashResult, error) {
	var res FlowHashResult
	if err := c.callInto(ctx, MethodFlowHash, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DaemonStats reads flow table and pipeline counters.
func (c *UDSClient) DaemonStats(ctx context.Context) (*DaemonStats, error) {
	var res DaemonStats
	if err := c.callInto(ctx, MethodDaemonStats, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.callInto(ctx, MethodDaemonShutdown, nil, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.CounterGet(ctx)
	return err
}
