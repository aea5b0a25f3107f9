package workerproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// StdioClient speaks newline-delimited JSON-RPC 2.0 over a worker
// subprocess's stdin/stdout pipes, matching python_worker.py's
// run_rpc_server loop.
type StdioClient struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	scanner *bufio.Scanner
	nextID  int64

	pending   map[int64]chan RPCResponse
	pendingMu sync.Mutex
}

// NewStdioClient wraps an already-started worker subprocess's stdin writer
// and stdout reader. The caller owns process lifecycle; this only owns the
// framing protocol on top of the pipes.
func NewStdioClient(stdin io.WriteCloser, stdout io.Reader) *StdioClient {
	c := &StdioClient{
		writer:  stdin,
		scanner: bufio.NewScanner(stdout),
		pending: make(map[int64]chan RPCResponse),
	}
	c.scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	go c.readLoop()
	return c
}

func (c *StdioClient) readLoop() {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp RPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		id, ok := toInt64(resp.ID)
		if !ok {
			continue
		}

		c.pendingMu.Lock()
		ch, found := c.pending[id]
		if found {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if found {
			ch <- resp
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (c *StdioClient) call(ctx context.Context, method string, params any) (RPCResponse, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan RPCResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return RPCResponse{}, fmt.Errorf("marshal rpc request: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	_, err = c.writer.Write(data)
	c.mu.Unlock()
	if err != nil {
		return RPCResponse{}, fmt.Errorf("write rpc request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, fmt.Errorf("worker rpc error: %s", resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return RPCResponse{}, ctx.Err()
	}
}

func (c *StdioClient) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	resp, err := c.call(ctx, "health", map[string]any{})
	if err != nil {
		return out, err
	}
	return out, decodeResult(resp.Result, &out)
}

func (c *StdioClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var out GenerateResponse
	resp, err := c.call(ctx, "generate", req)
	if err != nil {
		return out, err
	}
	return out, decodeResult(resp.Result, &out)
}

func (c *StdioClient) Progress(ctx context.Context, taskID string) (ProgressResponse, error) {
	var out ProgressResponse
	resp, err := c.call(ctx, "progress", map[string]any{"task_id": taskID})
	if err != nil {
		return out, err
	}
	return out, decodeResult(resp.Result, &out)
}

func (c *StdioClient) Stop(ctx context.Context) (StopResponse, error) {
	var out StopResponse
	resp, err := c.call(ctx, "stop", map[string]any{})
	if err != nil {
		return out, err
	}
	return out, decodeResult(resp.Result, &out)
}

func (c *StdioClient) Close() error {
	return c.writer.Close()
}

func decodeResult(result any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("re-marshal rpc result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}
