package workerproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a worker subprocess over loopback HTTP, matching
// python_worker.py's WorkerHandler routes.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient builds a client pointed at a worker listening on port.
func NewHTTPClient(port int) *HTTPClient {
	return &HTTPClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.getJSON(ctx, "/health", &out)
	return out, err
}

func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var out GenerateResponse
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshal generate request: %w", err)
	}
	err = c.postJSON(ctx, "/generate", body, &out)
	return out, err
}

func (c *HTTPClient) Progress(ctx context.Context, taskID string) (ProgressResponse, error) {
	var out ProgressResponse
	err := c.getJSON(ctx, "/progress/"+taskID, &out)
	return out, err
}

func (c *HTTPClient) Stop(ctx context.Context) (StopResponse, error) {
	var out StopResponse
	err := c.postJSON(ctx, "/stop", nil, &out)
	return out, err
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("worker request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read worker response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode worker response: %w", err)
	}
	return nil
}
