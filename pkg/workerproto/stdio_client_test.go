package workerproto

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// fakeWorker answers each health, progress or stop request with a canned
// response for that method, emulating python_worker.py's run_rpc_server loop closely enough to
// exercise the client's framing.
type fakeWorker struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (f *fakeWorker) serve() {
	scanner := bufio.NewScanner(f.r)
	for scanner.Scan() {
		var req RPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		var result any
		switch req.Method {
		case "health":
			result = HealthResponse{Status: "ok", GPU: 0}
		case "progress":
			result = ProgressResponse{Percentage: 50, StatusText: "Sampling", Results: []string{}}
		case "stop":
			result = StopResponse{Success: true, StoppedTasks: 1}
		}

		resp := RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
		data, _ := json.Marshal(resp)
		data = append(data, '\n')
		f.w.Write(data)
	}
}

func newFakeWorkerClient() (*StdioClient, func()) {
	clientReadEnd, workerWriteEnd := io.Pipe()
	workerReadEnd, clientWriteEnd := io.Pipe()

	fw := &fakeWorker{r: workerReadEnd, w: workerWriteEnd}
	go fw.serve()

	client := NewStdioClient(clientWriteEnd, clientReadEnd)
	cleanup := func() {
		clientWriteEnd.Close()
		workerWriteEnd.Close()
	}
	return client, cleanup
}

func TestStdioClientHealth(t *testing.T) {
	client, cleanup := newFakeWorkerClient()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
}

func TestStdioClientProgress(t *testing.T) {
	client, cleanup := newFakeWorkerClient()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Progress(ctx, "task-1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if resp.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", resp.Percentage)
	}
}

func TestStdioClientConcurrentCallsDontCrossWires(t *testing.T) {
	client, cleanup := newFakeWorkerClient()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() {
		_, err := client.Health(ctx)
		errs <- err
	}()
	go func() {
		_, err := client.Stop(ctx)
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
}
