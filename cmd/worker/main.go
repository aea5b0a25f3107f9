// Command worker is the GPU worker subprocess: it accepts a validated
// argument vector from the Dispatch Gateway, drives the generation engine to
// completion, and reports progress back over either loopback HTTP or a
// stdio JSON-RPC 2.0 pipe, depending on WORKER_RPC_MODE.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gpuforge/dispatch/pkg/argcontract"
	"github.com/gpuforge/dispatch/pkg/engine"
	"github.com/gpuforge/dispatch/pkg/workerproto"
	"github.com/gpuforge/dispatch/pkg/wsdebug"
)

var logger *log.Logger

// defaultLayout is the fixed argument-vector layout every worker and
// gateway in this deployment agree on: 5 LoRA slots, 4 ControlNet image
// slots, 3 Enhance tabs, for a 152-element vector.
var defaultLayout = argcontract.Layout{MaxLoraNumber: 5, ControlNetImages: 4, EnhanceTabs: 3}

type workerState struct {
	gpu       int
	eng       engine.Engine
	outputDir string
	debugHub  *wsdebug.Hub

	mu       sync.Mutex
	progress map[string]workerproto.ProgressResponse
	cancels  map[string]context.CancelFunc
}

func newWorkerState(gpu int, outputDir string, debugHub *wsdebug.Hub) *workerState {
	return &workerState{
		gpu:       gpu,
		eng:       engine.NewSimulated(outputDir),
		outputDir: outputDir,
		debugHub:  debugHub,
		progress:  make(map[string]workerproto.ProgressResponse),
		cancels:   make(map[string]context.CancelFunc),
	}
}

func (w *workerState) setProgress(taskID string, p workerproto.ProgressResponse) {
	w.mu.Lock()
	w.progress[taskID] = p
	w.mu.Unlock()

	if w.debugHub != nil {
		w.debugHub.Broadcast(map[string]any{"task_id": taskID, "progress": p})
	}
}

func (w *workerState) getProgress(taskID string) workerproto.ProgressResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.progress[taskID]; ok {
		return p
	}
	return workerproto.DefaultProgress("Unknown")
}

func (w *workerState) allProgress() map[string]workerproto.ProgressResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]workerproto.ProgressResponse, len(w.progress))
	for k, v := range w.progress {
		out[k] = v
	}
	return out
}

func (w *workerState) cleanupAfter(taskID string, delay time.Duration) {
	time.Sleep(delay)
	w.mu.Lock()
	delete(w.progress, taskID)
	delete(w.cancels, taskID)
	w.mu.Unlock()
}

func validateGenerate(req workerproto.GenerateRequest) error {
	if req.FooocusArgsContractVer != workerproto.ContractVersion {
		return fmt.Errorf("fooocus_args contract version mismatch: got %d, expected %d", req.FooocusArgsContractVer, workerproto.ContractVersion)
	}
	if ok, reason := argcontract.Validate(argcontract.ArgumentVector(req.FooocusArgs), defaultLayout); !ok {
		return fmt.Errorf("invalid fooocus_args: %s", reason)
	}
	return nil
}

// runToCompletion drives the engine for one task and blocks until it
// reaches a terminal progress state, returning the final result paths.
func (w *workerState) runToCompletion(ctx context.Context, taskID string, args []any) ([]string, error) {
	events := w.eng.Run(ctx, taskID, args)

	var results []string
	for ev := range events {
		if ev.Finished {
			if ev.Err != nil {
				w.setProgress(taskID, workerproto.ProgressResponse{
					Percentage: 100,
					StatusText: fmt.Sprintf("Error: %v", ev.Err),
					Finished:   true,
					Results:    []string{},
					Error:      ev.Err.Error(),
				})
				return nil, ev.Err
			}
			results = ev.Results
			w.setProgress(taskID, workerproto.ProgressResponse{
				Percentage: 100,
				StatusText: "Finished",
				Finished:   true,
				Results:    results,
			})
			return results, nil
		}
		w.setProgress(taskID, workerproto.ProgressResponse{
			Percentage: ev.Percentage,
			StatusText: ev.StatusText,
			Finished:   false,
			Preview:    ev.Preview,
			Results:    []string{},
		})
	}
	return results, nil
}

func (w *workerState) handleGenerate(req workerproto.GenerateRequest, waitForResult bool) workerproto.GenerateResponse {
	if err := validateGenerate(req); err != nil {
		return workerproto.GenerateResponse{Success: false, Error: err.Error()}
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	w.setProgress(taskID, workerproto.DefaultProgress("Starting..."))

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancels[taskID] = cancel
	w.mu.Unlock()

	if waitForResult {
		results, err := w.runToCompletion(ctx, taskID, req.FooocusArgs)
		go w.cleanupAfter(taskID, 60*time.Second)
		if err != nil {
			return workerproto.GenerateResponse{Success: false, TaskID: taskID, Error: err.Error()}
		}
		return workerproto.GenerateResponse{Success: true, TaskID: taskID, Results: results}
	}

	go func() {
		_, err := w.runToCompletion(ctx, taskID, req.FooocusArgs)
		if err != nil {
			logger.Printf("task %s failed: %v", taskID, err)
		}
		w.cleanupAfter(taskID, 60*time.Second)
	}()
	return workerproto.GenerateResponse{Success: true, Accepted: true, TaskID: taskID}
}

func (w *workerState) handleStop() workerproto.StopResponse {
	w.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(w.cancels))
	for _, cancel := range w.cancels {
		cancels = append(cancels, cancel)
	}
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return workerproto.StopResponse{Success: true, StoppedTasks: len(cancels)}
}

func main() {
	gpu := envInt("WORKER_GPU_ID", 0)
	port := envInt("WORKER_PORT", 9000)
	mode := strings.ToLower(envString("WORKER_RPC_MODE", "http"))
	outputDir := envString("OUTPUT_DIR", "./outputs")
	devMode := envBool("DEV_MODE", false)

	logger = log.New(os.Stdout, fmt.Sprintf("[worker %d] ", gpu), log.LstdFlags)
	logger.Printf("starting, mode=%s cuda_visible_devices=%s", mode, os.Getenv("CUDA_VISIBLE_DEVICES"))

	var debugHub *wsdebug.Hub
	if devMode {
		debugHub = wsdebug.NewHub(gpu)
		debugPort := envInt("WORKER_DEBUG_PORT", port+1000)
		go runDebugServer(debugHub, debugPort)
	}

	state := newWorkerState(gpu, outputDir, debugHub)

	if mode == "stdio" {
		runStdioServer(state)
		return
	}
	runHTTPServer(state, port)
}

// runDebugServer serves the per-worker debug websocket on its own loopback
// port, independent of the main RPC transport (HTTP or stdio), so a stdio
// worker still gets a progress feed a developer can attach to.
func runDebugServer(hub *wsdebug.Hub, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logger.Printf("debug websocket on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("debug server stopped: %v", err)
	}
}

func runHTTPServer(w *workerState, port int) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, workerproto.HealthResponse{Status: "ok", GPU: w.gpu})
	})

	mux.HandleFunc("/progress/", func(rw http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/progress/")
		writeJSON(rw, http.StatusOK, w.getProgress(taskID))
	})

	mux.HandleFunc("/progress", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, w.allProgress())
	})

	mux.HandleFunc("/generate", func(rw http.ResponseWriter, r *http.Request) {
		var req workerproto.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, workerproto.GenerateResponse{Success: false, Error: err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, w.handleGenerate(req, true))
	})

	mux.HandleFunc("/stop", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, w.handleStop())
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logger.Printf("ready on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("http server: %v", err)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Access-Control-Allow-Origin", "*")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func runStdioServer(w *workerState) {
	logger.Printf("ready (stdio RPC)")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req workerproto.RPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeRPCError(out, nil, err)
			continue
		}

		result, err := dispatchRPC(w, req)
		if err != nil {
			writeRPCError(out, req.ID, err)
			continue
		}
		writeRPCResult(out, req.ID, result)
	}
}

func dispatchRPC(w *workerState, req workerproto.RPCRequest) (any, error) {
	params, _ := req.Params.(map[string]any)

	switch req.Method {
	case "health":
		return workerproto.HealthResponse{Status: "ok", GPU: w.gpu}, nil
	case "progress":
		taskID, _ := params["task_id"].(string)
		if taskID == "" {
			return nil, fmt.Errorf("task_id is required")
		}
		return w.getProgress(taskID), nil
	case "generate":
		var genReq workerproto.GenerateRequest
		if err := remarshal(params, &genReq); err != nil {
			return nil, err
		}
		return w.handleGenerate(genReq, false), nil
	case "stop":
		return w.handleStop(), nil
	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func remarshal(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func writeRPCResult(out *bufio.Writer, id any, result any) {
	writeRPC(out, workerproto.RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(out *bufio.Writer, id any, err error) {
	writeRPC(out, workerproto.RPCResponse{JSONRPC: "2.0", ID: id, Error: &workerproto.RPCError{Message: err.Error()}})
}

func writeRPC(out *bufio.Writer, resp workerproto.RPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(data)
	out.WriteByte('\n')
	out.Flush()
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
