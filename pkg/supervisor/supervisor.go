// Package supervisor owns the lifecycle of worker subprocesses: spawning
// one per configured GPU with the right device visibility, health-probing
// them at startup, and stopping them cooperatively on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gpuforge/dispatch/pkg/metrics"
	"github.com/gpuforge/dispatch/pkg/workerproto"
)

var logger = log.New(os.Stdout, "[supervisor] ", log.LstdFlags)

// Worker is one running (or exited) worker subprocess and its transport.
type Worker struct {
	Device int

	cmd    *exec.Cmd
	client workerproto.Client
	port   int

	mu    sync.Mutex
	alive bool
}

// Client returns the transport used to talk to this worker.
func (w *Worker) Client() workerproto.Client { return w.client }

// Alive reports whether the subprocess is still believed to be running.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func (w *Worker) markDead() {
	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()
}

// Options configures how the supervisor spawns and probes worker
// subprocesses.
type Options struct {
	// WorkerBinary is the path to the worker executable (cmd/worker).
	WorkerBinary string
	// RPCMode is "http" or "stdio".
	RPCMode string
	// StartupTimeout bounds how long the health probe retries before the
	// supervisor gives up on a device.
	StartupTimeout time.Duration
	// StopTimeout bounds how long StopAll waits for cooperative shutdown
	// before force-killing a worker.
	StopTimeout time.Duration
}

// Supervisor manages one Worker per GPU device.
type Supervisor struct {
	opts Options

	mu      sync.RWMutex
	workers map[int]*Worker
}

// New builds a Supervisor with no workers started yet.
func New(opts Options) *Supervisor {
	if opts.RPCMode == "" {
		opts.RPCMode = "http"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Supervisor{opts: opts, workers: make(map[int]*Worker)}
}

// StartWorker spawns a worker subprocess pinned to device via
// CUDA_VISIBLE_DEVICES, set before the child process ever loads its
// accelerator library — this is the correctness boundary the whole
// subprocess-isolation design rests on: the variable must be in the child's
// environment at exec time, not poked in afterward.
func (s *Supervisor) StartWorker(ctx context.Context, device int) (*Worker, error) {
	s.mu.Lock()
	if existing, ok := s.workers[device]; ok && existing.Alive() {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	switch s.opts.RPCMode {
	case "stdio":
		return s.startStdioWorker(ctx, device)
	default:
		return s.startHTTPWorker(ctx, device)
	}
}

func (s *Supervisor) baseEnv(device int, extra ...string) []string {
	env := append(os.Environ(),
		fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", device),
		fmt.Sprintf("WORKER_GPU_ID=%d", device),
		fmt.Sprintf("WORKER_RPC_MODE=%s", s.opts.RPCMode),
	)
	return append(env, extra...)
}

func (s *Supervisor) startHTTPWorker(ctx context.Context, device int) (*Worker, error) {
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("find free port for gpu %d: %w", device, err)
	}

	cmd := exec.Command(s.opts.WorkerBinary)
	cmd.Env = s.baseEnv(device, fmt.Sprintf("WORKER_PORT=%d", port))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for gpu %d: %w", device, err)
	}
	logger.Printf("started worker for gpu %d on port %d (pid %d)", device, port, cmd.Process.Pid)

	client := workerproto.NewHTTPClient(port)
	w := &Worker{Device: device, cmd: cmd, client: client, port: port, alive: true}

	if err := s.waitHealthy(ctx, w); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	s.mu.Lock()
	s.workers[device] = w
	s.mu.Unlock()
	return w, nil
}

func (s *Supervisor) startStdioWorker(ctx context.Context, device int) (*Worker, error) {
	cmd := exec.Command(s.opts.WorkerBinary)
	cmd.Env = s.baseEnv(device)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdin for gpu %d: %w", device, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdout for gpu %d: %w", device, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for gpu %d: %w", device, err)
	}
	logger.Printf("started stdio worker for gpu %d (pid %d)", device, cmd.Process.Pid)

	client := workerproto.NewStdioClient(stdin, stdout)
	w := &Worker{Device: device, cmd: cmd, client: client, alive: true}

	if err := s.waitHealthy(ctx, w); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	s.mu.Lock()
	s.workers[device] = w
	s.mu.Unlock()
	return w, nil
}

func (s *Supervisor) waitHealthy(ctx context.Context, w *Worker) error {
	deadline := time.Now().Add(s.opts.StartupTimeout)
	attempt := 0

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := w.client.Health(probeCtx)
		cancel()
		if m := metrics.Get(); m != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.RecordHealthProbe(w.Device, outcome)
		}
		if err == nil {
			logger.Printf("gpu %d worker healthy after %d attempt(s)", w.Device, attempt+1)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("gpu %d worker did not become healthy within %s: %w", w.Device, s.opts.StartupTimeout, err)
		}

		wait := nextBackoff(200*time.Millisecond, attempt)
		attempt++
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Worker returns the worker for device, if one is running.
func (s *Supervisor) Worker(device int) (*Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[device]
	return w, ok
}

// IsAlive reports whether a worker for device is currently running.
func (s *Supervisor) IsAlive(device int) bool {
	w, ok := s.Worker(device)
	return ok && w.Alive()
}

// StopAll asks every worker to stop cooperatively, waits up to StopTimeout
// for the subprocess to exit, and force-kills anything still alive after
// that.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			s.stopWorker(ctx, w)
		}(w)
	}
	wg.Wait()

	s.mu.Lock()
	s.workers = make(map[int]*Worker)
	s.mu.Unlock()
}

func (s *Supervisor) stopWorker(ctx context.Context, w *Worker) {
	stopCtx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	_, _ = w.client.Stop(stopCtx)
	cancel()
	_ = w.client.Close()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-done:
		logger.Printf("gpu %d worker exited cleanly", w.Device)
	case <-time.After(s.opts.StopTimeout):
		logger.Printf("gpu %d worker did not exit within %s, killing", w.Device, s.opts.StopTimeout)
		_ = w.cmd.Process.Kill()
		<-done
	}
	w.markDead()
}

func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
