// Package dispatch implements the Dispatch Gateway (C6): the single
// DispatchCore value that owns task state and drives a generate request from
// validated argument vector through scheduling, worker submission (or the
// in-process engine fallback), progress monitoring, and metadata persistence.
//
// Every mutable piece of state the original kept at module scope
// (active_tasks, task_queue) is threaded through this struct instead, so a
// gateway process can be built, started, and torn down as a value rather than
// through package-level globals.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gpuforge/dispatch/pkg/apierr"
	"github.com/gpuforge/dispatch/pkg/argcontract"
	"github.com/gpuforge/dispatch/pkg/engine"
	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/metrics"
	"github.com/gpuforge/dispatch/pkg/notify"
	"github.com/gpuforge/dispatch/pkg/scheduler"
	"github.com/gpuforge/dispatch/pkg/supervisor"
	"github.com/gpuforge/dispatch/pkg/workerproto"
)

var logger = log.New(os.Stdout, "[dispatch] ", log.LstdFlags)

// TaskRecord is the gateway's live view of one generation task, the Go
// equivalent of the original's per-task TaskStatus object kept in
// active_tasks.
type TaskRecord struct {
	TaskID     string    `json:"task_id"`
	Device     int       `json:"device"`
	Percentage int       `json:"progress"`
	StatusText string    `json:"status"`
	Finished   bool      `json:"finished"`
	Preview    *string   `json:"preview"`
	Results    []string  `json:"results"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	cancel     context.CancelFunc
	finishOnce sync.Once
}

// TaskSnapshot is the shape broadcast to /ws subscribers, matching the
// original websocket_endpoint's per-task update dict field-for-field.
type TaskSnapshot struct {
	Progress int      `json:"progress"`
	Status   string   `json:"status"`
	Finished bool     `json:"finished"`
	Results  []string `json:"results"`
	Preview  *string  `json:"preview"`
}

// Options configures a DispatchCore.
type Options struct {
	Scheduler  *scheduler.Scheduler
	Supervisor *supervisor.Supervisor
	Store      *metadata.Store
	Engine     engine.Engine
	Notifier   *notify.SlackNotifier
	Layout     argcontract.Layout
	OutputDir  string

	ProgressPollInterval time.Duration
	TaskTTL              time.Duration
}

// DispatchCore owns every piece of mutable gateway state: the scheduler, the
// worker supervisor, the metadata store, and the in-flight task map.
type DispatchCore struct {
	scheduler  *scheduler.Scheduler
	supervisor *supervisor.Supervisor
	store      *metadata.Store
	engine     engine.Engine
	notifier   *notify.SlackNotifier
	layout     argcontract.Layout
	outputDir  string

	progressPollInterval time.Duration
	taskTTL              time.Duration

	mu    sync.RWMutex
	tasks map[string]*TaskRecord
}

// New builds a DispatchCore from opts, filling in documented defaults for
// any interval left zero.
func New(opts Options) *DispatchCore {
	if opts.ProgressPollInterval <= 0 {
		opts.ProgressPollInterval = 100 * time.Millisecond
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = 60 * time.Second
	}
	return &DispatchCore{
		scheduler:            opts.Scheduler,
		supervisor:           opts.Supervisor,
		store:                opts.Store,
		engine:               opts.Engine,
		notifier:             opts.Notifier,
		layout:               opts.Layout,
		outputDir:            opts.OutputDir,
		progressPollInterval: opts.ProgressPollInterval,
		taskTTL:              opts.TaskTTL,
		tasks:                make(map[string]*TaskRecord),
	}
}

// Generate validates req, builds its argument vector, selects a device, and
// submits the task either to a worker subprocess or, when multi-GPU
// dispatch is disabled, to the in-process engine fallback. It returns the
// new task's id immediately; the caller polls Snapshot or the /ws broadcast
// for progress, mirroring the original's fire-and-forget generate_image
// handler backed by monitor_task.
func (d *DispatchCore) Generate(ctx context.Context, req argcontract.TaskRequest) (string, error) {
	vec := argcontract.Build(req, d.layout)
	if ok, msg := argcontract.Validate(vec, d.layout); !ok {
		return "", apierr.Validation(msg)
	}

	device, ok := d.selectDevice()
	if !ok {
		return "", apierr.Scheduling("no GPU device available")
	}

	taskID := uuid.NewString()
	rec := &TaskRecord{
		TaskID:     taskID,
		Device:     device,
		StatusText: "Pending",
		Results:    []string{},
		CreatedAt:  time.Now(),
	}

	d.mu.Lock()
	d.tasks[taskID] = rec
	d.mu.Unlock()

	if d.scheduler != nil {
		d.scheduler.MarkBusy(device, true)
	}
	if m := metrics.Get(); m != nil {
		m.RecordSelection(device)
		m.SetDeviceBusy(device, true)
	}

	if d.usesWorkers() {
		if err := d.startWorkerTask(ctx, rec, vec); err != nil {
			d.releaseDevice(device)
			d.mu.Lock()
			delete(d.tasks, taskID)
			d.mu.Unlock()
			return "", err
		}
		return taskID, nil
	}

	d.startEngineTask(rec, vec)
	return taskID, nil
}

// usesWorkers reports whether the supervisor's subprocess path should be
// used for this request, rather than the in-process engine fallback.
func (d *DispatchCore) usesWorkers() bool {
	return d.scheduler != nil && d.scheduler.Enabled() && d.supervisor != nil
}

func (d *DispatchCore) selectDevice() (int, bool) {
	if d.scheduler != nil && d.scheduler.Enabled() {
		return d.scheduler.Select()
	}
	if d.scheduler != nil {
		if gpus := d.scheduler.GPUs(); len(gpus) > 0 {
			return gpus[0].Device, true
		}
	}
	return 0, true // single implicit device, no scheduler configured at all
}

func (d *DispatchCore) releaseDevice(device int) {
	if d.scheduler != nil {
		d.scheduler.MarkBusy(device, false)
	}
	if m := metrics.Get(); m != nil {
		m.SetDeviceBusy(device, false)
	}
}

// startWorkerTask submits vec to the device's worker subprocess and starts
// a goroutine polling its progress endpoint/method until the task reaches a
// terminal state. The submission call itself runs in its own goroutine: the
// HTTP worker variant's /generate handler blocks until the whole generation
// finishes (it does not just accept and return), so waiting on it here would
// hold the gateway's own POST /generate response open for the task's entire
// duration instead of returning task_id immediately, the way the original's
// submit_task offloads its blocking send to a thread.
func (d *DispatchCore) startWorkerTask(ctx context.Context, rec *TaskRecord, vec argcontract.ArgumentVector) error {
	worker, ok := d.supervisor.Worker(rec.Device)
	if !ok || !worker.Alive() {
		started, err := d.supervisor.StartWorker(ctx, rec.Device)
		if err != nil {
			return apierr.WorkerTransport(fmt.Sprintf("start worker for gpu %d", rec.Device), err)
		}
		worker = started
	}

	genCtx, cancel := context.WithCancel(context.Background())
	start := time.Now()

	d.mu.Lock()
	rec.cancel = cancel
	rec.StatusText = "Running"
	d.mu.Unlock()

	client := worker.Client()
	go func() {
		resp, err := client.Generate(genCtx, workerproto.GenerateRequest{
			TaskID:                 rec.TaskID,
			FooocusArgs:             vec,
			FooocusArgsContractVer: workerproto.ContractVersion,
		})
		if err != nil {
			d.finishTask(rec, "", nil, apierr.WorkerTransport("submit generate to worker", err), start)
			cancel()
			return
		}
		if !resp.Success {
			d.finishTask(rec, "", nil, apierr.Engine(resp.Error), start)
			cancel()
			return
		}
		// A successful response only means the worker took the task: the
		// stdio variant returns accepted:true immediately and is still
		// running, while the HTTP variant has already run it to completion.
		// Either way monitorWorkerTask's progress poll observes the terminal
		// state and calls finishTask itself.
	}()

	go d.monitorWorkerTask(genCtx, client, rec, start)
	return nil
}

func (d *DispatchCore) monitorWorkerTask(ctx context.Context, client workerproto.Client, rec *TaskRecord, start time.Time) {
	ticker := time.NewTicker(d.progressPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.finishTask(rec, "Stopped", nil, ctx.Err(), start)
			return
		case <-ticker.C:
		}

		resp, err := client.Progress(ctx, rec.TaskID)
		if err != nil {
			d.finishTask(rec, "", nil, apierr.WorkerTransport("poll worker progress", err), start)
			return
		}

		results := make([]string, len(resp.Results))
		for i, p := range resp.Results {
			results[i] = processPath(p)
		}

		d.mu.Lock()
		rec.Percentage = resp.Percentage
		rec.StatusText = resp.StatusText
		rec.Preview = resp.Preview
		if len(results) > 0 {
			rec.Results = results
		}
		d.mu.Unlock()

		if resp.Finished {
			var terminalErr error
			if resp.Error != "" {
				terminalErr = apierr.Engine(resp.Error)
			}
			d.finishTask(rec, "Finished", results, terminalErr, start)
			return
		}
	}
}

// startEngineTask drives the in-process simulated engine directly, for the
// single-GPU-disabled-scheduler fallback spec.md §4.4 and SPEC_FULL.md §13
// decide to keep.
func (d *DispatchCore) startEngineTask(rec *TaskRecord, vec argcontract.ArgumentVector) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	rec.cancel = cancel
	rec.StatusText = "Running"
	d.mu.Unlock()

	events := d.engine.Run(ctx, rec.TaskID, vec)
	go d.monitorEngineTask(rec, events)
}

func (d *DispatchCore) monitorEngineTask(rec *TaskRecord, events <-chan engine.ProgressEvent) {
	start := time.Now()
	for ev := range events {
		results := make([]string, len(ev.Results))
		for i, p := range ev.Results {
			results[i] = processPath(p)
		}

		d.mu.Lock()
		rec.Percentage = ev.Percentage
		rec.StatusText = ev.StatusText
		rec.Preview = ev.Preview
		if len(results) > 0 {
			rec.Results = results
		}
		d.mu.Unlock()

		if ev.Finished {
			d.finishTask(rec, ev.StatusText, results, ev.Err, start)
			return
		}
	}
}

// finishTask settles rec into a terminal state. A task can reach this from
// more than one goroutine (the worker-submission call failing outright, the
// progress poller observing Finished, or a Stop canceling the context), so
// only the first caller's outcome sticks.
func (d *DispatchCore) finishTask(rec *TaskRecord, statusText string, results []string, terminalErr error, start time.Time) {
	settled := false
	rec.finishOnce.Do(func() { settled = true })
	if !settled {
		return
	}

	d.releaseDevice(rec.Device)

	d.mu.Lock()
	rec.Finished = true
	rec.FinishedAt = time.Now()
	if statusText != "" {
		rec.StatusText = statusText
	}
	if len(results) > 0 {
		rec.Results = results
	}
	if terminalErr != nil {
		rec.Error = terminalErr.Error()
	}
	d.mu.Unlock()

	status := "completed"
	if terminalErr != nil {
		status = "failed"
	}
	if m := metrics.Get(); m != nil {
		m.RecordTaskTerminal(status)
		m.RecordGenerationDuration(time.Since(start).Seconds(), status)
	}

	for _, p := range results {
		if err := d.store.Save(p, map[string]any{
			"task_id": rec.TaskID,
			"device":  rec.Device,
		}); err != nil {
			persistErr := apierr.Persistence(fmt.Sprintf("task %s: save metadata for %s", rec.TaskID, p), err)
			logger.Printf("%v", persistErr)
		}
	}

	if terminalErr != nil && d.notifier != nil {
		kind := "engine"
		if ae, ok := apierr.As(terminalErr); ok {
			kind = string(ae.Kind)
		}
		alert := notify.Alert{
			TaskID:   rec.TaskID,
			Device:   rec.Device,
			Severity: notify.SeverityCritical,
			Kind:     kind,
			Message:  terminalErr.Error(),
			FiredAt:  time.Now(),
		}
		if err := d.notifier.Send(alert); err != nil {
			logger.Printf("task %s: slack notify failed: %v", rec.TaskID, err)
		}
	}
}

// processPath normalizes a result path the same way the original's
// process_path does: backslashes to forward slashes, and anything rooted
// under an "outputs/" segment is rewritten relative to it, so a worker
// running with a different absolute output root still reports a path the
// gateway's own output mount can serve.
func processPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if idx := strings.LastIndex(p, "outputs/"); idx >= 0 {
		return p[idx+len("outputs/"):]
	}
	return p
}

// Stop cancels every in-flight task: worker-backed tasks are asked to stop
// cooperatively through their worker's Stop call, and in-process tasks have
// their context canceled directly. It returns the number of tasks that were
// still running.
func (d *DispatchCore) Stop(ctx context.Context) (int, error) {
	d.mu.RLock()
	var running []*TaskRecord
	for _, rec := range d.tasks {
		if !rec.Finished {
			running = append(running, rec)
		}
	}
	d.mu.RUnlock()

	stopped := 0
	seenDevices := make(map[int]bool)
	for _, rec := range running {
		if rec.cancel != nil {
			rec.cancel()
		}
		stopped++

		if d.usesWorkers() && !seenDevices[rec.Device] {
			seenDevices[rec.Device] = true
			if worker, ok := d.supervisor.Worker(rec.Device); ok {
				if _, err := worker.Client().Stop(ctx); err != nil {
					logger.Printf("stop worker for gpu %d: %v", rec.Device, err)
				}
			}
		}
	}
	return stopped, nil
}

// Snapshot returns the broadcast-ready view of every tracked task, matching
// the shape websocket_endpoint sends every tick.
func (d *DispatchCore) Snapshot() map[string]TaskSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]TaskSnapshot, len(d.tasks))
	for id, rec := range d.tasks {
		results := []string{}
		if rec.Finished {
			results = rec.Results
		}
		out[id] = TaskSnapshot{
			Progress: rec.Percentage,
			Status:   rec.StatusText,
			Finished: rec.Finished,
			Results:  results,
			Preview:  rec.Preview,
		}
	}
	return out
}

// Task returns a copy of the task record for taskID, or false if unknown.
func (d *DispatchCore) Task(taskID string) (TaskRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.tasks[taskID]
	if !ok {
		return TaskRecord{}, false
	}
	return *rec, true
}

// RunBroadcastLoop calls publish with a fresh Snapshot every interval, until
// ctx is canceled. It blocks, so callers run it in its own goroutine. The
// /ws handler does not use it: it runs its own ticker per connection.
func (d *DispatchCore) RunBroadcastLoop(ctx context.Context, interval time.Duration, publish func(map[string]TaskSnapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish(d.Snapshot())
		}
	}
}

// RunReaper deletes finished tasks older than the configured TTL, at the
// given check interval, until ctx is canceled. There is no original-side
// analogue: active_tasks in the source never shrinks, which would leak
// memory indefinitely in a long-running gateway process.
func (d *DispatchCore) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOnce()
		}
	}
}

func (d *DispatchCore) reapOnce() {
	cutoff := time.Now().Add(-d.taskTTL)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rec := range d.tasks {
		if rec.Finished && rec.FinishedAt.Before(cutoff) {
			delete(d.tasks, id)
		}
	}
}

// Shutdown stops every tracked task and, if a supervisor is configured,
// every worker subprocess it owns.
func (d *DispatchCore) Shutdown(ctx context.Context) {
	if _, err := d.Stop(ctx); err != nil {
		logger.Printf("stop tasks during shutdown: %v", err)
	}
	if d.supervisor != nil {
		d.supervisor.StopAll(ctx)
	}
}

// OutputPath joins the configured output directory with a relative artifact
// path, for handlers serving generated images back to the client.
func (d *DispatchCore) OutputPath(relPath string) string {
	return filepath.Join(d.outputDir, relPath)
}
