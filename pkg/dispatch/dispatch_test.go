package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpuforge/dispatch/pkg/argcontract"
	"github.com/gpuforge/dispatch/pkg/engine"
	"github.com/gpuforge/dispatch/pkg/metadata"
)

func newTestCore(t *testing.T) *DispatchCore {
	t.Helper()
	dir := t.TempDir()

	store, err := metadata.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := &engine.Simulated{Steps: 2, StepDelay: 5 * time.Millisecond, OutputDir: dir}

	return New(Options{
		Store:                store,
		Engine:                eng,
		Layout:                argcontract.Layout{MaxLoraNumber: 5, ControlNetImages: 4, EnhanceTabs: 3},
		OutputDir:             dir,
		ProgressPollInterval:  5 * time.Millisecond,
		TaskTTL:               50 * time.Millisecond,
	})
}

func waitForFinish(t *testing.T, core *DispatchCore, taskID string) TaskRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := core.Task(taskID)
		if ok && rec.Finished {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish in time", taskID)
	return TaskRecord{}
}

func TestGenerateRunsToCompletionOnInProcessFallback(t *testing.T) {
	core := newTestCore(t)

	taskID, err := core.Generate(context.Background(), argcontract.DefaultTaskRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rec := waitForFinish(t, core, taskID)
	if rec.StatusText != "Finished" {
		t.Errorf("StatusText = %q, want Finished", rec.StatusText)
	}
	if len(rec.Results) != 1 {
		t.Errorf("Results = %v, want one artifact", rec.Results)
	}
}

func TestGenerateRejectsInvalidLayout(t *testing.T) {
	core := newTestCore(t)
	core.layout = argcontract.Layout{} // forces a length mismatch against DefaultTaskRequest's built vector

	if _, err := core.Generate(context.Background(), argcontract.DefaultTaskRequest()); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestSnapshotReflectsRunningTask(t *testing.T) {
	core := newTestCore(t)

	taskID, err := core.Generate(context.Background(), argcontract.DefaultTaskRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	snap := core.Snapshot()
	if _, ok := snap[taskID]; !ok {
		t.Fatalf("snapshot missing task %s: %v", taskID, snap)
	}

	waitForFinish(t, core, taskID)
}

func TestStopCancelsRunningTask(t *testing.T) {
	core := newTestCore(t)
	core.engine = &engine.Simulated{Steps: 1000, StepDelay: 50 * time.Millisecond, OutputDir: t.TempDir()}

	taskID, err := core.Generate(context.Background(), argcontract.DefaultTaskRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	stopped, err := core.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped != 1 {
		t.Errorf("stopped = %d, want 1", stopped)
	}

	rec := waitForFinish(t, core, taskID)
	if rec.StatusText != "Stopped" {
		t.Errorf("StatusText = %q, want Stopped", rec.StatusText)
	}
}

func TestReaperRemovesExpiredFinishedTasks(t *testing.T) {
	core := newTestCore(t)

	taskID, err := core.Generate(context.Background(), argcontract.DefaultTaskRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitForFinish(t, core, taskID)

	time.Sleep(core.taskTTL + 10*time.Millisecond)
	core.reapOnce()

	if _, ok := core.Task(taskID); ok {
		t.Errorf("task %s should have been reaped", taskID)
	}
}
