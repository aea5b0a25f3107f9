package engine

import (
	"context"
	"testing"
	"time"
)

func TestSimulatedRunReachesFinished(t *testing.T) {
	e := &Simulated{Steps: 3, StepDelay: time.Millisecond, OutputDir: "/tmp/outputs"}

	var last ProgressEvent
	for ev := range e.Run(context.Background(), "task-1", nil) {
		last = ev
	}

	if !last.Finished {
		t.Fatalf("expected last event to be Finished")
	}
	if last.Percentage != 100 {
		t.Errorf("Percentage = %d, want 100", last.Percentage)
	}
	if len(last.Results) != 1 {
		t.Fatalf("Results = %v, want one entry", last.Results)
	}
}

func TestSimulatedRunStopsOnContextCancel(t *testing.T) {
	e := &Simulated{Steps: 100, StepDelay: 20 * time.Millisecond, OutputDir: "/tmp/outputs"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	var last ProgressEvent
	for ev := range e.Run(ctx, "task-2", nil) {
		last = ev
	}

	if !last.Finished {
		t.Fatalf("expected cancellation to produce a terminal event")
	}
	if last.Err == nil {
		t.Errorf("expected Err to be set on cancellation")
	}
}
