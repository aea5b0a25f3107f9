// Package engine models the boundary to the real diffusion pipeline, which
// is explicitly out of scope: model loading, sampling, and image encoding
// live behind this interface and are never implemented here. What ships in
// this package is a deterministic simulated Engine so the rest of the
// system (scheduler, supervisor, dispatch) has something real to drive
// end-to-end.
package engine

import (
	"context"
	"fmt"
	"time"
)

// ProgressEvent is one step of a generation's lifecycle, matching the
// shape python_worker.py's yields queue produces (preview / results /
// finish flags collapsed into a single tagged struct).
type ProgressEvent struct {
	Percentage int
	StatusText string
	Finished   bool
	Preview    *string
	Results    []string
	Err        error
}

// Engine drives one argument vector to completion, emitting ProgressEvent
// values on the returned channel until Finished is true or the context is
// canceled. The channel is closed once the task reaches a terminal state.
type Engine interface {
	Run(ctx context.Context, taskID string, args []any) <-chan ProgressEvent
}

// Simulated is a deterministic stand-in for the real engine: it produces a
// fixed number of preview steps over a short, configurable duration and then
// "finishes" with a synthetic output path, so dispatch/supervisor code paths
// can be exercised without a GPU or model weights present.
type Simulated struct {
	Steps      int
	StepDelay  time.Duration
	OutputDir  string
}

// NewSimulated builds a Simulated engine with reasonable defaults.
func NewSimulated(outputDir string) *Simulated {
	return &Simulated{Steps: 10, StepDelay: 150 * time.Millisecond, OutputDir: outputDir}
}

func (s *Simulated) Run(ctx context.Context, taskID string, args []any) <-chan ProgressEvent {
	out := make(chan ProgressEvent, 1)

	go func() {
		defer close(out)

		steps := s.Steps
		if steps <= 0 {
			steps = 1
		}

		for i := 1; i <= steps; i++ {
			select {
			case <-ctx.Done():
				out <- ProgressEvent{
					Percentage: 0,
					StatusText: "Stopped",
					Finished:   true,
					Results:    []string{},
					Err:        ctx.Err(),
				}
				return
			case <-time.After(s.StepDelay):
			}

			pct := (i * 100) / steps
			out <- ProgressEvent{
				Percentage: pct,
				StatusText: fmt.Sprintf("Sampling step %d/%d", i, steps),
				Finished:   false,
				Results:    []string{},
			}
		}

		filename := fmt.Sprintf("%s/task_%s.png", time.Now().Format("2006-01-02"), taskID)
		out <- ProgressEvent{
			Percentage: 100,
			StatusText: "Finished",
			Finished:   true,
			Results:    []string{filename},
		}
	}()

	return out
}
