// Package scheduler implements the weighted round-robin GPU selection the
// Dispatch Gateway uses to pick which worker a task is routed to.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)

// GPUConfig describes one configured device: its CUDA device index, a
// display name, and its scheduling weight relative to its siblings.
type GPUConfig struct {
	Device int    `json:"device"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type fileConfig struct {
	Enabled bool        `json:"enabled"`
	GPUs    []gpuConfigJSON `json:"gpus"`
}

type gpuConfigJSON struct {
	Device int    `json:"device"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Scheduler is a weighted round-robin selector over a fixed set of GPUs. A
// device with a higher remaining weight is preferred each round; weights
// reset to their configured value once every device has been exhausted.
type Scheduler struct {
	mu sync.Mutex

	gpus    []GPUConfig
	enabled bool

	currentWeights []int
	busy           map[int]bool
}

// LoadFromFile loads GPU configuration from a JSON file shaped like
// {"enabled": true, "gpus": [{"device":0,"name":"...","weight":1}, ...]}. A
// missing or unusable file is not an error here: the caller decides whether
// to fall back to auto-detection or the single-device in-process path.
func LoadFromFile(path string) (*Scheduler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gpu config: %w", err)
	}

	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse gpu config: %w", err)
	}

	s := &Scheduler{busy: make(map[int]bool)}
	if !cfg.Enabled {
		logger.Printf("disabled in config")
		return s, nil
	}

	for _, g := range cfg.GPUs {
		weight := g.Weight
		if weight <= 0 {
			weight = 1
		}
		name := g.Name
		if name == "" {
			name = fmt.Sprintf("GPU %d", g.Device)
		}
		gpu := GPUConfig{Device: g.Device, Name: name, Weight: weight}
		s.gpus = append(s.gpus, gpu)
		s.busy[gpu.Device] = false
	}

	s.enabled = len(s.gpus) > 0
	s.resetWeights()

	logger.Printf("loaded %d GPUs", len(s.gpus))
	for _, g := range s.gpus {
		logger.Printf("  - device %d: %s (weight %d)", g.Device, g.Name, g.Weight)
	}

	return s, nil
}

// New builds a Scheduler directly from an explicit GPU list, used by the
// auto-detect path and by tests.
func New(gpus []GPUConfig) *Scheduler {
	s := &Scheduler{
		gpus:    gpus,
		enabled: len(gpus) > 1,
		busy:    make(map[int]bool, len(gpus)),
	}
	for _, g := range gpus {
		s.busy[g.Device] = false
	}
	s.resetWeights()
	return s
}

func (s *Scheduler) resetWeights() {
	s.currentWeights = make([]int, len(s.gpus))
	for i, g := range s.gpus {
		s.currentWeights[i] = g.Weight
	}
}

// Enabled reports whether multi-GPU dispatch is active. When false the
// caller should drive generation in-process on a single device instead of
// routing through Select.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Count returns the number of configured GPUs, enabled or not.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gpus)
}

// Select picks the next device using weighted round-robin: the free device
// with the highest remaining weight wins; if all devices are busy, the
// highest-weight device is returned anyway so the caller can queue against
// it. Returns false if the scheduler is disabled or has no devices at all.
func (s *Scheduler) Select() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || len(s.gpus) == 0 {
		return 0, false
	}

	bestIdx := -1
	bestWeight := -1
	for i, g := range s.gpus {
		if !s.busy[g.Device] && s.currentWeights[i] > bestWeight {
			bestIdx = i
			bestWeight = s.currentWeights[i]
		}
	}

	if bestIdx == -1 {
		for i, g := range s.gpus {
			_ = g
			if s.currentWeights[i] > bestWeight {
				bestIdx = i
				bestWeight = s.currentWeights[i]
			}
		}
	}

	if bestIdx == -1 {
		return s.gpus[0].Device, true
	}

	s.currentWeights[bestIdx]--

	allExhausted := true
	for _, w := range s.currentWeights {
		if w > 0 {
			allExhausted = false
			break
		}
	}
	if allExhausted {
		s.resetWeights()
	}

	return s.gpus[bestIdx].Device, true
}

// MarkBusy flags a device as busy or free.
func (s *Scheduler) MarkBusy(device int, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[device] = busy
}

// IsBusy reports whether a device is currently marked busy.
func (s *Scheduler) IsBusy(device int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[device]
}

// FreeDevice returns a device that is not currently busy, or false if every
// configured device is busy.
func (s *Scheduler) FreeDevice() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gpus {
		if !s.busy[g.Device] {
			return g.Device, true
		}
	}
	return 0, false
}

// GPUs returns a copy of the configured device list.
func (s *Scheduler) GPUs() []GPUConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GPUConfig, len(s.gpus))
	copy(out, s.gpus)
	return out
}

// WatchConfigFile watches path for writes and logs a restart-required
// warning on each one. It never reconfigures a running Scheduler: GPU
// weights and worker assignments are fixed at startup, so this only
// surfaces the file-changed signal to the operator. Blocks until ctx is
// canceled.
func WatchConfigFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Printf("%s changed, restart the gateway to pick up new GPU assignments", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watcher error: %v", err)
		}
	}
}
