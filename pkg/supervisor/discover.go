package supervisor

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gpuforge/dispatch/pkg/scheduler"
)

// AutoDetectGPUs shells out to nvidia-smi to enumerate CUDA devices, the
// same fallback original_source/modules/gpu_scheduler.py's _auto_detect_gpus
// takes when no gpu_config.json is present. Every device gets weight 1:
// without the config file to say otherwise there's no per-device memory
// figure to weight by, unlike the Python original which read it straight out
// of torch.cuda.get_device_properties.
func AutoDetectGPUs(ctx context.Context) ([]scheduler.GPUConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=index,name", "--format=csv,noheader")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Printf("nvidia-smi unavailable, treating host as single-device: %v", err)
		return nil, nil
	}

	var gpus []scheduler.GPUConfig
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		gpus = append(gpus, scheduler.GPUConfig{
			Device: idx,
			Name:   strings.TrimSpace(parts[1]),
			Weight: 1,
		})
	}

	logger.Printf("auto-detected %d GPU(s)", len(gpus))
	return gpus, nil
}
