// Command gateway is the Dispatch Gateway entrypoint: it loads
// configuration, builds the GPU scheduler and worker supervisor, wires a
// DispatchCore, and serves the HTTP/WebSocket surface until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gpuforge/dispatch/pkg/api"
	"github.com/gpuforge/dispatch/pkg/argcontract"
	"github.com/gpuforge/dispatch/pkg/config"
	"github.com/gpuforge/dispatch/pkg/dispatch"
	"github.com/gpuforge/dispatch/pkg/engine"
	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/metrics"
	"github.com/gpuforge/dispatch/pkg/notify"
	"github.com/gpuforge/dispatch/pkg/scheduler"
	"github.com/gpuforge/dispatch/pkg/settings"
	"github.com/gpuforge/dispatch/pkg/supervisor"
)

func main() {
	_ = godotenv.Load()

	devMode := flag.Bool("dev", false, "Run in development mode")
	port := flag.Int("port", 0, "Server port (default: 8888)")
	host := flag.String("host", "", "Server host (default: 0.0.0.0)")
	flag.Parse()

	cfg := config.LoadFromEnv()
	if *devMode {
		cfg.DevMode = true
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *host != "" {
		cfg.Host = *host
	}

	if err := config.EnsureDir(cfg.MetadataDBPath); err != nil {
		log.Fatalf("ensure metadata dir: %v", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("ensure output dir: %v", err)
	}

	fmt.Println(`
  __ _ _ __  _   _
 / _` + "`" + ` | '_ \| | | |
| (_| | |_) | |_| |
 \__, | .__/ \__,_|
 |___/|_|
GPU Dispatch Gateway
`)

	sched := loadScheduler(cfg)

	var sup *supervisor.Supervisor
	if sched.Enabled() {
		sup = supervisor.New(supervisor.Options{
			WorkerBinary:   cfg.WorkerBinary,
			RPCMode:        cfg.WorkerRPCMode,
			StartupTimeout: cfg.WorkerStartupTimeout,
			StopTimeout:    cfg.WorkerStopTimeout,
		})
	}

	store, err := metadata.Open(cfg.MetadataDBPath)
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	defer store.Close()

	settingsRegistry := settings.NewRegistry(settings.DefaultSnapshot(), cfg.PresetDir, cfg.ModelDir, cfg.LoraDir)
	notifier := notify.NewSlackNotifier(cfg.SlackWebhookURL)

	core := dispatch.New(dispatch.Options{
		Scheduler:  sched,
		Supervisor: sup,
		Store:      store,
		Engine:     engine.NewSimulated(cfg.OutputDir),
		Notifier:   notifier,
		Layout: argcontract.Layout{
			MaxLoraNumber:    cfg.DefaultMaxLoraNumber,
			ControlNetImages: cfg.DefaultControlNetImgs,
			EnhanceTabs:      cfg.DefaultEnhanceTabs,
		},
		OutputDir:            cfg.OutputDir,
		ProgressPollInterval: cfg.ProgressPollInterval,
		TaskTTL:              cfg.TaskTTL,
	})

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	go core.RunReaper(reaperCtx, cfg.TaskTTL)

	if sched.Enabled() {
		watchCtx, cancelWatch := context.WithCancel(context.Background())
		defer cancelWatch()
		go func() {
			if err := scheduler.WatchConfigFile(watchCtx, cfg.GPUConfigPath); err != nil {
				log.Printf("gpu config watcher stopped: %v", err)
			}
		}()
	}

	server := api.NewServer(api.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		OutputDir: cfg.OutputDir,
		DevMode:   cfg.DevMode,
	}, core, settingsRegistry, store)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		core.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// loadScheduler loads GPU configuration from disk, falling back to
// nvidia-smi auto-detection, matching the original's config-file-else-
// auto-detect policy (spec.md's auto-detection weight formula requires
// per-device memory figures this host-side detection doesn't have, so every
// auto-detected device gets weight 1 — see pkg/supervisor.AutoDetectGPUs).
func loadScheduler(cfg config.Config) *scheduler.Scheduler {
	if sched, err := scheduler.LoadFromFile(cfg.GPUConfigPath); err == nil {
		return sched
	}

	gpus, err := supervisor.AutoDetectGPUs(context.Background())
	if err != nil || len(gpus) == 0 {
		return scheduler.New(nil)
	}
	return scheduler.New(gpus)
}
