// Package config loads gateway configuration from the environment, with
// flag overrides applied by the caller (cmd/gateway mirrors the
// load-then-override shape the original console entrypoint used).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the Dispatch Gateway needs at startup.
type Config struct {
	Host string
	Port int

	DevMode bool

	GPUConfigPath  string
	OutputDir      string
	MetadataDBPath string
	PresetDir      string
	ModelDir       string
	LoraDir        string
	WorkerBinary   string

	WorkerStartupTimeout time.Duration
	WorkerStopTimeout    time.Duration

	TaskTTL               time.Duration
	WSBroadcastInterval   time.Duration
	ProgressPollInterval  time.Duration
	WorkerRPCMode         string
	SlackWebhookURL       string
	DefaultMaxLoraNumber  int
	DefaultControlNetImgs int
	DefaultEnhanceTabs    int
}

// LoadFromEnv reads every setting from the environment, falling back to
// documented defaults for anything unset.
func LoadFromEnv() Config {
	return Config{
		Host: getString("HOST", "0.0.0.0"),
		Port: getInt("PORT", 8888),

		DevMode: getBool("DEV_MODE", false),

		GPUConfigPath:  getString("GPU_CONFIG_PATH", "./gpu_config.json"),
		OutputDir:      getString("OUTPUT_DIR", "./outputs"),
		MetadataDBPath: getString("METADATA_DB_PATH", "./outputs/metadata.db"),
		PresetDir:      getString("PRESET_DIR", "./presets"),
		ModelDir:       getString("MODEL_DIR", "./models/checkpoints"),
		LoraDir:        getString("LORA_DIR", "./models/loras"),
		WorkerBinary:   getString("WORKER_BINARY", "./worker"),

		WorkerStartupTimeout: getDuration("WORKER_STARTUP_TIMEOUT", 30*time.Second),
		WorkerStopTimeout:    getDuration("WORKER_STOP_TIMEOUT", 5*time.Second),

		TaskTTL:              getDuration("TASK_TTL", 60*time.Second),
		WSBroadcastInterval:  getDuration("WS_BROADCAST_INTERVAL", 500*time.Millisecond),
		ProgressPollInterval: getDuration("PROGRESS_POLL_INTERVAL", 100*time.Millisecond),
		WorkerRPCMode:        getString("WORKER_RPC_MODE", "http"),
		SlackWebhookURL:      getString("SLACK_WEBHOOK_URL", ""),

		DefaultMaxLoraNumber:  getInt("DEFAULT_MAX_LORA_NUMBER", 5),
		DefaultControlNetImgs: getInt("DEFAULT_CONTROLNET_IMAGE_COUNT", 4),
		DefaultEnhanceTabs:    getInt("DEFAULT_ENHANCE_TABS", 3),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
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

func getInt(key string, def int) int {
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

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// EnsureDir creates the parent directory of path if it doesn't exist,
// mirroring the original console entrypoint's ensureDir helper.
func EnsureDir(path string) error {
	dir := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			dir = path[:i]
			break
		}
	}
	if dir == path || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
