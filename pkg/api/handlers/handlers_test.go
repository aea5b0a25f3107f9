package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gpuforge/dispatch/pkg/argcontract"
	"github.com/gpuforge/dispatch/pkg/dispatch"
	"github.com/gpuforge/dispatch/pkg/engine"
	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/settings"
)

func newTestHandlers(t *testing.T) (*Handlers, *fiber.App) {
	t.Helper()
	dir := t.TempDir()

	store, err := metadata.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	core := dispatch.New(dispatch.Options{
		Store:                store,
		Engine:               &engine.Simulated{Steps: 2, StepDelay: 2 * time.Millisecond, OutputDir: dir},
		Layout:               argcontract.Layout{MaxLoraNumber: 5, ControlNetImages: 4, EnhanceTabs: 3},
		OutputDir:            dir,
		ProgressPollInterval: 5 * time.Millisecond,
		TaskTTL:              time.Minute,
	})

	registry := settings.NewRegistry(settings.DefaultSnapshot(), filepath.Join(dir, "presets"), "", "")

	h := New(core, registry, store, dir)
	app := fiber.New()
	return h, app
}

func TestGenerateReturnsTaskID(t *testing.T) {
	h, app := newTestHandlers(t)
	app.Post("/generate", h.Generate)

	body, _ := json.Marshal(map[string]any{"prompt": "a cat wearing sunglasses"})
	req := httptest.NewRequest(fiber.MethodPost, "/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["task_id"] == "" || out["task_id"] == nil {
		t.Errorf("task_id missing: %v", out)
	}
}

func TestGenerateRejectsMissingPrompt(t *testing.T) {
	h, app := newTestHandlers(t)
	app.Post("/generate", h.Generate)

	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(fiber.MethodPost, "/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSettingsReturnsSnapshot(t *testing.T) {
	h, app := newTestHandlers(t)
	app.Get("/settings", h.Settings)

	req := httptest.NewRequest(fiber.MethodGet, "/settings", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out["samplers"]; !ok {
		t.Errorf("missing samplers field: %v", out)
	}
}

func TestHistoryReturnsEmptyListWhenNoArtifacts(t *testing.T) {
	h, app := newTestHandlers(t)
	app.Get("/history", h.History)

	req := httptest.NewRequest(fiber.MethodGet, "/history", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStopReturnsZeroWhenNothingRunning(t *testing.T) {
	h, app := newTestHandlers(t)
	app.Post("/stop", h.Stop)

	req := httptest.NewRequest(fiber.MethodPost, "/stop", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["stopped_tasks"] != float64(0) {
		t.Errorf("stopped_tasks = %v, want 0", out["stopped_tasks"])
	}
}
