package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListPresetsFallsBackToDefaultWhenDirMissing(t *testing.T) {
	r := NewRegistry(DefaultSnapshot(), filepath.Join(t.TempDir(), "does-not-exist"), "", "")

	names, err := r.ListPresets()
	if err != nil {
		t.Fatalf("ListPresets: %v", err)
	}
	if len(names) != 1 || names[0] != "default" {
		t.Errorf("names = %v, want [default]", names)
	}
}

func TestPresetContentReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cinematic.yaml"), []byte("style: cinematic\nguidance_scale: 7.5\n"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	r := NewRegistry(DefaultSnapshot(), dir, "", "")
	content, err := r.PresetContent("cinematic")
	if err != nil {
		t.Fatalf("PresetContent: %v", err)
	}
	if content["style"] != "cinematic" {
		t.Errorf("style = %v", content["style"])
	}
}

func TestPresetContentReturnsErrorWhenMissing(t *testing.T) {
	r := NewRegistry(DefaultSnapshot(), t.TempDir(), "", "")
	if _, err := r.PresetContent("nonexistent"); err == nil {
		t.Fatalf("expected error for missing preset")
	}
}

func TestSnapshotScansModelAndLoraDirs(t *testing.T) {
	modelDir := t.TempDir()
	loraDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modelDir, "realvis.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(loraDir, "add_detail.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write lora: %v", err)
	}

	r := NewRegistry(DefaultSnapshot(), t.TempDir(), modelDir, loraDir)
	snap := r.Snapshot()

	if len(snap.Models) != 1 || snap.Models[0] != "realvis.safetensors" {
		t.Errorf("Models = %v, want [realvis.safetensors]", snap.Models)
	}
	if len(snap.Loras) != 1 || snap.Loras[0] != "add_detail.safetensors" {
		t.Errorf("Loras = %v, want [add_detail.safetensors]", snap.Loras)
	}
}

func TestSnapshotFallsBackWhenModelDirEmpty(t *testing.T) {
	r := NewRegistry(DefaultSnapshot(), t.TempDir(), filepath.Join(t.TempDir(), "missing"), "")
	snap := r.Snapshot()

	if len(snap.Models) != 1 || snap.Models[0] != "juggernautXL_v8Rundiffusion.safetensors" {
		t.Errorf("Models = %v, want the default fallback list", snap.Models)
	}
}
