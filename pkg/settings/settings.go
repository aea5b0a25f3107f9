// Package settings implements the Settings Surface (C7): a read-only
// capability snapshot (models, samplers, presets) the client queries before
// building a TaskRequest.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is the full capability report returned by GET /settings,
// matching the original's get_settings() response shape field-for-field.
type Snapshot struct {
	Models             []string `json:"models"`
	Loras              []string `json:"loras"`
	VAEs               []string `json:"vaes"`
	AspectRatios       []string `json:"aspect_ratios"`
	PerformanceOptions []string `json:"performance_options"`
	Styles             []string `json:"styles"`
	Presets            []string `json:"presets"`
	Samplers           []string `json:"samplers"`
	Schedulers         []string `json:"schedulers"`
	OutputFormats      []string `json:"output_formats"`
	ClipSkipMax        int      `json:"clip_skip_max"`
	DefaultLoraCount   int      `json:"default_lora_count"`
}

// modelExtensions are the checkpoint/LoRA weight file extensions Snapshot
// scans for in ModelDir/LoraDir, matching the extensions the original's
// init_cache model/LoRA cache accepts.
var modelExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".bin":         true,
}

// DefaultSnapshot returns the fixed capability set this system ships with,
// used as the fallback when ModelDir/LoraDir are unset or empty.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Models:             []string{"juggernautXL_v8Rundiffusion.safetensors"},
		Loras:              []string{"None"},
		VAEs:               []string{"Default (model)"},
		AspectRatios:       []string{"704×1408", "832×1216", "960×1088", "1024×1024", "1088×960", "1216×832", "1408×704"},
		PerformanceOptions: []string{"Quality", "Speed", "Extreme Speed", "Lightning"},
		Styles:             []string{"Fooocus V2", "Fooocus Enhance", "Fooocus Sharp"},
		Presets:            []string{"default"},
		Samplers:           []string{"dpmpp_2m_sde_gpu", "euler", "euler_ancestral", "dpmpp_2m_sde"},
		Schedulers:         []string{"karras", "normal", "simple"},
		OutputFormats:      []string{"png", "jpeg", "webp"},
		ClipSkipMax:        12,
		DefaultLoraCount:   5,
	}
}

// Registry reads models/loras from disk directories when present, falling
// back to DefaultSnapshot's fixed lists otherwise, and serves named preset
// bundles authored as YAML files on disk.
type Registry struct {
	base      Snapshot
	presetDir string
	modelDir  string
	loraDir   string
}

// NewRegistry builds a Registry seeded from base, serving presets out of
// presetDir (each preset a `<name>.yaml` file) and models/LoRAs out of
// modelDir/loraDir. Either directory may be empty, in which case Snapshot
// serves base's fixed Models/Loras lists unchanged.
func NewRegistry(base Snapshot, presetDir, modelDir, loraDir string) *Registry {
	return &Registry{base: base, presetDir: presetDir, modelDir: modelDir, loraDir: loraDir}
}

// Snapshot returns the capability report, refreshing the Models/Loras lists
// from modelDir/loraDir when those directories exist and contain weight
// files, falling back to base's fixed lists otherwise.
func (r *Registry) Snapshot() Snapshot {
	out := r.base
	if names, ok := scanWeights(r.modelDir); ok {
		out.Models = names
	}
	if names, ok := scanWeights(r.loraDir); ok {
		out.Loras = names
	}
	return out
}

// scanWeights lists the checkpoint/LoRA weight files directly under dir, ok
// is false when dir is empty, missing, or contains no recognized weight
// file, so the caller keeps its fallback list.
func scanWeights(dir string) (names []string, ok bool) {
	if dir == "" {
		return nil, false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if modelExtensions[filepath.Ext(e.Name())] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sort.Strings(names)
	return names, true
}

// ListPresets returns the names of every preset bundle available, derived
// from the YAML files present in presetDir.
func (r *Registry) ListPresets() ([]string, error) {
	entries, err := os.ReadDir(r.presetDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r.base.Presets, nil
		}
		return nil, fmt.Errorf("list presets: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return r.base.Presets, nil
	}
	return names, nil
}

// PresetContent loads and re-marshals a named preset bundle as a generic
// map, matching try_get_preset_content's "opaque JSON passthrough"
// contract.
func (r *Registry) PresetContent(name string) (map[string]any, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(r.presetDir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read preset %s: %w", name, err)
		}

		var content map[string]any
		if err := yaml.Unmarshal(data, &content); err != nil {
			return nil, fmt.Errorf("parse preset %s: %w", name, err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("preset not found: %s", name)
}
