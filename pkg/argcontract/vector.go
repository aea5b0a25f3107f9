// Package argcontract builds and validates the positional argument vector
// that the Dispatch Gateway hands to a worker's generation engine. The
// vector's shape is a versioned wire contract: position and count matter
// more than field names once it leaves this package.
package argcontract

import (
	"fmt"
	"time"
)

// Version is the argument vector contract version. Workers and the gateway
// must agree on this before a vector built by one is accepted by the other.
const Version = 1

// TaskRequest is the client-facing generation request the gateway accepts
// on POST /generate, translated into an ArgumentVector before dispatch.
type TaskRequest struct {
	Prompt               string
	NegativePrompt       string
	StyleSelections      []string
	PerformanceSelection string
	AspectRatiosSelection string
	ImageNumber          int
	ImageSeed            int64
	SeedRandom           bool
	ImageSharpness       float64
	GuidanceScale        float64
	BaseModelName        string
	RefinerModelName     string
	RefinerSwitch        float64
	SamplerName          string
	SchedulerName        string
	VAEName              string
	OutputFormat         string
	ClipSkip             int
	Loras                [][3]any // [enabled bool, name string, weight float64]
}

// DefaultTaskRequest mirrors the original TaskRequest's Pydantic field
// defaults so a partially-populated request from a minimal JSON body still
// builds a valid vector.
func DefaultTaskRequest() TaskRequest {
	return TaskRequest{
		NegativePrompt:        "",
		StyleSelections:       []string{"Fooocus V2", "Fooocus Enhance", "Fooocus Sharp"},
		PerformanceSelection:  "Speed",
		AspectRatiosSelection: "1024×1024",
		ImageNumber:           1,
		ImageSeed:             -1,
		SeedRandom:            true,
		ImageSharpness:        2.0,
		GuidanceScale:         4.0,
		BaseModelName:         "juggernautXL_v8Rundiffusion.safetensors",
		RefinerModelName:      "None",
		RefinerSwitch:         0.5,
		SamplerName:           "dpmpp_2m_sde_gpu",
		SchedulerName:         "karras",
		VAEName:               "Default (model)",
		OutputFormat:          "png",
		ClipSkip:              2,
		Loras:                 nil,
	}
}

// Layout bounds the vector's variable-length blocks so both Build and
// Validate derive the same expected length.
type Layout struct {
	MaxLoraNumber      int
	ControlNetImages   int
	EnhanceTabs        int
}

// ArgumentVector is the fully positional args contract handed to a worker.
// Index 0 is always the bool generate_image_grid flag, matching the
// original's build_async_task_args layout.
type ArgumentVector []any

// ExpectedLength returns the total element count a vector built under this
// layout must have.
func (l Layout) ExpectedLength() int {
	const (
		head = 15 // generate_image_grid .. refiner_switch
		mid  = 50 // input_image_checkbox block .. metadata_scheme
		cnPerSlot = 4
		enhancePerTab = 16
	)
	return head + l.MaxLoraNumber*3 + mid + l.ControlNetImages*cnPerSlot + 8 /* enhance header block */ + l.EnhanceTabs*enhancePerTab
}

// Build assembles an ArgumentVector from a TaskRequest, filling every
// position the original build_async_task_args populates from config
// defaults and out-of-scope Gradio parameters the engine boundary still
// expects to see.
func Build(req TaskRequest, layout Layout) ArgumentVector {
	seed := req.ImageSeed
	if req.SeedRandom || req.ImageSeed == -1 {
		seed = time.Now().Unix()
	}

	vec := ArgumentVector{
		false, // generate_image_grid
		req.Prompt,
		req.NegativePrompt,
		req.StyleSelections,
		req.PerformanceSelection,
		normalizeAspectRatio(req.AspectRatiosSelection),
		req.ImageNumber,
		req.OutputFormat,
		seed,
		false, // read_wildcards_in_order
		req.ImageSharpness,
		req.GuidanceScale,
		req.BaseModelName,
		req.RefinerModelName,
		req.RefinerSwitch,
	}

	for i := 0; i < layout.MaxLoraNumber; i++ {
		if i < len(req.Loras) {
			vec = append(vec, req.Loras[i][0], req.Loras[i][1], req.Loras[i][2])
		} else {
			vec = append(vec, false, "None", 1.0)
		}
	}

	vec = append(vec,
		false,   // input_image_checkbox
		"uov",   // current_tab
		"disabled", // uov_method
		nil,     // uov_input_image
		[]string{}, // outpaint_selections
		nil,     // inpaint_input_image
		"",      // inpaint_additional_prompt
		nil,     // inpaint_mask_image_upload
		false,   // disable_preview
		false,   // disable_intermediate_results
		false,   // disable_seed_increment
		false,   // default_black_out_nsfw
		1.5,     // adm_scaler_positive
		0.8,     // adm_scaler_negative
		0.3,     // adm_scaler_end
		7.0,     // adaptive_cfg
		req.ClipSkip,
		req.SamplerName,
		req.SchedulerName,
		req.VAEName,
		-1, -1, -1, -1, -1, -1, // overwrite_step .. overwrite_upscale_strength
		false, // mixing_image_prompt_and_vary_upscale
		false, // mixing_image_prompt_and_inpaint
		false, // debugging_cn_preprocessor
		false, // skipping_cn_preprocessor
		64,    // canny_low_threshold
		128,   // canny_high_threshold
		"joint", // refiner_swap_method
		0.25,  // controlnet_softness
		false, // freeu_enabled
		1.1, 1.2, 0.9, 0.2, // freeu_b1, b2, s1, s2
		false,   // debugging_inpaint_preprocessor
		false,   // inpaint_disable_initial_latent
		"None",  // inpaint_engine
		1.0,     // inpaint_strength
		0.0,     // inpaint_respective_field
		false,   // inpaint_advanced_masking_checkbox
		false,   // invert_mask_checkbox
		0,       // inpaint_erode_or_dilate
		false,   // save_final_enhanced_image_only
		true,    // save_metadata_to_images
		"fooocus", // metadata_scheme
	)

	for i := 0; i < layout.ControlNetImages; i++ {
		vec = append(vec, nil, 1.0, 1.0, "ImagePrompt")
	}

	vec = append(vec,
		false, // debugging_dino
		0,     // dino_erode_or_dilate
		false, // debugging_enhance_masks_checkbox
		nil,   // enhance_input_image
		false, // enhance_checkbox
		"disabled", // enhance_uov_method
		"before",   // enhance_uov_processing_order
		"original", // enhance_uov_prompt_type
	)

	for i := 0; i < layout.EnhanceTabs; i++ {
		vec = append(vec,
			false, "", "", "", "None", "None", "None",
			0.3, 0.25, 0, false, "None", 1.0, 0.618, 0, false,
		)
	}

	return vec
}

func normalizeAspectRatio(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '*' {
			out = append(out, '×')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Validate checks a vector built (possibly by a remote caller) against the
// same type/length checks validate_fooocus_args performs in the worker, so
// a malformed vector is rejected before it reaches the engine boundary. A
// layout whose length is not the 152 elements contract Version 1 fixes is
// rejected as well, even when the vector matches that layout.
func Validate(vec ArgumentVector, layout Layout) (bool, string) {
	const contractLength = 152
	expected := layout.ExpectedLength()
	if len(vec) != expected {
		return false, fmt.Sprintf("argument vector length mismatch: got %d, expected %d", len(vec), expected)
	}
	if expected != contractLength {
		return false, fmt.Sprintf("argument vector length mismatch: layout yields %d, contract version %d expects %d", expected, Version, contractLength)
	}
	if _, ok := vec[0].(bool); !ok {
		return false, "argument vector[0] must be bool"
	}
	if _, ok := vec[1].(string); !ok {
		return false, "argument vector[1] must be string"
	}
	if _, ok := vec[2].(string); !ok {
		return false, "argument vector[2] must be string"
	}
	if styles, ok := vec[3].([]string); !ok {
		_ = styles
		return false, "argument vector[3] must be []string"
	}
	if !isNumber(vec[6]) {
		return false, "argument vector[6] must be numeric"
	}
	if !isNumber(vec[8]) {
		return false, "argument vector[8] must be numeric"
	}
	if _, ok := vec[9].(bool); !ok {
		return false, "argument vector[9] must be bool"
	}
	return true, ""
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
