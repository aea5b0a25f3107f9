package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gpuforge/dispatch/pkg/apierr"
	"github.com/gpuforge/dispatch/pkg/argcontract"
)

// generateRequestBody mirrors the original TaskRequest pydantic model
// field-for-field, including its defaults, so a minimal JSON body still
// builds a valid argument vector.
type generateRequestBody struct {
	Prompt                string     `json:"prompt"`
	NegativePrompt        *string    `json:"negative_prompt"`
	StyleSelections       []string   `json:"style_selections"`
	PerformanceSelection  string     `json:"performance_selection"`
	AspectRatiosSelection string     `json:"aspect_ratios_selection"`
	ImageNumber           *int       `json:"image_number"`
	ImageSeed             *int64     `json:"image_seed"`
	SeedRandom            *bool      `json:"seed_random"`
	ImageSharpness        *float64   `json:"image_sharpness"`
	GuidanceScale         *float64   `json:"guidance_scale"`
	BaseModelName         string     `json:"base_model_name"`
	RefinerModelName      string     `json:"refiner_model_name"`
	RefinerSwitch         *float64   `json:"refiner_switch"`
	SamplerName           string     `json:"sampler_name"`
	SchedulerName         string     `json:"scheduler_name"`
	VAEName               string     `json:"vae_name"`
	OutputFormat          string     `json:"output_format"`
	ClipSkip              *int       `json:"clip_skip"`
	Loras                 [][3]any   `json:"loras"`
}

func (b generateRequestBody) toTaskRequest() argcontract.TaskRequest {
	req := argcontract.DefaultTaskRequest()
	req.Prompt = b.Prompt

	if b.NegativePrompt != nil {
		req.NegativePrompt = *b.NegativePrompt
	}
	if len(b.StyleSelections) > 0 {
		req.StyleSelections = b.StyleSelections
	}
	if b.PerformanceSelection != "" {
		req.PerformanceSelection = b.PerformanceSelection
	}
	if b.AspectRatiosSelection != "" {
		req.AspectRatiosSelection = b.AspectRatiosSelection
	}
	if b.ImageNumber != nil {
		req.ImageNumber = *b.ImageNumber
	}
	if b.ImageSeed != nil {
		req.ImageSeed = *b.ImageSeed
	}
	if b.SeedRandom != nil {
		req.SeedRandom = *b.SeedRandom
	}
	if b.ImageSharpness != nil {
		req.ImageSharpness = *b.ImageSharpness
	}
	if b.GuidanceScale != nil {
		req.GuidanceScale = *b.GuidanceScale
	}
	if b.BaseModelName != "" {
		req.BaseModelName = b.BaseModelName
	}
	if b.RefinerModelName != "" {
		req.RefinerModelName = b.RefinerModelName
	}
	if b.RefinerSwitch != nil {
		req.RefinerSwitch = *b.RefinerSwitch
	}
	if b.SamplerName != "" {
		req.SamplerName = b.SamplerName
	}
	if b.SchedulerName != "" {
		req.SchedulerName = b.SchedulerName
	}
	if b.VAEName != "" {
		req.VAEName = b.VAEName
	}
	if b.OutputFormat != "" {
		req.OutputFormat = b.OutputFormat
	}
	if b.ClipSkip != nil {
		req.ClipSkip = *b.ClipSkip
	}
	if len(b.Loras) > 0 {
		req.Loras = b.Loras
	}

	return req
}

// Generate handles POST /generate: parses a TaskRequest body, hands it to
// the DispatchCore, and returns the new task id immediately, matching the
// original's fire-and-forget response shape.
func (h *Handlers) Generate(c *fiber.Ctx) error {
	var body generateRequestBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if body.Prompt == "" {
		return fiber.NewError(fiber.StatusBadRequest, "prompt is required")
	}

	taskID, err := h.Core.Generate(c.Context(), body.toTaskRequest())
	if err != nil {
		return writeAPIError(c, err)
	}

	return c.JSON(fiber.Map{"task_id": taskID, "status": "Started"})
}

// Stop handles POST /stop: cancels every in-flight task, matching the
// original's best-effort stop_generation response shape.
func (h *Handlers) Stop(c *fiber.Ctx) error {
	stopped, err := h.Core.Stop(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "Error stopping",
			"detail": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "Stopping", "stopped_tasks": stopped})
}

// writeAPIError maps an *apierr.Error to its documented HTTP status, or
// falls back to 500 for anything else.
func writeAPIError(c *fiber.Ctx, err error) error {
	if ae, ok := apierr.As(err); ok {
		return c.Status(ae.Status).JSON(fiber.Map{"error": ae.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
