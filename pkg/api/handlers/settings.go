package handlers

import "github.com/gofiber/fiber/v2"

// Settings handles GET /settings, returning the full capability snapshot.
func (h *Handlers) Settings(c *fiber.Ctx) error {
	return c.JSON(h.Registry.Snapshot())
}

// Presets handles GET /presets, returning the names of every available
// preset bundle.
func (h *Handlers) Presets(c *fiber.Ctx) error {
	names, err := h.Registry.ListPresets()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"presets": names})
}

// PresetDetails handles GET /presets/:name, returning the raw content of a
// named preset bundle.
func (h *Handlers) PresetDetails(c *fiber.Ctx) error {
	name := c.Params("name")

	content, err := h.Registry.PresetContent(name)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "preset not found")
	}
	return c.JSON(content)
}
