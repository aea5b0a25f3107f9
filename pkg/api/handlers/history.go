package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gpuforge/dispatch/pkg/history"
)

// History handles GET /history, listing every generated artifact across
// the output directory's date subfolders, newest first.
func (h *Handlers) History(c *fiber.Ctx) error {
	entries, err := history.List(h.OutputDir)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(entries)
}

// HistoryMetadata handles GET /history/metadata/:date/:filename, resolving
// an artifact's generation metadata from the metadata store, falling back
// to its embedded PNG text chunk when no row exists (JPEG and WEBP files
// have no fallback).
func (h *Handlers) HistoryMetadata(c *fiber.Ctx) error {
	date := c.Params("date")
	filename := c.Params("filename")

	meta, scheme, err := history.Metadata(h.Store, h.OutputDir, date, filename)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	var schemeOut any
	if scheme != "" {
		schemeOut = scheme
	}

	return c.JSON(fiber.Map{"metadata": meta, "scheme": schemeOut})
}
