package handlers

import (
	"github.com/gofiber/fiber/v2"

	"introspect/internal/services"
)

// ExtractionHandler exposes the extraction queue for operators.
type ExtractionHandler struct {
	extraction *services.ExtractionService
}

// NewExtractionHandler creates a new extraction handler
func NewExtractionHandler(extraction *services.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{extraction: extraction}
}

// Status handles GET /api/extraction/status
func (h *ExtractionHandler) Status(c *fiber.Ctx) error {
	pending, processing, err := h.extraction.QueueDepth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read queue depth",
		})
	}
	return c.JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
	})
}

// Run handles POST /api/extraction/run - drains the queue immediately
// instead of waiting for the next scheduled pass.
func (h *ExtractionHandler) Run(c *fiber.Ctx) error {
	processed, err := h.extraction.ProcessPending(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Queue drain failed",
		})
	}
	return c.JSON(fiber.Map{"processed": processed})
}
