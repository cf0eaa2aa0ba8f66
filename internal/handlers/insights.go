package handlers

import (
	"github.com/gofiber/fiber/v2"

	"introspect/internal/middleware"
	"introspect/internal/services"
)

// InsightHandler exposes synthesized insights, the user summary and the
// insight graph view.
type InsightHandler struct {
	insights *services.InsightService
}

// NewInsightHandler creates a new insight handler
func NewInsightHandler(insights *services.InsightService) *InsightHandler {
	return &InsightHandler{insights: insights}
}

// List handles GET /api/insights?type=belief&include_superseded=true
func (h *InsightHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	includeSuperseded := c.QueryBool("include_superseded", false)
	typeFilter := c.Query("type")

	insights, err := h.insights.ListInsights(c.Context(), userID, includeSuperseded, typeFilter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list insights",
		})
	}
	return c.JSON(fiber.Map{"insights": insights})
}

// Synthesize handles POST /api/insights/synthesize - an on-demand
// synthesis run for the current user.
func (h *InsightHandler) Synthesize(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	created, err := h.insights.SynthesizeForUser(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Synthesis failed",
		})
	}
	return c.JSON(fiber.Map{"created": created})
}

// Summary handles GET /api/me/summary
func (h *InsightHandler) Summary(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	summary, err := h.insights.BuildUserSummary(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build summary",
		})
	}
	return c.JSON(summary)
}

// Graph handles GET /api/insights/graph - the visualization payload.
func (h *InsightHandler) Graph(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	graph, err := h.insights.BuildInsightGraph(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build insight graph",
		})
	}
	return c.JSON(graph)
}
