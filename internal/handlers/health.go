package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"introspect/internal/database"
)

// HealthHandler reports service liveness and backing store reachability.
type HealthHandler struct {
	db      *database.DB
	mongodb *database.MongoDB
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, mongodb *database.MongoDB) *HealthHandler {
	return &HealthHandler{db: db, mongodb: mongodb}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	status := fiber.Map{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		status["mysql"] = "unreachable"
		healthy = false
	} else {
		status["mysql"] = "ok"
	}

	if err := h.mongodb.Ping(ctx); err != nil {
		status["mongodb"] = "unreachable"
		healthy = false
	} else {
		status["mongodb"] = "ok"
	}

	if !healthy {
		status["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}
