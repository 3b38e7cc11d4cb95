package handlers

import (
	"time"

	"variantlab/internal/posthog"
	"variantlab/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	hub     *services.LiveUpdateHub
	backend services.RecordingBackend
	vendor  *posthog.Client
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(hub *services.LiveUpdateHub, backend services.RecordingBackend, vendor *posthog.Client) *HealthHandler {
	return &HealthHandler{hub: hub, backend: backend, vendor: vendor}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":      "healthy",
		"subscribers": h.hub.Count(),
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if h.backend != nil {
		resp["backend"] = h.backend.Name()
	}
	if h.vendor != nil {
		resp["vendorConnected"] = h.vendor.Connected()
	}
	return c.JSON(resp)
}
