package handlers

import (
	"variantlab/internal/models"
	"variantlab/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// ExperimentHandler serves variant resolution and conversion tracking
type ExperimentHandler struct {
	service *services.ExperimentService
}

// NewExperimentHandler creates a new experiment handler
func NewExperimentHandler(service *services.ExperimentService) *ExperimentHandler {
	return &ExperimentHandler{service: service}
}

// Catalog lists the configured experiments
// GET /api/experiments
func (h *ExperimentHandler) Catalog(c *fiber.Ctx) error {
	catalog := h.service.Catalog()
	if catalog == nil {
		return c.JSON(fiber.Map{"experiments": []models.Experiment{}})
	}
	return c.JSON(catalog)
}

// Variant resolves the visitor's variant. Always 200; failures come back as control with fallback=true.
// GET /api/experiments/:flagKey/variant?distinctId=<id>
func (h *ExperimentHandler) Variant(c *fiber.Ctx) error {
	// Both values outlive the request in queued flow events and metric labels
	flagKey := utils.CopyString(c.Params("flagKey"))
	distinctID := utils.CopyString(c.Query("distinctId"))

	res := h.service.ResolveVariant(c.Context(), flagKey, distinctID)
	return c.JSON(res)
}

// TrackConversion queues a conversion
// POST /api/experiments/conversions
func (h *ExperimentHandler) TrackConversion(c *fiber.Ctx) error {
	var req models.ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Type == "" || req.FlagKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "type and flagKey are required",
		})
	}

	event := h.service.TrackConversion(req)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":          true,
		"insertId":          event.InsertID,
		"experimentVariant": event.ExperimentVariant,
	})
}

// TrackFlow queues a funnel step
// POST /api/experiments/flow
func (h *ExperimentHandler) TrackFlow(c *fiber.Ctx) error {
	var req models.FlowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Step == "" || req.FlagKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "step and flagKey are required",
		})
	}

	event := h.service.TrackFlow(req.Step, req.FlagKey, req.DistinctID, req.Extra)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"insertId": event.InsertID,
	})
}
