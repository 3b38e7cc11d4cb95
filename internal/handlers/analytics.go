package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"variantlab/internal/posthog"

	"github.com/gofiber/fiber/v2"
)

// AnalyticsHandler passes vendor analytics through unchanged
type AnalyticsHandler struct {
	client *posthog.Client
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(client *posthog.Client) *AnalyticsHandler {
	return &AnalyticsHandler{client: client}
}

// Heatmap returns heatmap data for a page
// GET /api/analytics/heatmap?url=&type=&date_from=
func (h *AnalyticsHandler) Heatmap(c *fiber.Ctx) error {
	var params posthog.HeatmapParams
	if err := c.QueryParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid query parameters"})
	}
	if params.PageURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url is required"})
	}

	data, err := h.client.Heatmap(c.Context(), params)
	return h.respond(c, "heatmap", data, err)
}

// ExperimentResults returns the vendor's results for an experiment
// GET /api/analytics/experiments/:id/results
func (h *AnalyticsHandler) ExperimentResults(c *fiber.Ctx) error {
	params := posthog.ExperimentResultsParams{ExperimentID: c.Params("id")}
	data, err := h.client.ExperimentResults(c.Context(), params)
	return h.respond(c, "experiment results", data, err)
}

// Cohorts lists vendor cohorts
// GET /api/analytics/cohorts?search=&limit=
func (h *AnalyticsHandler) Cohorts(c *fiber.Ctx) error {
	var params posthog.CohortParams
	if err := c.QueryParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid query parameters"})
	}

	data, err := h.client.Cohorts(c.Context(), params)
	return h.respond(c, "cohorts", data, err)
}

func (h *AnalyticsHandler) respond(c *fiber.Ctx, what string, data json.RawMessage, err error) error {
	if err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	}

	var apiErr *posthog.APIError
	switch {
	case errors.Is(err, posthog.ErrQueryNotConfigured), errors.Is(err, posthog.ErrNotConnected):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analytics vendor not configured",
		})
	case errors.As(err, &apiErr):
		log.Printf("⚠️  [ANALYTICS] Vendor rejected %s query: %v", what, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":        "Analytics vendor error",
			"vendorStatus": apiErr.StatusCode,
		})
	default:
		log.Printf("❌ [ANALYTICS] %s query failed: %v", what, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Analytics vendor unavailable",
		})
	}
}
