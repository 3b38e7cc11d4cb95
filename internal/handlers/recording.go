package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"variantlab/internal/models"
	"variantlab/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RecordingHandler serves the recording ingest and dashboard endpoints
type RecordingHandler struct {
	store    *services.RecordingService
	query    *services.RecordingQueryService
	exporter *services.ExportService
}

// NewRecordingHandler creates a new recording handler
func NewRecordingHandler(store *services.RecordingService, query *services.RecordingQueryService, exporter *services.ExportService) *RecordingHandler {
	return &RecordingHandler{
		store:    store,
		query:    query,
		exporter: exporter,
	}
}

// Upsert stores the full snapshot of a recording
// POST /api/recordings
func (h *RecordingHandler) Upsert(c *fiber.Ctx) error {
	var rec models.SessionRecording
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	stored, err := h.store.Upsert(c.Context(), &rec)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRecording) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		}

		log.Printf("❌ [RECORDINGS] Failed to store %s: %v", rec.Key(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   services.ErrStoreFailure.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"filename": stored.Filename,
		"path":     stored.Path,
	})
}

// Get returns one recording when sessionId is given, otherwise the metadata listing
// GET /api/recordings?sessionId=<id>
// GET /api/recordings?version=<v>
func (h *RecordingHandler) Get(c *fiber.Ctx) error {
	if sessionID := c.Query("sessionId"); sessionID != "" {
		rec, err := h.query.Get(c.Context(), sessionID)
		if err != nil {
			if errors.Is(err, services.ErrRecordingNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Recording not found",
				})
			}
			log.Printf("❌ [RECORDINGS] Failed to load session %s: %v", sessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load recording",
			})
		}
		return c.JSON(rec)
	}

	recordings, err := h.query.List(c.Context(), c.Query("version"))
	if err != nil {
		log.Printf("❌ [RECORDINGS] Failed to list recordings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list recordings",
		})
	}

	return c.JSON(fiber.Map{
		"recordings": recordings,
	})
}

// Export returns the metadata listing as a spreadsheet
// GET /api/recordings/export?version=<v>
func (h *RecordingHandler) Export(c *fiber.Ctx) error {
	version := c.Query("version")

	data, err := h.exporter.ExportXLSX(c.Context(), version)
	if err != nil {
		log.Printf("❌ [RECORDINGS] Export failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export recordings",
		})
	}

	filename := exportFilename(version, time.Now().UTC())

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}

// exportFilename names an export. Characters outside [A-Za-z0-9._-] in version become "_".
func exportFilename(version string, now time.Time) string {
	name := "recordings"
	if version != "" {
		name += "-" + strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
				return r
			}
			return '_'
		}, version)
	}
	return fmt.Sprintf("%s-%s.xlsx", name, now.Format("20060102-150405"))
}
