package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"variantlab/internal/posthog"

	"github.com/gofiber/fiber/v2"
)

func newAnalyticsApp(t *testing.T, vendor http.HandlerFunc, personalKey string) *fiber.App {
	t.Helper()

	server := httptest.NewServer(vendor)
	t.Cleanup(server.Close)

	client := posthog.NewClient(posthog.Config{
		Host:           server.URL,
		APIKey:         "phc_test",
		PersonalAPIKey: personalKey,
		ProjectID:      "42",
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Disconnect)

	handler := NewAnalyticsHandler(client)
	app := fiber.New()
	app.Get("/api/analytics/heatmap", handler.Heatmap)
	app.Get("/api/analytics/experiments/:id/results", handler.ExperimentResults)
	app.Get("/api/analytics/cohorts", handler.Cohorts)
	return app
}

func TestAnalyticsHandler_PassThrough(t *testing.T) {
	var gotPath, gotAuth string
	app := newAnalyticsApp(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"x":1}]}`))
	}, "phx_personal")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/analytics/heatmap?url=https://example.com/&type=click", nil), -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	if string(body) != `{"results":[{"x":1}]}` {
		t.Errorf("Expected body to pass through unchanged, got %s", body)
	}
	if gotPath != "/api/projects/42/heatmaps/" {
		t.Errorf("Unexpected vendor path %q", gotPath)
	}
	if gotAuth != "Bearer phx_personal" {
		t.Errorf("Unexpected authorization header %q", gotAuth)
	}
}

func TestAnalyticsHandler_Errors(t *testing.T) {
	tests := []struct {
		name           string
		personalKey    string
		vendorStatus   int
		url            string
		expectedStatus int
	}{
		{"heatmap without url", "phx", http.StatusOK, "/api/analytics/heatmap", fiber.StatusBadRequest},
		{"query not configured", "", http.StatusOK, "/api/analytics/cohorts", fiber.StatusServiceUnavailable},
		{"vendor rejects", "phx", http.StatusForbidden, "/api/analytics/experiments/7/results", fiber.StatusBadGateway},
		{"vendor down", "phx", http.StatusServiceUnavailable, "/api/analytics/cohorts", fiber.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newAnalyticsApp(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.vendorStatus)
				w.Write([]byte(`{"detail":"nope"}`))
			}, tt.personalKey)

			resp, err := app.Test(httptest.NewRequest("GET", tt.url, nil), -1)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
		})
	}
}
