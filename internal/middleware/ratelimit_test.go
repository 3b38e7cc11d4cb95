package middleware

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_GLOBAL_API", "42")

	cfg := LoadRateLimitConfig("production", 7)
	if cfg.IngestMax != 7 {
		t.Errorf("Expected ingest max 7, got %d", cfg.IngestMax)
	}
	if cfg.GlobalAPIMax != 42 {
		t.Errorf("Expected global max from env, got %d", cfg.GlobalAPIMax)
	}

	dev := LoadRateLimitConfig("development", 0)
	if dev.IngestMax != DefaultRateLimitConfig().IngestMax {
		t.Errorf("Expected default ingest max, got %d", dev.IngestMax)
	}
	if dev.GlobalAPIMax != 5000 {
		t.Errorf("Expected relaxed global limit in development, got %d", dev.GlobalAPIMax)
	}
}

func TestIngestRateLimiter_PerSession(t *testing.T) {
	cfg := &RateLimitConfig{IngestMax: 2, IngestExpiration: time.Minute}

	app := fiber.New()
	app.Post("/api/recordings", IngestRateLimiter(cfg, nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	post := func(body string) int {
		req := httptest.NewRequest("POST", "/api/recordings", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	first := `{"sessionId":"s1","version":"A"}`
	for i := 0; i < 2; i++ {
		if status := post(first); status != fiber.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, status)
		}
	}
	if status := post(first); status != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429 once the session is over its limit, got %d", status)
	}

	if status := post(`{"sessionId":"s2","version":"A"}`); status != fiber.StatusOK {
		t.Errorf("Expected another session to be unaffected, got %d", status)
	}
}

func TestScanRecordingIDs(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSession string
		wantVersion string
	}{
		{"ids first", `{"sessionId":"s1","version":"A","events":[{"type":2}]}`, "s1", "A"},
		{"ids after events", `{"events":[{"data":{"sessionId":"nested"}}],"version":"B","sessionId":"s2"}`, "s2", "B"},
		{"version missing", `{"sessionId":"s4"}`, "s4", ""},
		{"not an object", `["sessionId","s5"]`, "", ""},
		{"invalid JSON", `nope`, "", ""},
		{"non-string id", `{"sessionId":42,"version":"A"}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionID, version := scanRecordingIDs([]byte(tt.body))
			if sessionID != tt.wantSession || version != tt.wantVersion {
				t.Errorf("scanRecordingIDs() = (%q, %q), want (%q, %q)", sessionID, version, tt.wantSession, tt.wantVersion)
			}
		})
	}
}
