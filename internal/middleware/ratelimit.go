package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"variantlab/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Recording ingest limits (per session)
	IngestMax        int
	IngestExpiration time.Duration

	// WebSocket/Connection limits (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults.
// Recorders post the full snapshot every few seconds, so ingest allows 2/s per session.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        600,
		GlobalAPIExpiration: 1 * time.Minute,

		IngestMax:        120,
		IngestExpiration: 1 * time.Minute,

		WebSocketMax:        20,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig(environment string, ingestMax int) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if ingestMax > 0 {
		config.IngestMax = ingestMax
	}

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_WEBSOCKET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WebSocketMax = n
		}
	}

	if environment == "development" {
		config.GlobalAPIMax = 5000
		config.WebSocketMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter limits new live-update connections per IP
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebSocketMax,
		Expiration: config.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts.",
				"retry_after": int(config.WebSocketExpiration.Seconds()),
			})
		},
	})
}

const ingestKeyLocal = "ingest_key"

// ingestKey identifies the recording a POST targets, falling back to the client IP.
// The result is cached on the request so the body is scanned once.
func ingestKey(c *fiber.Ctx) string {
	if key, ok := c.Locals(ingestKeyLocal).(string); ok {
		return key
	}

	key := "ip:" + c.IP()
	if sessionID, version := scanRecordingIDs(c.Body()); sessionID != "" {
		key = "session:" + version + "_" + sessionID
	}
	c.Locals(ingestKeyLocal, key)
	return key
}

// scanRecordingIDs reads the top-level sessionId and version fields of a recording body,
// stopping as soon as both have been seen.
func scanRecordingIDs(body []byte) (sessionID, version string) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", ""
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", ""
		}
		field, _ := tok.(string)

		switch field {
		case "sessionId", "version":
			var value string
			if err := dec.Decode(&value); err != nil {
				return "", ""
			}
			if field == "sessionId" {
				sessionID = value
			} else {
				version = value
			}
			if sessionID != "" && version != "" {
				return sessionID, version
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return "", ""
			}
		}
	}
	return sessionID, version
}

// IngestRateLimiter limits recording upserts per session. With Redis the count is shared
// across instances; without Redis, or when Redis errors, each instance counts locally.
func IngestRateLimiter(config *RateLimitConfig, redisService *services.RedisService) fiber.Handler {
	limitReached := func(c *fiber.Ctx) error {
		log.Printf("⚠️  [RATE-LIMIT] Ingest limit reached for %s", ingestKey(c))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success":     false,
			"error":       "Too many recording uploads for this session.",
			"retry_after": int(config.IngestExpiration.Seconds()),
		})
	}

	local := limiter.New(limiter.Config{
		Max:        config.IngestMax,
		Expiration: config.IngestExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ingest:" + ingestKey(c)
		},
		LimitReached: limitReached,
	})

	if redisService == nil {
		return local
	}

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		_, exceeded, err := redisService.CheckRateLimit(ctx, "ratelimit:ingest:"+ingestKey(c), int64(config.IngestMax), config.IngestExpiration)
		if err != nil {
			log.Printf("⚠️  [RATE-LIMIT] Redis unavailable, using local ingest limit: %v", err)
			return local(c)
		}
		if exceeded {
			return limitReached(c)
		}
		return c.Next()
	}
}
