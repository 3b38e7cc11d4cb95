// Package posthog is a small client for the PostHog endpoints this service depends on:
// feature flag evaluation, event capture, and read-only analytics queries.
package posthog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultHost = "https://app.posthog.com"

var (
	// ErrNotConnected is returned when a call is made outside Connect/Disconnect
	ErrNotConnected = errors.New("posthog client not connected")
	// ErrFlagNotFound means the vendor returned no value for the flag
	ErrFlagNotFound = errors.New("feature flag not found")
	// ErrNotMultivariate means the flag resolved to a boolean rather than a variant key
	ErrNotMultivariate = errors.New("feature flag is not multivariate")
	// ErrQueryNotConfigured means analytics queries need a personal API key and project id
	ErrQueryNotConfigured = errors.New("posthog personal API key or project id not configured")
)

// APIError is a non-2xx response from PostHog
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("posthog returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Config describes a PostHog connection
type Config struct {
	Host           string
	APIKey         string // project API key used for /decide and /capture
	PersonalAPIKey string // required for analytics queries
	ProjectID      string
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 disables limiting
	MaxRetries     int
}

// Client talks to PostHog. It must be connected before use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu        sync.RWMutex
	connected bool
}

// NewClient creates a disconnected client
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// Configured reports whether a project API key is present
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// QueryConfigured reports whether analytics queries can be made
func (c *Client) QueryConfigured() bool {
	return c.cfg.PersonalAPIKey != "" && c.cfg.ProjectID != ""
}

// Host returns the configured PostHog host
func (c *Client) Host() string {
	return c.cfg.Host
}

// Connect validates the configuration and opens the client for use
func (c *Client) Connect(ctx context.Context) error {
	if !c.Configured() {
		return fmt.Errorf("posthog: POSTHOG_API_KEY is not set")
	}
	if _, err := url.ParseRequestURI(c.cfg.Host); err != nil {
		return fmt.Errorf("posthog: invalid host %q: %w", c.cfg.Host, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	log.Printf("✅ [POSTHOG] Connected to %s", c.cfg.Host)
	return nil
}

// Disconnect closes idle connections; later calls return ErrNotConnected
func (c *Client) Disconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	c.httpClient.CloseIdleConnections()
	if wasConnected {
		log.Println("🔌 [POSTHOG] Disconnected")
	}
}

// Connected reports whether the client is open
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetFeatureFlag evaluates a multivariate flag for a visitor and returns the variant key
func (c *Client) GetFeatureFlag(ctx context.Context, flagKey, distinctID string) (string, error) {
	body := map[string]interface{}{
		"api_key":     c.cfg.APIKey,
		"distinct_id": distinctID,
	}

	data, err := c.do(ctx, http.MethodPost, "/decide/?v=3", body, false)
	if err != nil {
		return "", err
	}

	var decide struct {
		FeatureFlags map[string]interface{} `json:"featureFlags"`
	}
	if err := json.Unmarshal(data, &decide); err != nil {
		return "", fmt.Errorf("decode decide response: %w", err)
	}

	value, ok := decide.FeatureFlags[flagKey]
	if !ok || value == nil {
		return "", ErrFlagNotFound
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			return "", ErrFlagNotFound
		}
		return v, nil
	case bool:
		return "", ErrNotMultivariate
	default:
		return "", fmt.Errorf("unexpected flag value type %T", value)
	}
}

// CaptureEvent is one event sent to /capture/
type CaptureEvent struct {
	Event      string
	DistinctID string
	Properties map[string]interface{}
	Timestamp  time.Time
}

// Capture sends one event
func (c *Client) Capture(ctx context.Context, event CaptureEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body := map[string]interface{}{
		"api_key":     c.cfg.APIKey,
		"event":       event.Event,
		"distinct_id": event.DistinctID,
		"properties":  event.Properties,
		"timestamp":   ts.UTC().Format(time.RFC3339Nano),
	}

	_, err := c.do(ctx, http.MethodPost, "/capture/", body, false)
	return err
}

// do performs one logical request with rate limiting and bounded retries.
// Transport errors and 5xx responses are retried; everything else is returned at once.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, personal bool) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		data, retry, err := c.attempt(ctx, method, path, payload, personal)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, personal bool) ([]byte, bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path, reader)
	if err != nil {
		return nil, false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if personal {
		req.Header.Set("Authorization", "Bearer "+c.cfg.PersonalAPIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("posthog request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read posthog response: %w", err)
	}

	if resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, resp.StatusCode >= 500, &APIError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return data, false, nil
}
