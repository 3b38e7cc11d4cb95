// Package recwatch is the dashboard side of the recording endpoint: an HTTP client
// plus polling subscriptions that keep a list or a single recording fresh.
package recwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"variantlab/internal/models"
)

// ErrNotFound is returned by GetRecording when the server has no such session
var ErrNotFound = errors.New("recording not found")

// StatusError is any other non-2xx response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recording endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("recording endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls /api/recordings on a variantlab server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sends a dashboard bearer token with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRecordings returns recording metadata, newest first. An empty version lists everything.
func (c *Client) ListRecordings(ctx context.Context, version string) ([]models.RecordingMetadata, error) {
	q := url.Values{}
	if version != "" {
		q.Set("version", version)
	}

	var resp struct {
		Recordings []models.RecordingMetadata `json:"recordings"`
	}
	if err := c.do(ctx, http.MethodGet, q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Recordings == nil {
		resp.Recordings = []models.RecordingMetadata{}
	}
	return resp.Recordings, nil
}

// GetRecording fetches one full recording. A missing session yields ErrNotFound.
func (c *Client) GetRecording(ctx context.Context, sessionID string) (*models.SessionRecording, error) {
	q := url.Values{}
	q.Set("sessionId", sessionID)

	var rec models.SessionRecording
	if err := c.do(ctx, http.MethodGet, q, nil, &rec); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpsertRecording posts the full snapshot of a recording
func (c *Client) UpsertRecording(ctx context.Context, rec *models.SessionRecording) (*models.StoredRecording, error) {
	var resp struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
		Path     string `json:"path"`
	}
	if err := c.do(ctx, http.MethodPost, nil, rec, &resp); err != nil {
		return nil, err
	}
	return &models.StoredRecording{
		Key:      rec.Key(),
		Filename: resp.Filename,
		Path:     resp.Path,
	}, nil
}

func (c *Client) do(ctx context.Context, method string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + "/api/recordings"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request recordings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &errBody) != nil {
			errBody.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode recordings response: %w", err)
	}
	return nil
}
