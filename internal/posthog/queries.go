package posthog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// HeatmapParams selects heatmap data for one page
type HeatmapParams struct {
	PageURL  string `query:"url"`
	Type     string `query:"type"`      // click, rageclick, mousemove, scrolldepth
	DateFrom string `query:"date_from"` // e.g. "-7d" or "2026-01-01"
}

// ExperimentResultsParams identifies a vendor-side experiment
type ExperimentResultsParams struct {
	ExperimentID string
}

// CohortParams filters the cohort listing
type CohortParams struct {
	Search string `query:"search"`
	Limit  int    `query:"limit"`
}

// Heatmap returns the vendor's heatmap payload verbatim
func (c *Client) Heatmap(ctx context.Context, params HeatmapParams) (json.RawMessage, error) {
	if params.PageURL == "" {
		return nil, fmt.Errorf("heatmap: page url is required")
	}
	q := url.Values{}
	q.Set("url_exact", params.PageURL)
	if params.Type != "" {
		q.Set("type", params.Type)
	}
	if params.DateFrom != "" {
		q.Set("date_from", params.DateFrom)
	}
	return c.query(ctx, "/heatmaps/?"+q.Encode())
}

// ExperimentResults returns the vendor's computed results for an experiment verbatim
func (c *Client) ExperimentResults(ctx context.Context, params ExperimentResultsParams) (json.RawMessage, error) {
	if params.ExperimentID == "" {
		return nil, fmt.Errorf("experiment results: experiment id is required")
	}
	return c.query(ctx, "/experiments/"+url.PathEscape(params.ExperimentID)+"/results/")
}

// Cohorts returns the vendor's cohort listing verbatim
func (c *Client) Cohorts(ctx context.Context, params CohortParams) (json.RawMessage, error) {
	q := url.Values{}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	path := "/cohorts/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.query(ctx, path)
}

func (c *Client) query(ctx context.Context, projectPath string) (json.RawMessage, error) {
	if !c.QueryConfigured() {
		return nil, ErrQueryNotConfigured
	}
	path := "/api/projects/" + url.PathEscape(c.cfg.ProjectID) + projectPath
	data, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("posthog returned invalid JSON")
	}
	return json.RawMessage(data), nil
}
