package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"variantlab/internal/config"
	"variantlab/internal/posthog"
	"variantlab/internal/services"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	backend services.RecordingBackend
	cfg     *config.Config
	vendor  *posthog.Client
}

// NewChecker creates a new preflight checker. vendor may be nil.
func NewChecker(backend services.RecordingBackend, cfg *config.Config, vendor *posthog.Client) *Checker {
	return &Checker{
		backend: backend,
		cfg:     cfg,
		vendor:  vendor,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkRecordingStore(ctx),
		c.checkExperimentCatalog(),
		c.checkAnalyticsVendor(),
		c.checkSchedules(),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkRecordingStore ensures the store exists and can be listed
func (c *Checker) checkRecordingStore(ctx context.Context) CheckResult {
	name := "Recording Store"
	if c.backend == nil {
		return CheckResult{Name: name, Status: "fail", Message: "No recording backend configured"}
	}

	if err := c.backend.Ensure(ctx); err != nil {
		return CheckResult{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot prepare %s store", c.backend.Name()),
			Error:   err,
		}
	}

	keys, err := c.backend.Keys(ctx, "")
	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot list %s store", c.backend.Name()),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%s store ready (%d recordings)", c.backend.Name(), len(keys)),
	}
}

// checkExperimentCatalog loads the catalog file; a missing file only warns
func (c *Checker) checkExperimentCatalog() CheckResult {
	name := "Experiment Catalog"

	catalog, err := config.LoadExperimentCatalog(c.cfg.ExperimentsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{
				Name:    name,
				Status:  "warning",
				Message: fmt.Sprintf("%s not found, variants will not be checked against a catalog", c.cfg.ExperimentsFile),
			}
		}
		return CheckResult{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Invalid catalog in %s", c.cfg.ExperimentsFile),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%d experiments loaded", len(catalog.Experiments)),
	}
}

// checkAnalyticsVendor reports what the vendor configuration allows
func (c *Checker) checkAnalyticsVendor() CheckResult {
	name := "Analytics Vendor"

	if c.vendor == nil || !c.vendor.Configured() {
		return CheckResult{
			Name:    name,
			Status:  "warning",
			Message: "PostHog not configured (every visitor resolves to control)",
		}
	}

	if !c.vendor.QueryConfigured() {
		return CheckResult{
			Name:    name,
			Status:  "warning",
			Message: "PostHog personal API key or project id missing (analytics pass-through disabled)",
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("PostHog configured at %s", c.vendor.Host()),
	}
}

// checkSchedules validates the cron expressions of background jobs
func (c *Checker) checkSchedules() CheckResult {
	name := "Job Schedules"

	for _, expr := range []string{c.cfg.TempSweepSchedule, c.cfg.StatsSchedule} {
		if err := config.ValidateSchedule(expr); err != nil {
			return CheckResult{
				Name:    name,
				Status:  "fail",
				Message: fmt.Sprintf("Invalid schedule %q", expr),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: "All schedules valid",
	}
}

// QuickCheck runs minimal checks for fast startup
func (c *Checker) QuickCheck(ctx context.Context) []CheckResult {
	log.Println("⚡ Running quick pre-flight checks...")

	results := []CheckResult{
		c.checkRecordingStore(ctx),
	}

	for _, result := range results {
		if result.Status == "pass" {
			log.Printf("   ✅ %s", result.Name)
		} else if result.Status == "fail" {
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
		}
	}

	return results
}
