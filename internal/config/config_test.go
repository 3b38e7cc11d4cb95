package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"RECORDING_BACKEND", "RECORDINGS_DIR", "RECORDING_LOOKUP_MODE", "VENDOR_MAX_RETRIES", "ASSIGNMENT_TTL", "POSTHOG_HOST"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.RecordingBackend != BackendFile {
		t.Errorf("Expected file backend by default, got %q", cfg.RecordingBackend)
	}
	if cfg.LookupMode != LookupExact {
		t.Errorf("Expected exact lookup by default, got %q", cfg.LookupMode)
	}
	if cfg.VendorMaxRetries != 2 {
		t.Errorf("Expected 2 vendor retries by default, got %d", cfg.VendorMaxRetries)
	}
	if cfg.AssignmentTTL != 24*time.Hour {
		t.Errorf("Expected 24h assignment TTL, got %v", cfg.AssignmentTTL)
	}
	if cfg.PostHogHost != "https://app.posthog.com" {
		t.Errorf("Unexpected default PostHog host %q", cfg.PostHogHost)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RECORDING_BACKEND", "SQL")
	t.Setenv("DATABASE_URL", "sqlite:///tmp/rec.db")
	t.Setenv("VENDOR_TIMEOUT", "750ms")
	t.Setenv("VENDOR_RATE_LIMIT", "2.5")
	t.Setenv("POSTHOG_HOST", "https://eu.posthog.com/")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.RecordingBackend != BackendSQL {
		t.Errorf("Expected sql backend, got %q", cfg.RecordingBackend)
	}
	if cfg.VendorTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms timeout, got %v", cfg.VendorTimeout)
	}
	if cfg.VendorRateLimit != 2.5 {
		t.Errorf("Expected rate limit 2.5, got %v", cfg.VendorRateLimit)
	}
	if cfg.PostHogHost != "https://eu.posthog.com" {
		t.Errorf("Expected trailing slash trimmed, got %q", cfg.PostHogHost)
	}
	if got := cfg.Origins(); len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.RecordingBackend = "s3" }, "RECORDING_BACKEND"},
		{"sql without url", func(c *Config) { c.RecordingBackend = BackendSQL; c.DatabaseURL = "" }, "DATABASE_URL"},
		{"mongo without uri", func(c *Config) { c.RecordingBackend = BackendMongo; c.MongoURI = "" }, "MONGODB_URI"},
		{"bad lookup", func(c *Config) { c.LookupMode = "fuzzy" }, "RECORDING_LOOKUP_MODE"},
		{"bad schedule", func(c *Config) { c.StatsSchedule = "every minute" }, "STATS_SCHEDULE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				RecordingBackend:  BackendFile,
				RecordingsDir:     t.TempDir(),
				LookupMode:        LookupExact,
				TempSweepSchedule: "0 * * * *",
				StatsSchedule:     "*/5 * * * *",
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadExperimentCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yaml")
	content := `experiments:
  - key: hero-layout
    name: Hero layout
    description: "Tests the **new** hero"
    variants: [A, B]
  - key: pricing-copy
    name: Pricing copy
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadExperimentCatalog(path)
	if err != nil {
		t.Fatalf("LoadExperimentCatalog failed: %v", err)
	}
	if len(catalog.Experiments) != 2 {
		t.Fatalf("Expected 2 experiments, got %d", len(catalog.Experiments))
	}

	hero, ok := catalog.Find("hero-layout")
	if !ok {
		t.Fatal("Expected hero-layout in catalog")
	}
	if !strings.Contains(hero.DescriptionHTML, "<strong>new</strong>") {
		t.Errorf("Expected rendered markdown, got %q", hero.DescriptionHTML)
	}
	if hero.HasVariant("C") {
		t.Error("Expected undeclared variant to be rejected")
	}
	if catalog.LoadedAt.IsZero() {
		t.Error("Expected LoadedAt to be set")
	}
}

func TestParseExperimentCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing key": "experiments:\n  - name: nameless\n",
		"duplicate":   "experiments:\n  - key: a\n  - key: a\n",
		"bad yaml":    "experiments: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseExperimentCatalog([]byte(content)); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule("0 * * * *"); err != nil {
		t.Errorf("Expected hourly schedule to be valid: %v", err)
	}
	if err := ValidateSchedule("61 * * * *"); err == nil {
		t.Error("Expected out-of-range minute to be rejected")
	}
}
