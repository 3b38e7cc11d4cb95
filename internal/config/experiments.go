package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"variantlab/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

var descriptionRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// LoadExperimentCatalog loads the experiment catalog from a YAML file.
// Markdown descriptions are rendered to HTML once at load time.
func LoadExperimentCatalog(filePath string) (*models.ExperimentCatalog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiments file: %w", err)
	}
	return ParseExperimentCatalog(data)
}

// ParseExperimentCatalog parses catalog YAML
func ParseExperimentCatalog(data []byte) (*models.ExperimentCatalog, error) {
	var catalog models.ExperimentCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse experiments YAML: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Experiments))
	for i := range catalog.Experiments {
		exp := &catalog.Experiments[i]
		if exp.Key == "" {
			return nil, fmt.Errorf("experiment #%d has no key", i+1)
		}
		if seen[exp.Key] {
			return nil, fmt.Errorf("duplicate experiment key %q", exp.Key)
		}
		seen[exp.Key] = true

		if exp.Description != "" {
			var buf bytes.Buffer
			if err := descriptionRenderer.Convert([]byte(exp.Description), &buf); err != nil {
				return nil, fmt.Errorf("failed to render description for %q: %w", exp.Key, err)
			}
			exp.DescriptionHTML = buf.String()
		}
	}

	catalog.LoadedAt = time.Now()
	return &catalog, nil
}
