package models

import "time"

// ControlVariant is the universal fallback variant
const ControlVariant = "control"

// FlowExperimentLoaded is emitted once after every successful variant resolution
const FlowExperimentLoaded = "experiment_loaded"

// ExperimentAssignment is the variant a visitor sees for a flag
type ExperimentAssignment struct {
	FlagKey string `json:"flagKey"`
	Variant string `json:"variant"`
}

// VariantResolution is the structured outcome of a resolve call.
// Fallback is true whenever the variant degraded to control; Reason says why.
type VariantResolution struct {
	FlagKey  string `json:"flagKey"`
	Variant  string `json:"variant"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// ConversionEvent is immutable once emitted
type ConversionEvent struct {
	InsertID          string                 `bson:"insertId" json:"insertId"`
	Type              string                 `bson:"type" json:"type"`
	Value             *float64               `bson:"value,omitempty" json:"value,omitempty"`
	DistinctID        string                 `bson:"distinctId" json:"distinctId"`
	ExperimentFlag    string                 `bson:"experimentFlag" json:"experimentFlag"`
	ExperimentVariant string                 `bson:"experimentVariant,omitempty" json:"experimentVariant,omitempty"`
	Properties        map[string]interface{} `bson:"properties,omitempty" json:"properties,omitempty"`
	Timestamp         int64                  `bson:"timestamp" json:"timestamp"` // Unix milliseconds at capture time
}

// FlowEvent marks a step in an experiment funnel
type FlowEvent struct {
	InsertID   string                 `bson:"insertId" json:"insertId"`
	Step       string                 `bson:"step" json:"step"`
	FlagKey    string                 `bson:"flagKey" json:"flagKey"`
	DistinctID string                 `bson:"distinctId" json:"distinctId"`
	Variant    string                 `bson:"variant,omitempty" json:"variant,omitempty"`
	Extra      map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
	Timestamp  int64                  `bson:"timestamp" json:"timestamp"`
}

// ConversionRequest is the inbound shape for trackConversion
type ConversionRequest struct {
	Type       string                 `json:"type"`
	Value      *float64               `json:"value,omitempty"`
	FlagKey    string                 `json:"flagKey"`
	DistinctID string                 `json:"distinctId"`
	Variant    string                 `json:"variant,omitempty"` // Optional: overrides the remembered assignment
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// FlowRequest is the inbound shape for trackFlow
type FlowRequest struct {
	Step       string                 `json:"step"`
	FlagKey    string                 `json:"flagKey"`
	DistinctID string                 `json:"distinctId"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Experiment is one entry of the experiment catalog file
type Experiment struct {
	Key             string   `yaml:"key" json:"key"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	DescriptionHTML string   `yaml:"-" json:"descriptionHtml,omitempty"`
	Variants        []string `yaml:"variants" json:"variants"`
}

// HasVariant reports whether v is a declared variant. An empty list accepts anything.
func (e *Experiment) HasVariant(v string) bool {
	if len(e.Variants) == 0 || v == ControlVariant {
		return true
	}
	for _, declared := range e.Variants {
		if declared == v {
			return true
		}
	}
	return false
}

// ExperimentCatalog is the parsed experiments file
type ExperimentCatalog struct {
	Experiments []Experiment `yaml:"experiments" json:"experiments"`
	LoadedAt    time.Time    `yaml:"-" json:"loadedAt"`
}

// Find returns the catalogued experiment for a flag key
func (c *ExperimentCatalog) Find(flagKey string) (*Experiment, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Experiments {
		if c.Experiments[i].Key == flagKey {
			return &c.Experiments[i], true
		}
	}
	return nil, false
}
