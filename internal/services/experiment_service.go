package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"variantlab/internal/logging"
	"variantlab/internal/models"
	"variantlab/internal/posthog"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// VariantSource evaluates a multivariate flag for a visitor
type VariantSource interface {
	GetFeatureFlag(ctx context.Context, flagKey, distinctID string) (string, error)
}

// EventCapturer delivers tracked events to the analytics vendor
type EventCapturer interface {
	Capture(ctx context.Context, event posthog.CaptureEvent) error
}

// ConversionArchive keeps a copy of tracked events
type ConversionArchive interface {
	ArchiveConversion(ctx context.Context, event *models.ConversionEvent) error
	ArchiveFlow(ctx context.Context, event *models.FlowEvent) error
}

const otherFlagLabel = "other"

// ExperimentConfig tunes the experiment service
type ExperimentConfig struct {
	AssignmentTTL  time.Duration // how long a resolved variant is remembered for conversions
	QueueSize      int
	Workers        int
	ResolveTimeout time.Duration
	DeliverTimeout time.Duration
}

// trackedEvent is a queued conversion or flow event
type trackedEvent struct {
	conversion *models.ConversionEvent
	flow       *models.FlowEvent
}

// ExperimentService resolves experiment variants and tracks conversions against them
type ExperimentService struct {
	source   VariantSource
	capturer EventCapturer
	archive  ConversionArchive
	catalog  atomic.Pointer[models.ExperimentCatalog]

	assignments *cache.Cache // flagKey|distinctId -> variant
	cfg         ExperimentConfig

	queue  chan trackedEvent
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewExperimentService creates the service and starts its delivery workers.
// source, capturer and archive may each be nil.
func NewExperimentService(source VariantSource, capturer EventCapturer, archive ConversionArchive, cfg ExperimentConfig) *ExperimentService {
	if cfg.AssignmentTTL <= 0 {
		cfg.AssignmentTTL = 24 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 5 * time.Second
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}

	s := &ExperimentService{
		source:      source,
		capturer:    capturer,
		archive:     archive,
		assignments: cache.New(cfg.AssignmentTTL, cfg.AssignmentTTL/2),
		cfg:         cfg,
		queue:       make(chan trackedEvent, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// SetCatalog replaces the experiment catalog
func (s *ExperimentService) SetCatalog(catalog *models.ExperimentCatalog) {
	s.catalog.Store(catalog)
}

// Catalog returns the current experiment catalog, possibly nil
func (s *ExperimentService) Catalog() *models.ExperimentCatalog {
	return s.catalog.Load()
}

// resolutionLabel is the metrics label for flagKey. Flags outside the catalog share "other".
func (s *ExperimentService) resolutionLabel(flagKey string) string {
	if exp, ok := s.Catalog().Find(flagKey); ok {
		return exp.Key
	}
	return otherFlagLabel
}

func assignmentKey(flagKey, distinctID string) string {
	return flagKey + "|" + distinctID
}

// ResolveVariant asks the vendor which variant distinctID sees for flagKey.
// It never fails: any problem yields the control variant with Fallback set.
func (s *ExperimentService) ResolveVariant(ctx context.Context, flagKey, distinctID string) models.VariantResolution {
	logger := logging.WithExperiment(flagKey, distinctID)

	variant, err := s.lookupVariant(ctx, flagKey, distinctID)
	if err != nil {
		logger.Warn("variant resolution fell back to control", "reason", err.Error())
		GetMetrics().RecordResolution(s.resolutionLabel(flagKey), true)
		if flagKey != "" && distinctID != "" {
			s.assignments.SetDefault(assignmentKey(flagKey, distinctID), models.ControlVariant)
		}
		return models.VariantResolution{
			FlagKey:  flagKey,
			Variant:  models.ControlVariant,
			Fallback: true,
			Reason:   err.Error(),
		}
	}

	logger.Debug("variant resolved", "variant", variant)
	GetMetrics().RecordResolution(s.resolutionLabel(flagKey), false)
	s.assignments.SetDefault(assignmentKey(flagKey, distinctID), variant)
	s.TrackFlow(models.FlowExperimentLoaded, flagKey, distinctID, map[string]interface{}{"variant": variant})

	return models.VariantResolution{FlagKey: flagKey, Variant: variant}
}

func (s *ExperimentService) lookupVariant(ctx context.Context, flagKey, distinctID string) (string, error) {
	if flagKey == "" {
		return "", errors.New("missing flag key")
	}
	if distinctID == "" {
		return "", errors.New("missing distinct id")
	}
	if s.source == nil {
		return "", errors.New("analytics vendor not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()

	variant, err := s.source.GetFeatureFlag(ctx, flagKey, distinctID)
	if err != nil {
		return "", err
	}

	if exp, ok := s.Catalog().Find(flagKey); ok && !exp.HasVariant(variant) {
		return "", fmt.Errorf("variant %q is not declared for experiment %q", variant, flagKey)
	}
	return variant, nil
}

// RememberedVariant returns the most recently resolved variant for a visitor
func (s *ExperimentService) RememberedVariant(flagKey, distinctID string) (string, bool) {
	v, ok := s.assignments.Get(assignmentKey(flagKey, distinctID))
	if !ok {
		return "", false
	}
	variant, ok := v.(string)
	return variant, ok
}

// TrackConversion queues a conversion for delivery. It never blocks and never fails;
// events that cannot be queued are dropped and counted.
func (s *ExperimentService) TrackConversion(req models.ConversionRequest) *models.ConversionEvent {
	variant := req.Variant
	if variant == "" {
		variant, _ = s.RememberedVariant(req.FlagKey, req.DistinctID)
	}

	event := &models.ConversionEvent{
		InsertID:          uuid.New().String(),
		Type:              req.Type,
		Value:             req.Value,
		DistinctID:        req.DistinctID,
		ExperimentFlag:    req.FlagKey,
		ExperimentVariant: variant,
		Properties:        req.Properties,
		Timestamp:         time.Now().UnixMilli(),
	}
	s.enqueue(trackedEvent{conversion: event}, "conversion")
	return event
}

// TrackFlow queues a funnel step for delivery, tagged with the visitor's variant when known
func (s *ExperimentService) TrackFlow(step, flagKey, distinctID string, extra map[string]interface{}) *models.FlowEvent {
	variant, _ := s.RememberedVariant(flagKey, distinctID)
	if v, ok := extra["variant"].(string); ok && v != "" {
		variant = v
	}

	event := &models.FlowEvent{
		InsertID:   uuid.New().String(),
		Step:       step,
		FlagKey:    flagKey,
		DistinctID: distinctID,
		Variant:    variant,
		Extra:      extra,
		Timestamp:  time.Now().UnixMilli(),
	}
	s.enqueue(trackedEvent{flow: event}, "flow")
	return event
}

func (s *ExperimentService) enqueue(ev trackedEvent, kind string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		GetMetrics().RecordConversion(kind, "dropped")
		return
	}

	select {
	case s.queue <- ev:
	default:
		GetMetrics().RecordConversion(kind, "dropped")
		log.Printf("⚠️  [EXPERIMENTS] Tracking queue full, dropped %s event", kind)
	}
}

func (s *ExperimentService) worker() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.deliver(ev)
	}
}

func (s *ExperimentService) deliver(ev trackedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliverTimeout)
	defer cancel()

	var (
		kind    string
		capture posthog.CaptureEvent
	)

	if c := ev.conversion; c != nil {
		kind = "conversion"
		props := map[string]interface{}{}
		for k, v := range c.Properties {
			props[k] = v
		}
		props["$insert_id"] = c.InsertID
		props["conversion_type"] = c.Type
		props["experiment_flag"] = c.ExperimentFlag
		if c.Value != nil {
			props["value"] = *c.Value
		}
		if c.ExperimentVariant != "" {
			props["experiment_variant"] = c.ExperimentVariant
			props["$feature/"+c.ExperimentFlag] = c.ExperimentVariant
		}
		capture = posthog.CaptureEvent{
			Event:      c.Type,
			DistinctID: c.DistinctID,
			Properties: props,
			Timestamp:  time.UnixMilli(c.Timestamp),
		}
	} else {
		f := ev.flow
		kind = "flow"
		props := map[string]interface{}{}
		for k, v := range f.Extra {
			props[k] = v
		}
		props["$insert_id"] = f.InsertID
		props["experiment_flag"] = f.FlagKey
		if f.Variant != "" {
			props["experiment_variant"] = f.Variant
			props["$feature/"+f.FlagKey] = f.Variant
		}
		capture = posthog.CaptureEvent{
			Event:      f.Step,
			DistinctID: f.DistinctID,
			Properties: props,
			Timestamp:  time.UnixMilli(f.Timestamp),
		}
	}

	if s.capturer != nil {
		if err := s.capturer.Capture(ctx, capture); err != nil {
			GetMetrics().RecordConversion(kind, "failed")
			log.Printf("⚠️  [EXPERIMENTS] Failed to deliver %s %q: %v", kind, capture.Event, err)
		} else {
			GetMetrics().RecordConversion(kind, "sent")
		}
	}

	if s.archive != nil {
		var err error
		if ev.conversion != nil {
			err = s.archive.ArchiveConversion(ctx, ev.conversion)
		} else {
			err = s.archive.ArchiveFlow(ctx, ev.flow)
		}
		if err != nil {
			log.Printf("⚠️  [EXPERIMENTS] Failed to archive %s: %v", kind, err)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered
func (s *ExperimentService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
