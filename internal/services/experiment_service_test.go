package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"variantlab/internal/models"
	"variantlab/internal/posthog"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeVariantSource struct {
	mu       sync.Mutex
	variants map[string]string
	err      error
	calls    int
	block    chan struct{}
}

func (f *fakeVariantSource) GetFeatureFlag(ctx context.Context, flagKey, distinctID string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.variants[flagKey]
	if !ok {
		return "", posthog.ErrFlagNotFound
	}
	return v, nil
}

func (f *fakeVariantSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCapturer struct {
	mu     sync.Mutex
	events []posthog.CaptureEvent
	err    error
}

func (f *fakeCapturer) Capture(ctx context.Context, event posthog.CaptureEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeCapturer) captured() []posthog.CaptureEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]posthog.CaptureEvent(nil), f.events...)
}

type fakeArchive struct {
	mu          sync.Mutex
	conversions []*models.ConversionEvent
	flows       []*models.FlowEvent
}

func (f *fakeArchive) ArchiveConversion(ctx context.Context, event *models.ConversionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversions = append(f.conversions, event)
	return nil
}

func (f *fakeArchive) ArchiveFlow(ctx context.Context, event *models.FlowEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows = append(f.flows, event)
	return nil
}

func newTestExperimentService(t *testing.T, source VariantSource, capturer EventCapturer, archive ConversionArchive) *ExperimentService {
	t.Helper()
	svc := NewExperimentService(source, capturer, archive, ExperimentConfig{
		ResolveTimeout: 500 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

// drain closes the service so every queued event has been delivered
func drain(t *testing.T, svc *ExperimentService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestResolveVariant_Success(t *testing.T) {
	source := &fakeVariantSource{variants: map[string]string{"hero": "B"}}
	capturer := &fakeCapturer{}
	svc := newTestExperimentService(t, source, capturer, nil)

	res := svc.ResolveVariant(context.Background(), "hero", "visitor-1")
	if res.Variant != "B" || res.Fallback {
		t.Fatalf("Expected resolved variant B, got %+v", res)
	}

	if v, ok := svc.RememberedVariant("hero", "visitor-1"); !ok || v != "B" {
		t.Errorf("Expected remembered variant B, got %q (%v)", v, ok)
	}

	drain(t, svc)

	events := capturer.captured()
	if len(events) != 1 {
		t.Fatalf("Expected exactly one experiment_loaded flow, got %d events", len(events))
	}
	if events[0].Event != models.FlowExperimentLoaded || events[0].Properties["experiment_variant"] != "B" {
		t.Errorf("Unexpected flow event: %+v", events[0])
	}
}

func TestResolveVariant_FallsBackToControl(t *testing.T) {
	tests := []struct {
		name       string
		source     VariantSource
		flagKey    string
		distinctID string
	}{
		{"vendor error", &fakeVariantSource{err: errors.New("connection refused")}, "hero", "v"},
		{"flag missing", &fakeVariantSource{variants: map[string]string{}}, "hero", "v"},
		{"no vendor", nil, "hero", "v"},
		{"empty flag", &fakeVariantSource{variants: map[string]string{"hero": "B"}}, "", "v"},
		{"empty visitor", &fakeVariantSource{variants: map[string]string{"hero": "B"}}, "hero", ""},
		{"timeout", &fakeVariantSource{block: make(chan struct{})}, "hero", "v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capturer := &fakeCapturer{}
			svc := newTestExperimentService(t, tt.source, capturer, nil)

			res := svc.ResolveVariant(context.Background(), tt.flagKey, tt.distinctID)
			if res.Variant != models.ControlVariant || !res.Fallback || res.Reason == "" {
				t.Errorf("Expected control fallback with a reason, got %+v", res)
			}

			drain(t, svc)
			if n := len(capturer.captured()); n != 0 {
				t.Errorf("Fallback must not emit experiment_loaded, got %d events", n)
			}
		})
	}
}

func TestResolveVariant_RejectsUndeclaredVariant(t *testing.T) {
	source := &fakeVariantSource{variants: map[string]string{"hero": "Z"}}
	svc := newTestExperimentService(t, source, nil, nil)
	svc.SetCatalog(&models.ExperimentCatalog{Experiments: []models.Experiment{
		{Key: "hero", Variants: []string{"A", "B"}},
	}})

	res := svc.ResolveVariant(context.Background(), "hero", "v")
	if !res.Fallback || res.Variant != models.ControlVariant {
		t.Errorf("Expected undeclared variant to fall back, got %+v", res)
	}
}

func TestTrackConversion_AttachesResolvedVariant(t *testing.T) {
	source := &fakeVariantSource{variants: map[string]string{"hero": "A"}}
	capturer := &fakeCapturer{}
	archive := &fakeArchive{}
	svc := newTestExperimentService(t, source, capturer, archive)

	value := 49.5
	before := svc.TrackConversion(models.ConversionRequest{Type: "signup", FlagKey: "hero", DistinctID: "v1"})
	if before.ExperimentVariant != "" {
		t.Errorf("Expected no variant before resolution, got %q", before.ExperimentVariant)
	}

	svc.ResolveVariant(context.Background(), "hero", "v1")

	start := time.Now().UnixMilli()
	after := svc.TrackConversion(models.ConversionRequest{Type: "purchase", Value: &value, FlagKey: "hero", DistinctID: "v1"})
	if after.ExperimentVariant != "A" || after.ExperimentFlag != "hero" {
		t.Errorf("Expected conversion tagged hero/A, got %+v", after)
	}
	if after.Timestamp < start || after.InsertID == "" {
		t.Errorf("Expected capture-time timestamp and insert id, got %+v", after)
	}

	drain(t, svc)

	var purchase *posthog.CaptureEvent
	for _, e := range capturer.captured() {
		if e.Event == "purchase" {
			e := e
			purchase = &e
		}
	}
	if purchase == nil {
		t.Fatal("Expected purchase to be delivered")
	}
	if purchase.Properties["value"] != 49.5 || purchase.Properties["$feature/hero"] != "A" {
		t.Errorf("Unexpected purchase properties: %v", purchase.Properties)
	}
	if len(archive.conversions) != 2 || len(archive.flows) != 1 {
		t.Errorf("Expected 2 archived conversions and 1 flow, got %d and %d", len(archive.conversions), len(archive.flows))
	}
}

func TestTrackConversion_NeverBlocks(t *testing.T) {
	capturer := &blockingCapturer{release: make(chan struct{})}
	svc := NewExperimentService(nil, capturer, nil, ExperimentConfig{QueueSize: 1, Workers: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			svc.TrackConversion(models.ConversionRequest{Type: "click", FlagKey: "hero", DistinctID: "v"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TrackConversion blocked on a stalled vendor")
	}

	close(capturer.release)
	drain(t, svc)

	// Tracking after shutdown is silently dropped
	svc.TrackConversion(models.ConversionRequest{Type: "late"})
}

type blockingCapturer struct {
	release chan struct{}
}

func (b *blockingCapturer) Capture(ctx context.Context, event posthog.CaptureEvent) error {
	<-b.release
	return nil
}

func TestTrackConversion_VendorFailureIsSwallowed(t *testing.T) {
	capturer := &fakeCapturer{err: errors.New("503")}
	svc := newTestExperimentService(t, nil, capturer, nil)

	svc.TrackFlow("cta_clicked", "hero", "v", map[string]interface{}{"position": "top"})
	drain(t, svc)

	events := capturer.captured()
	if len(events) != 1 || events[0].Properties["position"] != "top" {
		t.Errorf("Expected one attempted flow delivery, got %+v", events)
	}
}

func TestAssignment_Lifecycle(t *testing.T) {
	source := &fakeVariantSource{variants: map[string]string{"hero": "B"}, block: make(chan struct{})}
	svc := newTestExperimentService(t, source, nil, nil)

	var callbackVariant string
	callbacks := 0
	a := svc.NewAssignment("hero", "v", func(variant string) {
		callbacks++
		callbackVariant = variant
	})

	if a.State() != AssignmentUnresolved {
		t.Fatalf("Expected unresolved, got %s", a.State())
	}
	if _, ok := a.Variant(); ok {
		t.Fatal("Variant must be unavailable before resolution")
	}

	results := make(chan models.VariantResolution, 2)
	go func() { results <- a.Resolve(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for a.State() != AssignmentResolving {
		if time.Now().After(deadline) {
			t.Fatal("Assignment never entered resolving")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := a.Variant(); ok {
		t.Error("Variant must be unavailable while resolving")
	}

	go func() { results <- a.Resolve(context.Background()) }()
	close(source.block)

	for i := 0; i < 2; i++ {
		if res := <-results; res.Variant != "B" {
			t.Errorf("Expected B, got %+v", res)
		}
	}

	if a.State() != AssignmentResolved {
		t.Errorf("Expected resolved, got %s", a.State())
	}
	if v, ok := a.Variant(); !ok || v != "B" {
		t.Errorf("Expected variant B, got %q (%v)", v, ok)
	}
	if callbacks != 1 || callbackVariant != "B" {
		t.Errorf("Expected one callback with B, got %d with %q", callbacks, callbackVariant)
	}
	if source.callCount() != 1 {
		t.Errorf("Expected a single vendor call, got %d", source.callCount())
	}

	// Terminal: resolving again returns the stored result
	if res := a.Resolve(context.Background()); res.Variant != "B" {
		t.Errorf("Expected stored result, got %+v", res)
	}
}

func TestAssignment_Fallback(t *testing.T) {
	svc := newTestExperimentService(t, &fakeVariantSource{err: errors.New("down")}, nil, nil)

	var got string
	a := svc.NewAssignment("hero", "v", func(variant string) { got = variant })
	res := a.Resolve(context.Background())

	if a.State() != AssignmentFallback || !res.Fallback {
		t.Errorf("Expected fallback state, got %s %+v", a.State(), res)
	}
	if got != models.ControlVariant {
		t.Errorf("Expected callback with control, got %q", got)
	}
}

func TestAssignment_CallbackPanicPropagates(t *testing.T) {
	svc := newTestExperimentService(t, &fakeVariantSource{variants: map[string]string{"hero": "A"}}, nil, nil)
	a := svc.NewAssignment("hero", "v", func(string) { panic("render failed") })

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected callback panic to propagate")
		}
		if a.State() != AssignmentResolved {
			t.Errorf("Expected state to be resolved before the callback ran, got %s", a.State())
		}
	}()
	a.Resolve(context.Background())
}

func countSeries(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	return n
}

func TestResolveVariant_MetricLabelsLimitedToCatalog(t *testing.T) {
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_variant_resolutions_total",
	}, []string{"flag", "outcome"})

	previous := globalMetrics
	globalMetrics = &Metrics{VariantResolutions: resolutions}
	t.Cleanup(func() { globalMetrics = previous })

	source := &fakeVariantSource{variants: map[string]string{"hero": "B"}}
	svc := newTestExperimentService(t, source, nil, nil)
	svc.SetCatalog(&models.ExperimentCatalog{
		Experiments: []models.Experiment{{Key: "hero", Variants: []string{"A", "B"}}},
	})

	svc.ResolveVariant(context.Background(), "unknown-1", "visitor-1")
	svc.ResolveVariant(context.Background(), "unknown-2", "visitor-1")
	if n := countSeries(resolutions); n != 1 {
		t.Fatalf("Expected uncatalogued flags to share one series, got %d", n)
	}

	svc.ResolveVariant(context.Background(), "hero", "visitor-1")
	if n := countSeries(resolutions); n != 2 {
		t.Errorf("Expected a separate series for the catalogued flag, got %d", n)
	}

	// Looking up an existing series must not add one
	resolutions.WithLabelValues(otherFlagLabel, "fallback")
	if n := countSeries(resolutions); n != 2 {
		t.Errorf("Expected the shared series to be labelled %q, got %d series", otherFlagLabel, n)
	}
}
