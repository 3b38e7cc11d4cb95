package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// Every Record* method is a no-op on a nil receiver so services work before InitMetrics.
type Metrics struct {
	// Recording store metrics
	RecordingUpserts     *prometheus.CounterVec
	RecordingListLatency prometheus.Histogram
	RecordingsByVersion  *prometheus.GaugeVec
	CorruptRecordings    prometheus.Counter

	// Experiment metrics
	VariantResolutions *prometheus.CounterVec
	Conversions        *prometheus.CounterVec

	// Live update subscribers
	hub *LiveUpdateHub
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(hub *LiveUpdateHub) *Metrics {
	metrics := &Metrics{
		hub: hub,

		RecordingUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "variantlab_recording_upserts_total",
			Help: "Total number of recording upserts by backend and result",
		}, []string{"backend", "result"}), // result: "ok", "invalid", "error"

		RecordingListLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "variantlab_recording_list_duration_seconds",
			Help:    "Time spent enumerating and projecting recordings",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		RecordingsByVersion: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "variantlab_recordings",
			Help: "Stored recordings per experiment version",
		}, []string{"version"}),

		CorruptRecordings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "variantlab_recording_skipped_total",
			Help: "Stored records skipped during listing because they could not be read or parsed",
		}),

		VariantResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "variantlab_variant_resolutions_total",
			Help: "Variant resolutions by catalogued flag and outcome",
		}, []string{"flag", "outcome"}), // flag: catalog key or "other"; outcome: "resolved" or "fallback"

		Conversions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "variantlab_conversions_total",
			Help: "Conversion and flow events by kind and result",
		}, []string{"kind", "result"}), // result: "sent", "failed", "dropped"
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "variantlab_live_subscribers_current",
			Help: "Current number of live recording update subscribers",
		},
		func() float64 {
			if hub != nil {
				return float64(hub.Count())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordUpsert records the outcome of a recording upsert
func (m *Metrics) RecordUpsert(backend, result string) {
	if m == nil {
		return
	}
	m.RecordingUpserts.WithLabelValues(backend, result).Inc()
}

// RecordListLatency records how long a listing pass took
func (m *Metrics) RecordListLatency(seconds float64) {
	if m == nil {
		return
	}
	m.RecordingListLatency.Observe(seconds)
}

// RecordSkipped records a stored record that could not be loaded
func (m *Metrics) RecordSkipped() {
	if m == nil {
		return
	}
	m.CorruptRecordings.Inc()
}

// SetVersionCounts replaces the per-version gauge values
func (m *Metrics) SetVersionCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.RecordingsByVersion.Reset()
	for version, n := range counts {
		m.RecordingsByVersion.WithLabelValues(version).Set(float64(n))
	}
}

// RecordResolution records a variant resolution outcome
func (m *Metrics) RecordResolution(flag string, fallback bool) {
	if m == nil {
		return
	}
	outcome := "resolved"
	if fallback {
		outcome = "fallback"
	}
	m.VariantResolutions.WithLabelValues(flag, outcome).Inc()
}

// RecordConversion records a tracked event delivery result
func (m *Metrics) RecordConversion(kind, result string) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(kind, result).Inc()
}
