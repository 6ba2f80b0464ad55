// Package telemetry collects per-run counters for gettrail and exports them
// in the Prometheus text format, typically for a node_exporter textfile
// collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gettrail"

// Metrics holds the counters of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StoresProcessed      prometheus.Counter
	TrailsScanned        prometheus.Counter
	TrailsMatched        prometheus.Counter
	EventsEmitted        prometheus.Counter
	StoreDuration        prometheus.Histogram
	IdentifiersRequested prometheus.Gauge
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StoresProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stores_processed_total",
			Help:      "Stores fully walked.",
		}),
		TrailsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trails_scanned_total",
			Help:      "Trails whose identifier was tested against the requested set.",
		}),
		TrailsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trails_matched_total",
			Help:      "Trails whose identifier was requested and emitted.",
		}),
		EventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events written to the output document.",
		}),
		StoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Time spent walking one store.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		IdentifiersRequested: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identifiers_requested",
			Help:      "Distinct identifiers in the requested set.",
		}),
	}
	m.registry.MustRegister(
		m.StoresProcessed,
		m.TrailsScanned,
		m.TrailsMatched,
		m.EventsEmitted,
		m.StoreDuration,
		m.IdentifiersRequested,
	)
	return m
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// ObserveStore records one completed store walk.
func (m *Metrics) ObserveStore(seconds float64) {
	if m == nil {
		return
	}
	m.StoresProcessed.Inc()
	m.StoreDuration.Observe(seconds)
}

// TrailScanned records one identifier membership test.
func (m *Metrics) TrailScanned() {
	if m != nil {
		m.TrailsScanned.Inc()
	}
}

// TrailMatched records one emitted trail.
func (m *Metrics) TrailMatched() {
	if m != nil {
		m.TrailsMatched.Inc()
	}
}

// EventEmitted records one emitted event.
func (m *Metrics) EventEmitted() {
	if m != nil {
		m.EventsEmitted.Inc()
	}
}

// SetIdentifiers records the size of the requested set.
func (m *Metrics) SetIdentifiers(n int) {
	if m != nil {
		m.IdentifiersRequested.Set(float64(n))
	}
}
