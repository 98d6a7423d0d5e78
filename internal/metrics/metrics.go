// Package metrics counts archived days and segments and writes them as a
// node-exporter textfile.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stackinspector/teo-utils/internal/events"
	"github.com/stackinspector/teo-utils/internal/segment"
)

// Outcome label values.
const (
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	segments     *prometheus.CounterVec
	daysArchived *prometheus.CounterVec
	archiveBytes *prometheus.CounterVec
	lastArchived *prometheus.GaugeVec
	dayFailures  *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teo_segments_total",
			Help: "Total number of log segments written to archives, by outcome.",
		}, []string{"zone", "outcome"}),
		daysArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teo_days_archived_total",
			Help: "Total number of day archives completed.",
		}, []string{"zone"}),
		archiveBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teo_archive_bytes_total",
			Help: "Total compressed archive bytes written.",
		}, []string{"zone"}),
		lastArchived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "teo_last_archived_timestamp_seconds",
			Help: "Unix time of the start of the most recently archived day.",
		}, []string{"zone"}),
		dayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teo_day_failures_total",
			Help: "Total number of days that stopped with a fatal error.",
		}, []string{"zone"}),
	}
	m.registry.MustRegister(m.segments, m.daysArchived, m.archiveBytes, m.lastArchived, m.dayFailures)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ID implements hooks.Hook.
func (m *Metrics) ID() string { return "metrics" }

// OnSegment implements hooks.SegmentHook.
func (m *Metrics) OnSegment(_ context.Context, e *events.Segment) error {
	m.segments.WithLabelValues(e.Zone, outcomeLabel(e.Record)).Inc()
	return nil
}

// OnArchived implements hooks.ArchivedHook.
func (m *Metrics) OnArchived(_ context.Context, e *events.DayResult) error {
	m.daysArchived.WithLabelValues(e.Zone).Inc()
	if e.Archive.Size > 0 {
		m.archiveBytes.WithLabelValues(e.Zone).Add(float64(e.Archive.Size))
	}
	m.lastArchived.WithLabelValues(e.Zone).Set(float64(e.Date.Unix()))
	return nil
}

// IncDayFailures counts a day that failed fatally.
func (m *Metrics) IncDayFailures(zone string) {
	m.dayFailures.WithLabelValues(zone).Inc()
}

// WriteTextfile atomically writes the current values to path in the text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func outcomeLabel(rec *segment.Record) string {
	if rec != nil && rec.Fetched() {
		return OutcomeFetched
	}
	return OutcomeFailed
}
