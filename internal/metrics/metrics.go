// Package metrics provides Prometheus metrics for newsletter runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calnews"

// Run results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics owns a private registry so tests and multiple pipelines never
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	ItemsSkipped  prometheus.Counter
	Events        *prometheus.GaugeVec
	LastSuccess   prometheus.Gauge
	StageDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of newsletter runs by result",
			},
			[]string{"result"},
		),
		ItemsSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_skipped_total",
				Help:      "Feed items dropped because a required field was missing",
			},
		),
		Events: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "events",
				Help:      "Events in each bucket of the last run",
			},
			[]string{"bucket"},
		),
		LastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records how long a stage took. A nil receiver is a no-op.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun counts a finished run and, on success, stamps LastSuccess.
func (m *Metrics) RecordRun(result string, at time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// RecordBuckets sets the bucket gauges and adds the skipped item count.
func (m *Metrics) RecordBuckets(before, after, skipped int) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues("before").Set(float64(before))
	m.Events.WithLabelValues("after").Set(float64(after))
	m.ItemsSkipped.Add(float64(skipped))
}
