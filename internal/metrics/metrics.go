// Package metrics exports the pipeline's running counters in Prometheus
// format. The set mirrors the internal running stats; the registry is
// private so the status server exposes exactly these series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TotalBytes   prometheus.Counter
	Batches      prometheus.Counter
	Errors       prometheus.Counter
	ConnResets   prometheus.Counter
	ConnFailures prometheus.Counter
	HealthySlots prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TotalBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydrant_total_bytes",
			Help: "Bytes written into the bulk-copy stream, whether or not the transaction then committed.",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydrant_batches_processed_total",
			Help: "Flushes attempted, successful or not.",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydrant_batch_errors_total",
			Help: "Flushes that lost part of their batch.",
		}),
		ConnResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydrant_connection_resets_total",
			Help: "Successful recoveries of dead pool slots.",
		}),
		ConnFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "hydrant_connection_failures_total",
			Help: "Failed recovery attempts on dead pool slots.",
		}),
		HealthySlots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydrant_healthy_connections",
			Help: "Pool slots not in DEAD or PERMANENT_FAILURE.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
