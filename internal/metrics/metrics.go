package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the firewall. A private
// registry keeps the scrape surface to exactly what we register here.
type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal    *prometheus.CounterVec // by verdict: "pass" | "flag"
	AnalyzerErrors *prometheus.CounterVec // by analyzer name
	CheckDuration  prometheus.Histogram
	EventsDropped  prometheus.Counter
}

// New creates and registers all firewall metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semfire",
			Name:      "checks_total",
			Help:      "Firewall checks by verdict.",
		}, []string{"verdict"}),
		AnalyzerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semfire",
			Name:      "analyzer_errors_total",
			Help:      "Analyzer invocations that faulted or timed out.",
		}, []string{"analyzer"}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "semfire",
			Name:      "check_duration_seconds",
			Help:      "End-to-end check latency.",
			// Analyzer fan-out is bounded by a short timeout, so the
			// buckets concentrate below 250ms.
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semfire",
			Name:      "events_dropped_total",
			Help:      "Decision events dropped because the writer buffer was full.",
		}),
	}

	registry.MustRegister(m.ChecksTotal, m.AnalyzerErrors, m.CheckDuration, m.EventsDropped)
	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCheck increments the verdict counter and observes the latency.
func (m *Metrics) RecordCheck(manipulative bool, seconds float64) {
	verdict := "pass"
	if manipulative {
		verdict = "flag"
	}
	m.ChecksTotal.WithLabelValues(verdict).Inc()
	m.CheckDuration.Observe(seconds)
}
