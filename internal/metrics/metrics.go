// Package metrics exposes Prometheus instrumentation for contact submissions
// and rate limiting decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeAccepted       = "accepted"
	OutcomeInvalid        = "invalid"
	OutcomeDeliveryFailed = "delivery_failed"
)

// Rate limit decisions.
const (
	DecisionAllowed     = "allowed"
	DecisionRejected    = "rejected"
	DecisionUnavailable = "unavailable"
	DecisionError       = "error"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	delivery    prometheus.Histogram
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_submissions_total",
				Help: "Contact form submissions by outcome",
			},
			[]string{"outcome"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Rate limiter decisions for guarded endpoints",
			},
			[]string{"decision"},
		),
		delivery: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contact_delivery_seconds",
			Help:    "Time spent handing a submission to the mail transport",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.decisions,
		m.delivery,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Submission counts a submission outcome.
func (m *Metrics) Submission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// Decision counts a rate limit decision.
func (m *Metrics) Decision(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

// ObserveDelivery records how long a delivery attempt took.
func (m *Metrics) ObserveDelivery(d time.Duration) {
	m.delivery.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
