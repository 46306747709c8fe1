// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	webhooks *prometheus.CounterVec
	ingested *prometheus.CounterVec
	remote   *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gofulcrum",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"config", "outcome"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gofulcrum",
			Name:      "ingested_entities_total",
			Help:      "Entities written through the upsert pipeline.",
		}, []string{"kind"}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gofulcrum",
			Name:      "remote_calls_total",
			Help:      "Calls made to the remote API.",
		}, []string{"resource", "call", "result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gofulcrum",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhooks, m.ingested, m.remote, m.requests)
	}
	return m
}

// Webhook counts one webhook outcome ("ok", "whitelisted", "error", ...).
func (m *Metrics) Webhook(config, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(config, outcome).Inc()
}

// Ingested counts one pipeline write.
func (m *Metrics) Ingested(kind string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(kind).Inc()
}

// Remote counts one remote call; err decides the result label.
func (m *Metrics) Remote(resource, call string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remote.WithLabelValues(resource, call, result).Inc()
}

// Request observes one HTTP request duration in seconds.
func (m *Metrics) Request(route, method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, code).Observe(seconds)
}
