// Package metrics defines the Prometheus collectors exported by the portal.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the client-side collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// APIRequests counts gateway calls by client, method and outcome
	// ("ok" or one of the typed error kinds).
	APIRequests *prometheus.CounterVec

	// APIRequestDuration tracks gateway call latency in seconds.
	APIRequestDuration *prometheus.HistogramVec

	// Unauthorized counts forced session teardowns after a 401.
	Unauthorized prometheus.Counter

	// SessionAuthenticated is 1 while a user is signed in.
	SessionAuthenticated prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zpay_api_requests_total",
				Help: "Gateway API requests by client, method and outcome",
			},
			[]string{"client", "method", "outcome"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zpay_api_request_duration_seconds",
				Help:    "Gateway API request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"client", "method"},
		),
		Unauthorized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zpay_api_unauthorized_total",
				Help: "Responses that forced a session teardown",
			},
		),
		SessionAuthenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zpay_session_authenticated",
				Help: "1 while a user is signed in, 0 otherwise",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.APIRequests, m.APIRequestDuration, m.Unauthorized, m.SessionAuthenticated)
	}
	return m
}

// ObserveRequest records one finished gateway call.
func (m *Metrics) ObserveRequest(client, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(client, method, outcome).Inc()
	m.APIRequestDuration.WithLabelValues(client, method).Observe(elapsed.Seconds())
}

// ObserveUnauthorized records a forced teardown.
func (m *Metrics) ObserveUnauthorized() {
	if m == nil {
		return
	}
	m.Unauthorized.Inc()
}

// SetAuthenticated updates the session gauge.
func (m *Metrics) SetAuthenticated(authenticated bool) {
	if m == nil {
		return
	}
	if authenticated {
		m.SessionAuthenticated.Set(1)
		return
	}
	m.SessionAuthenticated.Set(0)
}
