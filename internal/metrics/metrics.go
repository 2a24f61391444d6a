// Package metrics provides Prometheus metrics for the request pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client. A nil *Metrics is
// valid and records nothing, so wiring metrics stays optional.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	RefreshesTotal  *prometheus.CounterVec
	RateLimitWaits  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotikit_attempts_total",
				Help: "Total request attempts by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spotikit_attempt_duration_seconds",
				Help:    "Attempt latency by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotikit_retries_total",
				Help: "Retries by endpoint and reason.",
			},
			[]string{"endpoint", "reason"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotikit_token_refreshes_total",
				Help: "Token refresh exchanges by result.",
			},
			[]string{"result"},
		),
		RateLimitWaits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spotikit_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the local rate limiter.",
				Buckets: []float64{.01, .1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		registry: reg,
	}

	reg.MustRegister(m.AttemptsTotal)
	reg.MustRegister(m.AttemptDuration)
	reg.MustRegister(m.RetriesTotal)
	reg.MustRegister(m.RefreshesTotal)
	reg.MustRegister(m.RateLimitWaits)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt counts one network attempt.
func (m *Metrics) RecordAttempt(endpoint, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.AttemptDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordRetry counts a retry decision.
func (m *Metrics) RecordRetry(endpoint, reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordRateLimitWait observes time spent blocked in Acquire.
func (m *Metrics) RecordRateLimitWait(endpoint string, wait time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWaits.WithLabelValues(endpoint).Observe(wait.Seconds())
}
