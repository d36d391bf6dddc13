// Package metrics exposes process-wide Prometheus collectors for the HTTP
// surface and the lookup tiers. Run-level counters live in the progress
// Prometheus sink.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	lookupsTotal               *prometheus.CounterVec
	lookupDurationSeconds      *prometheus.HistogramVec
	pushSubscribers            prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wavalidator_lookups_total",
				Help: "Membership lookups, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		lookupDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wavalidator_lookup_duration_seconds",
				Help:    "Histogram of lookup latencies, labeled by tier.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"tier"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wavalidator_ratelimit_delay_seconds",
				Help:    "Time probes spent waiting for a rate limit token, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		pushSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wavalidator_push_subscribers",
				Help: "Number of connected push-channel subscribers.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLookup records one lookup against a tier.
func ObserveLookup(tier, outcome string, duration time.Duration) {
	Init()
	lookupsTotal.WithLabelValues(tier, outcome).Inc()
	lookupDurationSeconds.WithLabelValues(tier).Observe(duration.Seconds())
}

// AddPushSubscribers adjusts the connected subscriber gauge by delta.
func AddPushSubscribers(delta int) {
	Init()
	pushSubscribers.Add(float64(delta))
}

// ObserveRateLimitDelay records how long a probe waited for a token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}
