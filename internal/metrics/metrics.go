// Package metrics exposes Prometheus collectors for HTTP traffic, payment
// outcomes and generated components.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "x402ui"

// Metrics holds the collectors of one service instance.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	payments       *prometheus.CounterVec
	revenue        *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	components     *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "total",
			Help:      "Payment checks by method and outcome.",
		}, []string{"method", "outcome", "reason"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "received_atomic_total",
			Help:      "Verified payment amounts in atomic units of the asset.",
		}, []string{"asset"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying payments.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"outcome"}),
		components: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "components",
			Name:      "generated_total",
			Help:      "Components generated by template.",
		}, []string{"template"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.payments,
		m.revenue,
		m.verifyDuration,
		m.components,
		m.rateLimited,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPayment records a payment check. An empty reason means it was verified.
func (m *Metrics) RecordPayment(method, reason, asset string, amount uint64) {
	if reason == "" {
		m.payments.WithLabelValues(method, "verified", "").Inc()
		if asset == "" {
			asset = "SOL"
		}
		m.revenue.WithLabelValues(asset).Add(float64(amount))
		return
	}
	m.payments.WithLabelValues(method, "rejected", reason).Inc()
}

// ObserveVerification records how long a payment check took.
func (m *Metrics) ObserveVerification(outcome string, duration time.Duration) {
	m.verifyDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordComponent counts a generated component.
func (m *Metrics) RecordComponent(template string) {
	m.components.WithLabelValues(template).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
