// Package metrics exposes Prometheus counters for store attempts, fallbacks, HTTP traffic and
// live feeds. All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipestock"

type Metrics struct {
	registry *prometheus.Registry

	StoreAttempts         *prometheus.CounterVec
	StoreFallbacks        *prometheus.CounterVec
	StoreUnavailable      *prometheus.CounterVec
	SubscriptionFailovers *prometheus.CounterVec
	BreakerState          *prometheus.GaugeVec
	LedgerFailures        prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	LiveSubscribers     *prometheus.GaugeVec
	LowStockAlerts      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.StoreAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_attempts_total",
			Help:      "Store operations attempted per backend",
		},
		[]string{"backend", "operation", "status"},
	)
	m.StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Writes retried on the secondary backend after the primary failed",
		},
		[]string{"operation"},
	)
	m.StoreUnavailable = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_unavailable_total",
			Help:      "Operations that failed on both backends",
		},
		[]string{"operation"},
	)
	m.SubscriptionFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_failovers_total",
			Help:      "Subscriptions moved from the primary to the secondary backend",
		},
		[]string{"collection"},
	)
	m.BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	m.LedgerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_log_failures_total",
			Help:      "Stock mutations whose transaction record could not be written",
		},
	)
	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	m.LiveSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Open live feed connections",
		},
		[]string{"feed"},
	)
	m.LowStockAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_alerts_total",
			Help:      "Low stock push notifications sent",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		m.StoreAttempts,
		m.StoreFallbacks,
		m.StoreUnavailable,
		m.SubscriptionFailovers,
		m.BreakerState,
		m.LedgerFailures,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LiveSubscribers,
		m.LowStockAlerts,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordAttempt(backend, operation string, err error) {
	if m == nil {
		return
	}
	m.StoreAttempts.WithLabelValues(backend, operation, status(err)).Inc()
}

func (m *Metrics) RecordFallback(operation string) {
	if m == nil {
		return
	}
	m.StoreFallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordUnavailable(operation string) {
	if m == nil {
		return
	}
	m.StoreUnavailable.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordFailover(collection string) {
	if m == nil {
		return
	}
	m.SubscriptionFailovers.WithLabelValues(collection).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordLedgerFailure() {
	if m == nil {
		return
	}
	m.LedgerFailures.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) LiveSubscriberAdded(feed string) {
	if m == nil {
		return
	}
	m.LiveSubscribers.WithLabelValues(feed).Inc()
}

func (m *Metrics) LiveSubscriberRemoved(feed string) {
	if m == nil {
		return
	}
	m.LiveSubscribers.WithLabelValues(feed).Dec()
}

func (m *Metrics) RecordLowStockAlert(err error) {
	if m == nil {
		return
	}
	m.LowStockAlerts.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
