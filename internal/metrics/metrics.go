// Package metrics содержит коллекторы Prometheus сервиса calcio-domains.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry хранит коллекторы приложения.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calcio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calcio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calcio",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Total number of outbound backend function calls.",
		},
		[]string{"endpoint", "outcome"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calcio",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of outbound backend function calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"endpoint"},
	)

	checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calcio",
			Subsystem: "cart",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by payment method and result.",
		},
		[]string{"method", "result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calcio",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live browser sessions.",
		},
	)

	tokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calcio",
			Subsystem: "freename",
			Name:      "token_refreshes_total",
			Help:      "Number of registrar token authentications.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		backendCalls,
		backendDuration,
		checkouts,
		activeSessions,
		tokenRefreshes,
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP фиксирует обработанный HTTP-запрос.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveBackendCall фиксирует вызов функции бэкенда.
func ObserveBackendCall(endpoint, outcome string, d time.Duration) {
	backendCalls.WithLabelValues(endpoint, outcome).Inc()
	backendDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveCheckout фиксирует попытку оплаты.
func ObserveCheckout(method string, ok bool) {
	result := "failed"
	if ok {
		result = "succeeded"
	}
	checkouts.WithLabelValues(method, result).Inc()
}

// SetActiveSessions обновляет число живых сессий.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// IncTokenRefresh учитывает повторную аутентификацию у регистратора.
func IncTokenRefresh() {
	tokenRefreshes.Inc()
}
