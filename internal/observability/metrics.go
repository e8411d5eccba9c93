// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the gateway.
package observability

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	ResponseTimeSeconds *prometheus.HistogramVec
	CircuitState        *prometheus.GaugeVec
	CircuitFailures     *prometheus.CounterVec
	CircuitSuccesses    *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewMetrics registers all gateway metrics on the given registry.
func NewMetrics(reg *prometheus.Registry, logger *slog.Logger) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of requests handled by the gateway",
			},
			[]string{"route", "method", "status_code"},
		),
		ResponseTimeSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_response_time_seconds",
				Help:    "Gateway response time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"route", "method"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service_id"},
		),
		CircuitFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_failures_total",
				Help: "Total number of failures recorded per circuit breaker",
			},
			[]string{"service_id", "error_type"},
		),
		CircuitSuccesses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_successes_total",
				Help: "Total number of successes recorded per circuit breaker",
			},
			[]string{"service_id"},
		),
		gatherer: reg,
		logger:   logger,
	}
}

// RecordRequest records one handled request.
func (m *Metrics) RecordRequest(route, method string, statusCode int, elapsed time.Duration) {
	defer m.swallow("record_request")
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	m.ResponseTimeSeconds.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordBreakerSuccess records a successful upstream outcome.
func (m *Metrics) RecordBreakerSuccess(serviceID string) {
	defer m.swallow("record_breaker_success")
	m.CircuitSuccesses.WithLabelValues(serviceID).Inc()
}

// RecordBreakerFailure records a failed upstream outcome.
func (m *Metrics) RecordBreakerFailure(serviceID, errorType string) {
	defer m.swallow("record_breaker_failure")
	m.CircuitFailures.WithLabelValues(serviceID, errorType).Inc()
}

// SetBreakerState sets the state gauge for a breaker.
func (m *Metrics) SetBreakerState(serviceID string, state int) {
	defer m.swallow("set_breaker_state")
	m.CircuitState.WithLabelValues(serviceID).Set(float64(state))
}

// SnapshotText renders all metrics in Prometheus text exposition format.
func (m *Metrics) SnapshotText() (string, error) {
	families, err := m.gatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// swallow keeps metric recording off the failure path: label faults are
// logged, never propagated.
func (m *Metrics) swallow(op string) {
	if r := recover(); r != nil && m.logger != nil {
		m.logger.Error("metric recording failed",
			slog.String("operation", op),
			slog.Any("panic", r))
	}
}
