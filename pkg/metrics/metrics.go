// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the engine and the
// proxy. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionDuration prometheus.Histogram

	RequestsTotal   *prometheus.CounterVec
	RequestSize     prometheus.Histogram
	ResponseSize    prometheus.Histogram
	HandlerFailures *prometheus.CounterVec

	Sessions     prometheus.Gauge
	AuthAttempts *prometheus.CounterVec

	BackendRequestsTotal *prometheus.CounterVec
	BackendErrors        *prometheus.CounterVec
	BackendDuration      *prometheus.HistogramVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// New registers all collectors under namespace on reg. A nil reg uses the
// default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "weaprous"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently active connections",
		}),
		ConnectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Connection duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests answered",
		}, []string{"method", "status"}),
		RequestSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_size_bytes",
			Help:      "Request size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}),
		ResponseSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_size_bytes",
			Help:      "Response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}),
		HandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total number of handler errors and panics",
		}, []string{"path"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of sessions held in the store",
		}),
		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Total number of login attempts",
		}, []string{"result"}),
		BackendRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of forwarded requests",
		}, []string{"backend", "status"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total number of backend errors",
		}, []string{"backend", "error_type"}),
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Backend round trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"backend"}),
		CircuitBreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of circuit breaker trips",
		}, []string{"backend"}),
	}
}

// ObserveConnection tracks a connection lifecycle.
func (m *Metrics) ObserveConnection(f func() error) error {
	if m == nil {
		return f()
	}
	m.ActiveConnections.Inc()
	defer m.ActiveConnections.Dec()

	start := time.Now()
	defer func() {
		m.ConnectionDuration.Observe(time.Since(start).Seconds())
	}()

	return f()
}

// ObserveRequest records one answered request.
func (m *Metrics) ObserveRequest(method string, status, reqSize, respSize int) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestSize.Observe(float64(reqSize))
	m.ResponseSize.Observe(float64(respSize))
}

// HandlerFailed counts a handler that returned an error or panicked.
func (m *Metrics) HandlerFailed(path string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(path).Inc()
}

// SetSessions reports the session store size.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

// AuthAttempt counts a login attempt by result ("success" or "failure").
func (m *Metrics) AuthAttempt(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// ObserveBackend records one forward to backend. errType is empty on success.
func (m *Metrics) ObserveBackend(backend string, d time.Duration, errType string) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(backend).Observe(d.Seconds())
	status := "success"
	if errType != "" {
		status = "error"
		m.BackendErrors.WithLabelValues(backend, errType).Inc()
	}
	m.BackendRequestsTotal.WithLabelValues(backend, status).Inc()
}

// SetBreakerState reports the breaker state of backend. Entering state 2
// (open) counts as a trip.
func (m *Metrics) SetBreakerState(backend string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
	if state == 2 {
		m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
	}
}
