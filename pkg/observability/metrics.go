// Package observability exposes Prometheus metrics for a pgfront server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for pgfront.
type Metrics struct {
	// Counters
	ClientConnectionsTotal *prometheus.CounterVec
	AuthFailuresTotal      *prometheus.CounterVec
	QueriesTotal           *prometheus.CounterVec
	CancelRequestsTotal    *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec

	// Gauges
	ClientConnectionsActive *prometheus.GaugeVec

	// Histograms
	QueryDuration *prometheus.HistogramVec
}

// DefaultMetrics creates a new Metrics instance with all metrics registered
// on the default registry.
func DefaultMetrics() *Metrics {
	return &Metrics{
		ClientConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfront_client_connections_total",
				Help: "Total number of client connections",
			},
			[]string{"database", "user"},
		),
		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfront_auth_failures_total",
				Help: "Total number of failed authentication attempts",
			},
			[]string{"method"},
		),
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfront_queries_total",
				Help: "Total number of queries executed",
			},
			[]string{"database", "user", "query_type", "status"},
		),
		CancelRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfront_cancel_requests_total",
				Help: "Total number of cancel requests received",
			},
			[]string{"status"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfront_errors_total",
				Help: "Total number of errors sent to clients by SQLSTATE",
			},
			[]string{"sqlstate"},
		),

		ClientConnectionsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgfront_client_connections_active",
				Help: "Number of active client connections",
			},
			[]string{"database", "user"},
		),

		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgfront_query_duration_seconds",
				Help:    "Query execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"database", "user", "query_type"},
		),
	}
}

// RecordClientConnection increments the connection counter and gauge.
func (m *Metrics) RecordClientConnection(database, user string) {
	if m == nil {
		return
	}
	m.ClientConnectionsTotal.WithLabelValues(database, user).Inc()
	m.ClientConnectionsActive.WithLabelValues(database, user).Inc()
}

// RecordClientDisconnect decrements the active connections gauge.
func (m *Metrics) RecordClientDisconnect(database, user string) {
	if m == nil {
		return
	}
	m.ClientConnectionsActive.WithLabelValues(database, user).Dec()
}

// RecordAuthFailure counts a failed authentication attempt.
func (m *Metrics) RecordAuthFailure(method string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(method).Inc()
}

// RecordQuery records a query execution.
func (m *Metrics) RecordQuery(database, user, queryType string, durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(database, user, queryType, status).Inc()
	m.QueryDuration.WithLabelValues(database, user, queryType).Observe(durationSeconds)
}

// RecordCancelRequest counts a cancel request; matched reports whether it
// resolved to a live connection.
func (m *Metrics) RecordCancelRequest(matched bool) {
	if m == nil {
		return
	}
	status := "matched"
	if !matched {
		status = "unmatched"
	}
	m.CancelRequestsTotal.WithLabelValues(status).Inc()
}

// RecordError counts an ErrorResponse sent to a client.
func (m *Metrics) RecordError(sqlstate string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(sqlstate).Inc()
}
