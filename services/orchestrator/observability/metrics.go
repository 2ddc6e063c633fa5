// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the care gateway.
//
// # Description
//
// This package implements Prometheus metrics for the call channel and the
// one-shot turn stream. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Latency histograms (time to first fragment, total duration)
//   - Active stream gauges
//   - Call channel protocol counters (keepalives, duplicates, call ends)
//
// Agent-level metrics live in services/care/observability.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil receiver.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian_care"

const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// # Fields
//
//   - RequestsTotal: Counter of streamed replies by endpoint and status
//   - TimeToFirstFragmentSeconds: Histogram of time to first reply fragment
//   - StreamDurationSeconds: Histogram of total reply duration
//   - ActiveStreams: Gauge of open call channels and turn streams
//   - ErrorsTotal: Counter of errors by endpoint and code
//   - KeepAlivesTotal: Counter of heartbeat pings sent
//   - ClientDisconnectsTotal: Counter of clients lost mid-stream
//   - DuplicateMessagesTotal: Counter of redelivered message ids
//   - CallsEndedTotal: Counter of finished calls by reason
type GatewayMetrics struct {
	RequestsTotal              *prometheus.CounterVec
	TimeToFirstFragmentSeconds *prometheus.HistogramVec
	StreamDurationSeconds      *prometheus.HistogramVec
	ActiveStreams              *prometheus.GaugeVec
	ErrorsTotal                *prometheus.CounterVec
	KeepAlivesTotal            *prometheus.CounterVec
	ClientDisconnectsTotal     *prometheus.CounterVec
	DuplicateMessagesTotal     prometheus.Counter
	CallsEndedTotal            *prometheus.CounterVec
}

// DefaultMetrics is set by InitMetrics.
var DefaultMetrics *GatewayMetrics

// InitMetrics registers the gateway metrics with the default registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = NewGatewayMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewGatewayMetrics registers the gateway metrics with reg.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	f := promauto.With(reg)
	return &GatewayMetrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total streamed replies by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstFragmentSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_fragment_seconds",
				Help:      "Time from subject message to first reply fragment in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total reply stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Number of open call channels and turn streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total gateway errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "keepalives_total",
				Help:      "Total heartbeat pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during a reply",
			},
			[]string{"endpoint"},
		),

		DuplicateMessagesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "duplicate_messages_total",
				Help:      "Total redelivered call messages acknowledged without processing",
			},
		),

		CallsEndedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "calls_ended_total",
				Help:      "Total finished calls by reason",
			},
			[]string{"reason"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeAgent            ErrorCode = "agent_error"
	ErrorCodeExhausted        ErrorCode = "retry_exhausted"
	ErrorCodeProtocol         ErrorCode = "protocol"
	ErrorCodeHeartbeatTimeout ErrorCode = "heartbeat_timeout"
	ErrorCodeInternal         ErrorCode = "internal"
)

// Endpoint represents a gateway endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointCall is the duplex websocket call channel.
	EndpointCall Endpoint = "call_ws"

	// EndpointTurn is the one-shot SSE turn stream.
	EndpointTurn Endpoint = "turn_sse"
)

// End reasons.
const (
	EndReasonAgent      = "agent"
	EndReasonClient     = "client"
	EndReasonDisconnect = "disconnect"
)

// =============================================================================
// Helper Methods
// =============================================================================

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed reply.
func (m *GatewayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

// RecordError records a gateway error.
func (m *GatewayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *GatewayMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *GatewayMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstFragment records the first-fragment latency.
func (m *GatewayMetrics) RecordTimeToFirstFragment(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstFragmentSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total reply duration.
func (m *GatewayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *GatewayMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *GatewayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordDuplicate increments the duplicate message counter.
func (m *GatewayMetrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateMessagesTotal.Inc()
}

// RecordCallEnded counts a finished call.
func (m *GatewayMetrics) RecordCallEnded(reason string) {
	if m == nil {
		return
	}
	m.CallsEndedTotal.WithLabelValues(reason).Inc()
}
