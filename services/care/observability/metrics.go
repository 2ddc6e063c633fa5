// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the care engine.
//
// # Description
//
// CareMetrics implements the observer hooks of the agent, the worker
// orchestrator, the evaluator and the tool registry. Metrics include:
//   - Turn and attempt counters (by outcome)
//   - Retry counters (by reason)
//   - Phase latency histograms
//   - Worker outcome counters and latency
//   - Tool execution counters and latency
//   - Evaluation score histograms (by dimension) and fallback counts
//   - Active turn gauge
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *CareMetrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian_care"

const (
	agentSubsystem     = "agent"
	workersSubsystem   = "workers"
	toolsSubsystem     = "tools"
	evaluatorSubsystem = "evaluator"
)

// CareMetrics holds all Prometheus metrics for the care engine.
type CareMetrics struct {
	// TurnsTotal counts turns by outcome (completed, exhausted, cancelled).
	TurnsTotal *prometheus.CounterVec

	// AttemptsTotal counts generation attempts by outcome
	// (accepted, retry, failed).
	AttemptsTotal *prometheus.CounterVec

	// RetriesTotal counts scheduled retries by reason
	// (evaluation, provider, error).
	RetriesTotal *prometheus.CounterVec

	// PhaseDurationSeconds measures time spent per phase.
	PhaseDurationSeconds *prometheus.HistogramVec

	// TurnDurationSeconds measures whole-turn latency.
	TurnDurationSeconds *prometheus.HistogramVec

	// ActiveTurns tracks turns in progress.
	ActiveTurns prometheus.Gauge

	// WorkerRunsTotal counts worker runs by worker and outcome.
	WorkerRunsTotal *prometheus.CounterVec

	// WorkerDurationSeconds measures worker latency.
	WorkerDurationSeconds *prometheus.HistogramVec

	// ToolExecutionsTotal counts tool executions by tool and status.
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolDurationSeconds measures tool latency.
	ToolDurationSeconds *prometheus.HistogramVec

	// EvaluationScore records dimension and overall scores.
	EvaluationScore *prometheus.HistogramVec

	// EvaluationsTotal counts evaluations by method (llm, heuristic) and
	// verdict (pass, retry).
	EvaluationsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance set by InitMetrics.
var DefaultMetrics *CareMetrics

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *CareMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *CareMetrics {
	f := promauto.With(reg)
	scoreBuckets := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}

	return &CareMetrics{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "turns_total",
			Help:      "Total conversation turns by outcome",
		}, []string{"outcome"}),

		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "attempts_total",
			Help:      "Total generation attempts by outcome",
		}, []string{"outcome"}),

		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "retries_total",
			Help:      "Total retries scheduled by reason",
		}, []string{"reason"}),

		PhaseDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each agent phase in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"phase"}),

		TurnDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "turn_duration_seconds",
			Help:      "Total turn duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		ActiveTurns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "active_turns",
			Help:      "Number of turns currently being processed",
		}),

		WorkerRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: workersSubsystem,
			Name:      "runs_total",
			Help:      "Total worker runs by worker and outcome",
		}, []string{"worker", "outcome"}),

		WorkerDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: workersSubsystem,
			Name:      "duration_seconds",
			Help:      "Worker analysis duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.01, 0.1, 1, 5},
		}, []string{"worker"}),

		ToolExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: toolsSubsystem,
			Name:      "executions_total",
			Help:      "Total tool executions by tool and status",
		}, []string{"tool", "status"}),

		ToolDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: toolsSubsystem,
			Name:      "duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"tool"}),

		EvaluationScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: evaluatorSubsystem,
			Name:      "score",
			Help:      "Evaluation scores by dimension",
			Buckets:   scoreBuckets,
		}, []string{"dimension"}),

		EvaluationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: evaluatorSubsystem,
			Name:      "evaluations_total",
			Help:      "Total evaluations by method and verdict",
		}, []string{"method", "verdict"}),
	}
}

// =============================================================================
// Agent Hooks
// =============================================================================

// TurnStarted increments the active turn gauge.
func (m *CareMetrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished decrements the active turn gauge and records the outcome.
func (m *CareMetrics) TurnFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// AttemptFinished records one generation attempt.
func (m *CareMetrics) AttemptFinished(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// RetryScheduled records a retry and its reason.
func (m *CareMetrics) RetryScheduled(reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// ObservePhase records time spent in a phase.
func (m *CareMetrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDurationSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// =============================================================================
// Component Hooks
// =============================================================================

// ObserveWorker records a worker run.
func (m *CareMetrics) ObserveWorker(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkerRunsTotal.WithLabelValues(name, outcome).Inc()
	m.WorkerDurationSeconds.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveTool records a tool execution.
func (m *CareMetrics) ObserveTool(name string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
	m.ToolDurationSeconds.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveEvaluation records dimension scores and the verdict.
func (m *CareMetrics) ObserveEvaluation(r *evaluator.EvaluationResult) {
	if m == nil || r == nil {
		return
	}
	for _, d := range evaluator.Dimensions {
		m.EvaluationScore.WithLabelValues(string(d)).Observe(r.Score(d).Score)
	}
	m.EvaluationScore.WithLabelValues("overall").Observe(r.OverallScore)

	method := "llm"
	if r.FallbackUsed {
		method = "heuristic"
	}
	verdict := "pass"
	if r.ShouldRetry {
		verdict = "retry"
	}
	m.EvaluationsTotal.WithLabelValues(method, verdict).Inc()
}
