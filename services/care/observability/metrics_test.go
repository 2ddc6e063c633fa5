// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
)

func newTestMetrics(t *testing.T) *CareMetrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestTurnLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.TurnStarted()
	m.TurnStarted()
	if got := testutil.ToFloat64(m.ActiveTurns); got != 2 {
		t.Errorf("ActiveTurns = %v, want 2", got)
	}

	m.TurnFinished("completed", 2*time.Second)
	if got := testutil.ToFloat64(m.ActiveTurns); got != 1 {
		t.Errorf("ActiveTurns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("TurnsTotal[completed] = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.TurnDurationSeconds); got != 1 {
		t.Errorf("TurnDurationSeconds series = %d, want 1", got)
	}
}

func TestAttemptsAndRetries(t *testing.T) {
	m := newTestMetrics(t)

	m.AttemptFinished("retry")
	m.AttemptFinished("retry")
	m.AttemptFinished("accepted")
	m.RetryScheduled("evaluation")
	m.ObservePhase("ACT", 100*time.Millisecond)

	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("retry")); got != 2 {
		t.Errorf("AttemptsTotal[retry] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("evaluation")); got != 1 {
		t.Errorf("RetriesTotal[evaluation] = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.PhaseDurationSeconds); got != 1 {
		t.Errorf("PhaseDurationSeconds series = %d, want 1", got)
	}
}

func TestComponentHooks(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveWorker("health_monitor", "success", time.Millisecond)
	m.ObserveWorker("health_monitor", "timeout", 5*time.Second)
	m.ObserveTool("end_call", true, time.Millisecond)
	m.ObserveTool("end_call", false, time.Millisecond)

	if got := testutil.ToFloat64(m.WorkerRunsTotal.WithLabelValues("health_monitor", "timeout")); got != 1 {
		t.Errorf("WorkerRunsTotal[timeout] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("end_call", "error")); got != 1 {
		t.Errorf("ToolExecutionsTotal[error] = %v, want 1", got)
	}
}

func TestObserveEvaluation(t *testing.T) {
	m := newTestMetrics(t)

	r := evaluator.Perfect()
	r.FallbackUsed = true
	m.ObserveEvaluation(r)
	m.ObserveEvaluation(nil)

	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("heuristic", "pass")); got != 1 {
		t.Errorf("EvaluationsTotal[heuristic,pass] = %v, want 1", got)
	}
	// five dimensions plus overall
	if got := testutil.CollectAndCount(m.EvaluationScore); got != 6 {
		t.Errorf("EvaluationScore series = %d, want 6", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *CareMetrics
	m.TurnStarted()
	m.TurnFinished("completed", time.Second)
	m.AttemptFinished("accepted")
	m.RetryScheduled("evaluation")
	m.ObservePhase("PLAN", time.Millisecond)
	m.ObserveWorker("w", "success", time.Millisecond)
	m.ObserveTool("t", true, time.Millisecond)
	m.ObserveEvaluation(evaluator.Perfect())
}
