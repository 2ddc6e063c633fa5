// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// stubWorker returns a canned result, optionally after a delay.
type stubWorker struct {
	name   string
	active bool
	delay  time.Duration
	result *WorkerResult
	err    error
	panics bool
}

func (s *stubWorker) Name() string                 { return s.name }
func (s *stubWorker) ShouldActivate(_ string) bool { return s.active }

func (s *stubWorker) Analyze(ctx context.Context, _ string, _ WorkerContext) (*WorkerResult, error) {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.WorkerName = s.name
	return &r, nil
}

func stub(name string, p Priority, conf float64, mod func(*WorkerResult)) *stubWorker {
	r := newResult(name, p)
	r.Confidence = conf
	if mod != nil {
		mod(r)
	}
	return &stubWorker{name: name, active: true, result: r}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (o *recordingObserver) ObserveWorker(name, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]string{}
	}
	o.outcomes[name] = outcome
}

func TestOrchestrate_DedupAndCap(t *testing.T) {
	a := stub("a", PriorityHigh, 0.9, func(r *WorkerResult) {
		r.ToolRecommendations = []string{"a", "b"}
		r.ResponseHints = []string{"h1", "h2"}
		r.Concerns = []string{"c1"}
	})
	b := stub("b", PriorityNormal, 0.9, func(r *WorkerResult) {
		r.ToolRecommendations = []string{"b", "c"}
		r.ResponseHints = []string{"h2", "h3"}
		r.Concerns = []string{"c1", "c2"}
	})

	o := NewOrchestrator([]Worker{a, b}, OrchestratorConfig{MaxTools: 2})
	res := o.Orchestrate(context.Background(), "x", WorkerContext{})

	assert.Equal(t, []string{"a", "b"}, res.ToolRecommendations)
	assert.Equal(t, []string{"h1", "h2", "h3"}, res.ResponseHints)
	assert.Equal(t, []string{"c1", "c2"}, res.Concerns)
	assert.Equal(t, []string{"a", "b"}, res.WorkersActivated)

	o = NewOrchestrator([]Worker{a, b}, DefaultOrchestratorConfig())
	res = o.Orchestrate(context.Background(), "x", WorkerContext{})
	assert.Equal(t, []string{"a", "b", "c"}, res.ToolRecommendations)
}

func TestOrchestrate_PriorityDominance(t *testing.T) {
	low := stub("low", PriorityLow, 0.9, func(r *WorkerResult) {
		r.Intent = "low_intent"
		r.Tone = "low_tone"
	})
	high := stub("high", PriorityHigh, 0.8, func(r *WorkerResult) {
		r.Intent = "high_intent"
		r.Tone = "high_tone"
	})

	// Registration order puts the low-priority worker first.
	o := NewOrchestrator([]Worker{low, high}, OrchestratorConfig{})
	res := o.Orchestrate(context.Background(), "x", WorkerContext{})

	assert.Equal(t, PriorityHigh, res.OverallPriority)
	assert.Equal(t, "high_intent", res.PrimaryIntent)
	assert.Equal(t, "high_tone", res.Tone)
	require.Len(t, res.WorkerResults, 2)
	assert.Equal(t, "high", res.WorkerResults[0].WorkerName)
}

func TestOrchestrate_LowConfidenceIntentIgnored(t *testing.T) {
	w := stub("w", PriorityHigh, 0.5, func(r *WorkerResult) { r.Intent = "maybe" })
	o := NewOrchestrator([]Worker{w}, OrchestratorConfig{})

	res := o.Orchestrate(context.Background(), "x", WorkerContext{})
	assert.Empty(t, res.PrimaryIntent)
}

func TestOrchestrate_TimedOutWorkerExcluded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	slow := stub("slow", PriorityCritical, 1.0, nil)
	slow.delay = time.Second
	obs := &recordingObserver{}

	o := NewOrchestrator([]Worker{slow}, OrchestratorConfig{WorkerTimeout: 20 * time.Millisecond},
		WithWorkerObserver(obs))

	start := time.Now()
	res := o.Orchestrate(context.Background(), "x", WorkerContext{})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, PriorityNormal, res.OverallPriority)
	assert.Empty(t, res.WorkerResults)
	assert.Equal(t, []string{"slow"}, res.WorkersActivated)
	assert.Equal(t, OutcomeTimeout, obs.outcomes["slow"])
}

func TestOrchestrate_FailuresIsolated(t *testing.T) {
	ok := stub("ok", PriorityHigh, 0.8, func(r *WorkerResult) { r.Intent = "fine" })
	bad := &stubWorker{name: "bad", active: true, err: errors.New("nope")}
	boom := &stubWorker{name: "boom", active: true, panics: true}
	slow := stub("slow", PriorityCritical, 1.0, nil)
	slow.delay = time.Second
	obs := &recordingObserver{}

	o := NewOrchestrator([]Worker{bad, boom, slow, ok},
		OrchestratorConfig{WorkerTimeout: 50 * time.Millisecond}, WithWorkerObserver(obs))
	res := o.Orchestrate(context.Background(), "x", WorkerContext{})

	require.Len(t, res.WorkerResults, 1)
	assert.Equal(t, "fine", res.PrimaryIntent)
	assert.Equal(t, PriorityHigh, res.OverallPriority)
	assert.Equal(t, OutcomeError, obs.outcomes["bad"])
	assert.Equal(t, OutcomePanic, obs.outcomes["boom"])
	assert.Equal(t, OutcomeTimeout, obs.outcomes["slow"])
	assert.Equal(t, OutcomeSuccess, obs.outcomes["ok"])
}

func TestOrchestrate_Selection(t *testing.T) {
	idle := stub("idle", PriorityHigh, 0.9, nil)
	idle.active = false
	forced := stub("forced", PriorityLow, 0.9, nil)
	forced.active = false

	o := NewOrchestrator([]Worker{idle, forced}, OrchestratorConfig{AlwaysRun: []string{"forced"}})
	res := o.Orchestrate(context.Background(), "x", WorkerContext{})

	assert.Equal(t, []string{"forced"}, res.WorkersActivated)
	assert.Equal(t, PriorityLow, res.OverallPriority)
}

func TestOrchestrate_NoneSelected(t *testing.T) {
	o := NewOrchestrator([]Worker{}, OrchestratorConfig{})
	res := o.Orchestrate(context.Background(), "안녕하세요", WorkerContext{})

	assert.Equal(t, PriorityNormal, res.OverallPriority)
	assert.Empty(t, res.WorkersActivated)
	assert.NotNil(t, res.ToolRecommendations)
	assert.False(t, res.HasUrgentConcerns())
}

func TestOrchestrate_DefaultWorkers(t *testing.T) {
	o := NewOrchestrator(nil, DefaultOrchestratorConfig())
	res := o.Orchestrate(context.Background(), "숨을 못 쉬겠어요", WorkerContext{ConversationID: "c1"})

	assert.Equal(t, PriorityCritical, res.OverallPriority)
	assert.Contains(t, res.ToolRecommendations, "notify_caregiver")
	assert.Contains(t, res.UrgentFlags, "emergency_health_situation")
	assert.True(t, res.HasUrgentConcerns())
}

func TestOrchestrator_WorkerManagement(t *testing.T) {
	o := NewOrchestrator(nil, OrchestratorConfig{})
	require.Len(t, o.Workers(), 3)

	assert.NotNil(t, o.Worker(HealthWorkerName))
	assert.True(t, o.RemoveWorker(HealthWorkerName))
	assert.False(t, o.RemoveWorker(HealthWorkerName))
	assert.Nil(t, o.Worker(HealthWorkerName))

	o.AddWorker(stub("extra", PriorityLow, 0.1, nil))
	ws := o.Workers()
	require.Len(t, ws, 3)
	assert.Equal(t, "extra", ws[2].Name())
}
