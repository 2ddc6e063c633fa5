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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCare/services/care/lexicon"
)

// Worker outcome labels reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

// Observer receives one callback per worker run.
type Observer interface {
	ObserveWorker(name, outcome string, d time.Duration)
}

// OrchestratorConfig bounds worker fan-out and aggregation.
type OrchestratorConfig struct {
	// WorkerTimeout bounds each worker's Analyze call.
	WorkerTimeout time.Duration

	// MaxParallel bounds concurrently running workers.
	MaxParallel int

	// AlwaysRun names workers that run regardless of their triggers.
	AlwaysRun []string

	// MaxTools caps merged tool recommendations.
	MaxTools int

	// MaxHints caps merged response hints.
	MaxHints int
}

// DefaultOrchestratorConfig returns the production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		WorkerTimeout: 5 * time.Second,
		MaxParallel:   5,
		MaxTools:      3,
		MaxHints:      5,
	}
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	d := DefaultOrchestratorConfig()
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = d.WorkerTimeout
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.MaxTools <= 0 {
		c.MaxTools = d.MaxTools
	}
	if c.MaxHints <= 0 {
		c.MaxHints = d.MaxHints
	}
	return c
}

// OrchestratorResult is the merged advice of every successful worker.
type OrchestratorResult struct {
	WorkerResults       []*WorkerResult `json:"worker_results"`
	PrimaryIntent       string          `json:"primary_intent,omitempty"`
	OverallPriority     Priority        `json:"overall_priority"`
	ToolRecommendations []string        `json:"tool_recommendations"`
	ResponseHints       []string        `json:"response_hints"`
	Tone                string          `json:"tone_recommendation,omitempty"`
	Concerns            []string        `json:"concerns"`
	UrgentFlags         []string        `json:"urgent_flags"`
	WorkersActivated    []string        `json:"workers_activated"`
	Elapsed             time.Duration   `json:"elapsed"`
}

// HasUrgentConcerns reports whether any urgent flag was raised or the overall
// priority is URGENT or above.
func (r *OrchestratorResult) HasUrgentConcerns() bool {
	return len(r.UrgentFlags) > 0 || r.OverallPriority >= PriorityUrgent
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWorkerObserver sets the per-worker outcome observer.
func WithWorkerObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// Orchestrator fans an utterance out to matching workers and merges their
// results.
//
// # Thread Safety
//
// Safe for concurrent use. The worker list is guarded by an RWMutex; each
// Orchestrate call works on a snapshot.
type Orchestrator struct {
	mu       sync.RWMutex
	workers  []Worker
	config   OrchestratorConfig
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewOrchestrator creates an orchestrator over ws. A nil slice yields the
// standard health, emotion and schedule workers.
func NewOrchestrator(ws []Worker, config OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	if ws == nil {
		ws = DefaultWorkers()
	}
	o := &Orchestrator{
		workers: append([]Worker(nil), ws...),
		config:  config.withDefaults(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("care.workers"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultWorkers returns the standard worker set in registration order.
func DefaultWorkers() []Worker {
	return []Worker{NewHealthWorker(), NewEmotionWorker(), NewScheduleWorker()}
}

// AddWorker appends w.
func (o *Orchestrator) AddWorker(w Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workers = append(o.workers, w)
}

// RemoveWorker removes the worker called name and reports whether one existed.
func (o *Orchestrator) RemoveWorker(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, w := range o.workers {
		if w.Name() == name {
			o.workers = append(o.workers[:i], o.workers[i+1:]...)
			return true
		}
	}
	return false
}

// Worker returns the worker called name, or nil.
func (o *Orchestrator) Worker(name string) Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, w := range o.workers {
		if w.Name() == name {
			return w
		}
	}
	return nil
}

// Workers returns a snapshot of registered workers.
func (o *Orchestrator) Workers() []Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Worker(nil), o.workers...)
}

// =============================================================================
// Orchestration
// =============================================================================

// Orchestrate runs every selected worker and merges the results.
//
// # Description
//
// A worker is selected when it is named in AlwaysRun or its triggers match
// input. Selected workers run concurrently, at most MaxParallel at a time,
// each under its own WorkerTimeout. A worker that times out, errors or panics
// is logged and excluded; its siblings are unaffected.
//
// # Inputs
//
//   - ctx: Cancellation for the whole fan-out.
//   - input: The subject utterance.
//   - wctx: Profile and follow-up context.
//
// # Outputs
//
//   - *OrchestratorResult: Never nil. With no successful workers the result
//     is empty with NORMAL priority.
func (o *Orchestrator) Orchestrate(ctx context.Context, input string, wctx WorkerContext) *OrchestratorResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "workers.Orchestrator.Orchestrate")
	defer span.End()

	selected := o.selectWorkers(input)
	names := make([]string, len(selected))
	for i, w := range selected {
		names[i] = w.Name()
	}
	span.SetAttributes(attribute.StringSlice("workers.selected", names))

	results := o.runAll(ctx, selected, input, wctx)

	out := aggregate(results, o.config)
	out.WorkersActivated = names
	out.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.String("priority", out.OverallPriority.String()),
		attribute.String("primary_intent", out.PrimaryIntent),
	)
	o.logger.Debug("Workers orchestrated",
		slog.String("conversation_id", wctx.ConversationID),
		slog.Any("workers", names),
		slog.String("priority", out.OverallPriority.String()),
		slog.Duration("elapsed", out.Elapsed))
	return out
}

func (o *Orchestrator) selectWorkers(input string) []Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var selected []Worker
	for _, w := range o.workers {
		if contains(o.config.AlwaysRun, w.Name()) || w.ShouldActivate(input) {
			selected = append(selected, w)
		}
	}
	return selected
}

// runAll returns successful results in selection order.
func (o *Orchestrator) runAll(ctx context.Context, selected []Worker, input string, wctx WorkerContext) []*WorkerResult {
	if len(selected) == 0 {
		return nil
	}

	slots := make([]*WorkerResult, len(selected))
	var g errgroup.Group
	g.SetLimit(o.config.MaxParallel)

	for i, w := range selected {
		g.Go(func() error {
			slots[i] = o.runOne(ctx, w, input, wctx)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*WorkerResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, w Worker, input string, wctx WorkerContext) *WorkerResult {
	start := time.Now()
	wctxTimeout, cancel := context.WithTimeout(ctx, o.config.WorkerTimeout)
	defer cancel()

	type outcome struct {
		res *WorkerResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		res, err := w.Analyze(wctxTimeout, input, wctx)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-wctxTimeout.Done():
		out = outcome{err: wctxTimeout.Err()}
	}

	elapsed := time.Since(start)
	label := OutcomeSuccess
	var pe *panicError
	switch {
	case out.err == nil && out.res == nil:
		label = OutcomeError
		out.err = errors.New("worker returned no result")
	case errors.Is(out.err, context.DeadlineExceeded):
		label = OutcomeTimeout
	case errors.As(out.err, &pe):
		label = OutcomePanic
	case out.err != nil:
		label = OutcomeError
	}

	if o.observer != nil {
		o.observer.ObserveWorker(w.Name(), label, elapsed)
	}
	if label != OutcomeSuccess {
		o.logger.Warn("Worker failed",
			slog.String("worker", w.Name()),
			slog.String("outcome", label),
			slog.String("error", out.err.Error()),
			slog.Duration("elapsed", elapsed))
		return nil
	}
	return out.res
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("worker panicked: %v", e.value)
}

// aggregate merges results deterministically. results must be in selection
// order so the stable sort falls back to registration order.
func aggregate(results []*WorkerResult, cfg OrchestratorConfig) *OrchestratorResult {
	out := &OrchestratorResult{
		WorkerResults:       []*WorkerResult{},
		OverallPriority:     PriorityNormal,
		ToolRecommendations: []string{},
		ResponseHints:       []string{},
		Concerns:            []string{},
		UrgentFlags:         []string{},
	}
	if len(results) == 0 {
		return out
	}

	sorted := append([]*WorkerResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})
	out.WorkerResults = sorted
	out.OverallPriority = sorted[0].Priority

	for _, r := range sorted {
		if out.PrimaryIntent == "" && r.Intent != "" && r.Confidence > 0.5 {
			out.PrimaryIntent = r.Intent
		}
		if out.Tone == "" && r.Tone != "" {
			out.Tone = r.Tone
		}
		out.ToolRecommendations = appendCapped(out.ToolRecommendations, cfg.MaxTools, r.ToolRecommendations)
		out.ResponseHints = appendCapped(out.ResponseHints, cfg.MaxHints, r.ResponseHints)
		out.Concerns = lexicon.AppendUnique(out.Concerns, r.Concerns...)
		out.UrgentFlags = lexicon.AppendUnique(out.UrgentFlags, r.UrgentFlags...)
	}
	return out
}

func appendCapped(dst []string, limit int, values []string) []string {
	for _, v := range values {
		if len(dst) >= limit {
			return dst
		}
		dst = lexicon.AppendUnique(dst, v)
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
