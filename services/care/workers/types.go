// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workers implements the parallel analyzers consulted during the
// planning phase of a turn, and the orchestrator that fans out to them and
// merges their advice.
//
// # Description
//
// Each Worker inspects a single utterance for one concern (health, emotion,
// scheduling) using keyword lexicons and returns a WorkerResult with a
// priority, an optional intent, tool recommendations and response guidance.
// The Orchestrator runs the workers whose triggers match, each under its own
// timeout, and aggregates the successful results deterministically.
//
// # Thread Safety
//
// Workers are stateless after construction and safe for concurrent use.
// Orchestrator is safe for concurrent use.
package workers

import (
	"context"
	"time"
)

// =============================================================================
// Priority
// =============================================================================

// Priority is the urgency a worker assigns to an utterance. Higher is more
// urgent; values are totally ordered.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityUrgent   Priority = 4
	PriorityCritical Priority = 5
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// =============================================================================
// Worker Contract
// =============================================================================

// WorkerContext is the profile and follow-up state handed to workers.
type WorkerContext struct {
	ConversationID  string
	ElderlyID       int64
	Name            string
	Age             int
	HealthCondition string
	IsGreeting      bool

	// Follow-up signals carried over from earlier turns.
	HadHealthConcern       bool
	HealthConcernsRaised   bool
	EmotionalDistressNoted bool
	MissedMedication       bool
}

// IsZero reports whether no context was supplied.
func (c WorkerContext) IsZero() bool {
	return c.ConversationID == "" && c.ElderlyID == 0 && c.Name == "" && c.Age == 0 &&
		c.HealthCondition == "" && !c.IsGreeting && !c.HadHealthConcern &&
		!c.HealthConcernsRaised && !c.EmotionalDistressNoted && !c.MissedMedication
}

// WorkerResult is one worker's analysis of an utterance.
type WorkerResult struct {
	WorkerName string   `json:"worker_name"`
	Success    bool     `json:"success"`
	Priority   Priority `json:"priority"`

	// Intent is empty when the worker detected none.
	Intent     string  `json:"detected_intent,omitempty"`
	Confidence float64 `json:"confidence"`

	SuggestedActions    []string `json:"suggested_actions"`
	ToolRecommendations []string `json:"tool_recommendations"`
	ResponseHints       []string `json:"response_hints"`
	Tone                string   `json:"tone_recommendation,omitempty"`
	Concerns            []string `json:"concerns"`
	UrgentFlags         []string `json:"urgent_flags"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Worker analyzes utterances for one concern.
type Worker interface {
	// Name uniquely identifies the worker within an orchestrator.
	Name() string

	// ShouldActivate reports whether the worker's triggers match text.
	ShouldActivate(text string) bool

	// Analyze produces the worker's advice. Implementations must return
	// promptly when ctx is cancelled.
	Analyze(ctx context.Context, text string, wctx WorkerContext) (*WorkerResult, error)
}

// =============================================================================
// Helpers
// =============================================================================

func newResult(name string, p Priority) *WorkerResult {
	return &WorkerResult{
		WorkerName:          name,
		Success:             true,
		Priority:            p,
		SuggestedActions:    []string{},
		ToolRecommendations: []string{},
		ResponseHints:       []string{},
		Concerns:            []string{},
		UrgentFlags:         []string{},
		Metadata:            map[string]any{},
		Timestamp:           time.Now().UTC(),
	}
}
