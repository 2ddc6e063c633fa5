// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluator scores candidate replies before they are committed to a
// conversation and produces retry guidance for low-quality replies.
//
// # Description
//
// A reply is scored along five dimensions. The primary path asks a model to
// score the reply and return JSON; when that call fails, its output cannot be
// parsed, or LLM scoring is disabled, deterministic keyword heuristics are
// used instead. The overall score is a fixed weighted sum of the dimension
// scores.
package evaluator

import (
	"errors"
	"strconv"
	"strings"
)

// ErrParse indicates the model's scoring output could not be decoded.
var ErrParse = errors.New("evaluation output could not be parsed")

// =============================================================================
// Dimensions
// =============================================================================

// Dimension is one axis of reply quality.
type Dimension string

const (
	Relevance    Dimension = "relevance"
	Accuracy     Dimension = "accuracy"
	Empathy      Dimension = "empathy"
	Completeness Dimension = "completeness"
	Safety       Dimension = "safety"
)

// Dimensions lists every dimension in scoring order. Ties for the lowest
// score resolve to the earliest dimension in this list.
var Dimensions = []Dimension{Relevance, Accuracy, Empathy, Completeness, Safety}

// Weights are the fixed dimension weights; they sum to 1.0.
var Weights = map[Dimension]float64{
	Relevance:    0.25,
	Accuracy:     0.20,
	Empathy:      0.30,
	Completeness: 0.15,
	Safety:       0.10,
}

// DimensionScore is the score for a single dimension.
type DimensionScore struct {
	Dimension   Dimension `json:"dimension"`
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation"`
	Issues      []string  `json:"issues"`
}

// =============================================================================
// Results
// =============================================================================

// EvaluationResult is the outcome of scoring one reply.
type EvaluationResult struct {
	Relevance    DimensionScore `json:"relevance"`
	Accuracy     DimensionScore `json:"accuracy"`
	Empathy      DimensionScore `json:"empathy"`
	Completeness DimensionScore `json:"completeness"`
	Safety       DimensionScore `json:"safety"`

	OverallScore float64 `json:"overall_score"`

	// ShouldRetry reports overall < threshold. The caller applies any retry
	// budget.
	ShouldRetry bool   `json:"should_retry"`
	RetryReason string `json:"retry_reason,omitempty"`

	ImprovementHints []string `json:"improvement_hints"`
	Concerns         []string `json:"concerns"`
	UrgentFlags      []string `json:"urgent_flags"`

	// FallbackUsed is true when heuristics produced the scores.
	FallbackUsed bool `json:"fallback_used"`
}

// Score returns the score record for d.
func (r *EvaluationResult) Score(d Dimension) DimensionScore {
	switch d {
	case Relevance:
		return r.Relevance
	case Accuracy:
		return r.Accuracy
	case Empathy:
		return r.Empathy
	case Completeness:
		return r.Completeness
	default:
		return r.Safety
	}
}

func (r *EvaluationResult) set(s DimensionScore) {
	switch s.Dimension {
	case Relevance:
		r.Relevance = s
	case Accuracy:
		r.Accuracy = s
	case Empathy:
		r.Empathy = s
	case Completeness:
		r.Completeness = s
	case Safety:
		r.Safety = s
	}
}

// Perfect returns a result with every dimension at 1.0, used when reflection
// is disabled.
func Perfect() *EvaluationResult {
	r := &EvaluationResult{
		OverallScore:     1.0,
		ImprovementHints: []string{},
		Concerns:         []string{},
		UrgentFlags:      []string{},
	}
	for _, d := range Dimensions {
		r.set(DimensionScore{Dimension: d, Score: 1.0, Explanation: "반영 비활성화", Issues: []string{}})
	}
	return r
}

// weighted computes the weighted sum of the result's dimension scores.
func (r *EvaluationResult) weighted() float64 {
	total := 0.0
	for _, d := range Dimensions {
		total += r.Score(d).Score * Weights[d]
	}
	return total
}

// lowest returns the dimension with the lowest score.
func (r *EvaluationResult) lowest() Dimension {
	low := Dimensions[0]
	for _, d := range Dimensions[1:] {
		if r.Score(d).Score < r.Score(low).Score {
			low = d
		}
	}
	return low
}

// =============================================================================
// Context
// =============================================================================

// EvalContext is the compact conversation context handed to the scorer.
type EvalContext struct {
	ConversationID  string
	Name            string
	Age             int
	HealthCondition string

	// RecentMessages is a pre-rendered digest of the last few turns.
	RecentMessages string
}

// IsZero reports whether no context was supplied.
func (c EvalContext) IsZero() bool {
	return c.Name == "" && c.Age == 0 && c.HealthCondition == "" && c.RecentMessages == ""
}

func (c EvalContext) format() string {
	if c.IsZero() {
		return "맥락 정보 없음"
	}
	var parts []string
	if c.Name != "" {
		parts = append(parts, "어르신 이름: "+c.Name)
	}
	if c.Age > 0 {
		parts = append(parts, "나이: "+strconv.Itoa(c.Age)+"세")
	}
	if c.HealthCondition != "" {
		parts = append(parts, "건강 상태: "+c.HealthCondition)
	}
	if c.RecentMessages != "" {
		parts = append(parts, "최근 대화: "+c.RecentMessages)
	}
	return strings.Join(parts, "\n")
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
