// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the elder-care conversation agent.
//
// Each turn runs a finite state machine with phases PERCEIVE, PLAN, ACT,
// REFLECT, COMPLETE and ERROR. PERCEIVE classifies the utterance, PLAN
// consults the worker orchestrator, ACT streams a reply from the completion
// provider and executes requested tools, REFLECT scores the reply and may
// send the turn back to PERCEIVE with corrective guidance. Failed attempts
// pass through ERROR and are retried under the same budget.
//
// Thread Safety:
//
//	Agent is safe for concurrent use across conversations. Turns of the
//	same conversation must be serialized by the caller.
package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
)

// Phase is a state in the per-turn state machine.
type Phase string

const (
	// PhasePerceive records the utterance and classifies it.
	PhasePerceive Phase = "PERCEIVE"

	// PhasePlan runs the worker orchestrator and merges fallbacks.
	PhasePlan Phase = "PLAN"

	// PhaseAct streams the reply and executes tool calls.
	PhaseAct Phase = "ACT"

	// PhaseReflect evaluates the reply and decides whether to retry.
	PhaseReflect Phase = "REFLECT"

	// PhaseComplete indicates the turn finished.
	PhaseComplete Phase = "COMPLETE"

	// PhaseError indicates the current attempt failed.
	PhaseError Phase = "ERROR"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// CallEndMarker is embedded in the fragment stream after a successful
// end_call tool execution. Transports strip it and close the session.
const CallEndMarker = "[CALL_END]"

// Fragments emitted by the agent itself.
const (
	callEndFragment      = "\n" + CallEndMarker
	retrySeparator       = "\n\n"
	rateLimitApology     = "\n잠시 후 다시 시도해 주세요."
	providerErrorApology = "\n죄송합니다. 일시적인 오류가 발생했습니다."
	exhaustedApology     = "\n죄송합니다. 잠시 후 다시 시도해 주세요."
	greetingOpener       = "통화가 시작되었습니다."
)

var (
	// ErrRetryBudgetExhausted is returned when every attempt of a turn failed
	// or was rejected by the evaluator. The apology fragment has already been
	// emitted when it is returned.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrInvalidContext is returned when the conversation context is missing
	// or has no conversation id.
	ErrInvalidContext = errors.New("conversation context requires a conversation id")
)

// FragmentFunc receives reply text as it is produced. Returning an error
// stops the turn and cancels any in-flight provider call or tool execution.
type FragmentFunc func(fragment string) error

// =============================================================================
// Conversation Context
// =============================================================================

// ConversationContext is the care profile of the subject on the call.
//
// Only IsGreeting is changed after creation, by GenerateGreeting.
type ConversationContext struct {
	ConversationID  string   `json:"conversation_id" validate:"required"`
	SubjectID       int64    `json:"elderly_id,omitempty"`
	Name            string   `json:"elderly_name,omitempty"`
	Age             int      `json:"elderly_age,omitempty" validate:"gte=0,lte=150"`
	HealthCondition string   `json:"health_condition,omitempty"`
	Medications     []string `json:"medications,omitempty"`
	CallID          int64    `json:"call_id,omitempty"`
	IsGreeting      bool     `json:"is_greeting,omitempty"`
}

// ContextString renders the known profile fields for the system prompt.
//
// Outputs:
//
//	string - "이름: …, 나이: …세, 건강 상태: …, 복용 약물: a, b", or
//	"정보 없음" when nothing is known.
func (c *ConversationContext) ContextString() string {
	var parts []string
	if c.Name != "" {
		parts = append(parts, "이름: "+c.Name)
	}
	if c.Age > 0 {
		parts = append(parts, "나이: "+strconv.Itoa(c.Age)+"세")
	}
	if c.HealthCondition != "" {
		parts = append(parts, "건강 상태: "+c.HealthCondition)
	}
	if len(c.Medications) > 0 {
		parts = append(parts, "복용 약물: "+strings.Join(c.Medications, ", "))
	}
	if len(parts) == 0 {
		return "정보 없음"
	}
	return strings.Join(parts, ", ")
}

func (c *ConversationContext) workerContext() workers.WorkerContext {
	return workers.WorkerContext{
		ConversationID:  c.ConversationID,
		ElderlyID:       c.SubjectID,
		Name:            c.Name,
		Age:             c.Age,
		HealthCondition: c.HealthCondition,
		IsGreeting:      c.IsGreeting,
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls the agent loop.
type Config struct {
	// Model is the completion model for replies.
	Model string

	MaxTokens   int
	Temperature float32

	// MaxRetries bounds extra attempts per turn. Attempts = MaxRetries + 1.
	MaxRetries int

	// RetryDelayBase is multiplied by the attempt number between attempts.
	RetryDelayBase time.Duration

	// MaxToolCallsPerTurn caps executed tool calls per attempt.
	MaxToolCallsPerTurn int

	// EnableReflection turns the evaluator on. When false every reply
	// receives a perfect score.
	EnableReflection bool

	// AttemptTimeout bounds the provider stream and tool execution of one
	// attempt. Zero disables the bound.
	AttemptTimeout time.Duration

	// HistoryCap bounds the turns sent to the provider.
	HistoryCap int

	// BaseSystemPrompt replaces DefaultSystemPrompt when non-empty.
	BaseSystemPrompt string

	// MaxSkills and MinSkillScore select skill snippets for the prompt.
	MaxSkills     int
	MinSkillScore float64

	// SkillInstructionLimit truncates each snippet, in runes.
	SkillInstructionLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:                 "gpt-4o",
		MaxTokens:             4096,
		Temperature:           0.7,
		MaxRetries:            3,
		RetryDelayBase:        time.Second,
		MaxToolCallsPerTurn:   5,
		EnableReflection:      true,
		AttemptTimeout:        60 * time.Second,
		HistoryCap:            50,
		MaxSkills:             2,
		MinSkillScore:         0.2,
		SkillInstructionLimit: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelayBase < 0 {
		c.RetryDelayBase = 0
	}
	if c.MaxToolCallsPerTurn <= 0 {
		c.MaxToolCallsPerTurn = d.MaxToolCallsPerTurn
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = d.HistoryCap
	}
	if c.MaxSkills <= 0 {
		c.MaxSkills = d.MaxSkills
	}
	if c.MinSkillScore <= 0 {
		c.MinSkillScore = d.MinSkillScore
	}
	if c.SkillInstructionLimit <= 0 {
		c.SkillInstructionLimit = d.SkillInstructionLimit
	}
	return c
}

// =============================================================================
// Collaborators
// =============================================================================

// Planner fans an utterance out to the analysis workers.
type Planner interface {
	Orchestrate(ctx context.Context, input string, wctx workers.WorkerContext) *workers.OrchestratorResult
}

// ReplyEvaluator scores a generated reply.
type ReplyEvaluator interface {
	Evaluate(ctx context.Context, input, reply string, ec evaluator.EvalContext) *evaluator.EvaluationResult
}

// Observer receives turn lifecycle events for metrics.
type Observer interface {
	TurnStarted()
	TurnFinished(outcome string, d time.Duration)
	AttemptFinished(outcome string)
	RetryScheduled(reason string)
	ObservePhase(phase string, d time.Duration)
}

// Turn outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Attempt outcomes and retry reasons reported to the Observer.
const (
	attemptAccepted = "accepted"
	attemptRetry    = "retry"
	attemptFailed   = "failed"

	retryEvaluation = "evaluation"
	retryRateLimit  = "rate_limit"
	retryProvider   = "provider"
	retryError      = "error"
)

// =============================================================================
// Phase Outputs
// =============================================================================

// Perception is the keyword classification of one utterance.
type Perception struct {
	Input         string
	Intent        string
	Tone          string
	HealthRelated bool
	WantsToEnd    bool
	Emergency     bool
	Runes         int
	At            time.Time
}

// Plan is the response strategy for one attempt.
type Plan struct {
	Tools         []string
	Style         string
	Priority      workers.Priority
	Actions       []string
	ResponseHints []string
	Concerns      []string
	UrgentFlags   []string

	// Orchestration is the raw worker output. Nil when no planner ran.
	Orchestration *workers.OrchestratorResult
}

// StripCallEnd removes the end-of-call marker from text and reports
// whether it was present.
func StripCallEnd(text string) (string, bool) {
	if !strings.Contains(text, CallEndMarker) {
		return text, false
	}
	text = strings.ReplaceAll(text, callEndFragment, "")
	text = strings.ReplaceAll(text, CallEndMarker, "")
	return text, true
}
