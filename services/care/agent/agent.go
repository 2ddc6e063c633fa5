// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
	"github.com/AleutianAI/AleutianCare/services/llm"
)

// Agent runs conversation turns against a completion provider.
//
// Thread Safety:
//
//	Safe for concurrent use across conversations.
type Agent struct {
	config    Config
	provider  llm.Provider
	registry  *tools.Registry
	planner   Planner
	evaluator ReplyEvaluator
	skills    skills.Source
	store     conversation.Store
	observer  Observer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Agent.
type Option func(*Agent)

// WithRegistry sets the tool registry. Default: a registry holding the
// built-in tools with logging backends.
func WithRegistry(r *tools.Registry) Option {
	return func(a *Agent) { a.registry = r }
}

// WithPlanner sets the worker orchestrator. Default: the three built-in
// workers under DefaultOrchestratorConfig.
func WithPlanner(p Planner) Option {
	return func(a *Agent) { a.planner = p }
}

// WithEvaluator sets the reply evaluator. Default: evaluator.New on the
// agent's provider.
func WithEvaluator(e ReplyEvaluator) Option {
	return func(a *Agent) { a.evaluator = e }
}

// WithSkills sets the skill snippet source. Default: none.
func WithSkills(s skills.Source) Option {
	return func(a *Agent) { a.skills = s }
}

// WithStore sets the conversation store. Default: an in-memory store capped
// at Config.HistoryCap turns per conversation.
func WithStore(s conversation.Store) Option {
	return func(a *Agent) { a.store = s }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Agent.
//
// # Inputs
//
//   - provider: Completion backend for replies. Required.
//   - config: Loop settings. Zero sizes, limits and Model take DefaultConfig
//     values. Fields where zero is meaningful are kept as given:
//     MaxRetries (no retries), RetryDelayBase (no backoff), Temperature
//     (deterministic sampling), AttemptTimeout (no per-attempt bound) and
//     EnableReflection (no evaluation). Start from DefaultConfig to keep
//     their defaults.
//   - opts: Collaborator overrides.
//
// # Outputs
//
//   - *Agent: Ready to process turns.
//   - error: Non-nil when provider is nil or the default tools cannot be
//     registered.
func New(provider llm.Provider, config Config, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("agent requires a completion provider")
	}
	a := &Agent{
		config:   config.withDefaults(),
		provider: provider,
		logger:   slog.Default(),
		tracer:   otel.Tracer("care.agent"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		a.registry = tools.NewRegistry(tools.WithLogger(a.logger))
		if err := tools.RegisterBuiltins(a.registry, tools.Dependencies{Logger: a.logger}); err != nil {
			return nil, fmt.Errorf("register built-in tools: %w", err)
		}
	}
	if a.planner == nil {
		a.planner = workers.NewOrchestrator(nil, workers.DefaultOrchestratorConfig(),
			workers.WithOrchestratorLogger(a.logger))
	}
	if a.evaluator == nil {
		a.evaluator = evaluator.New(provider, evaluator.DefaultConfig(), evaluator.WithLogger(a.logger))
	}
	if a.store == nil {
		a.store = conversation.NewMemoryStore(conversation.MemoryConfig{MaxTurns: a.config.HistoryCap})
	}
	if a.observer == nil {
		a.observer = noopObserver{}
	}

	a.logger.Info("Care agent initialized",
		slog.String("model", a.config.Model),
		slog.Int("tools", a.registry.Len()),
		slog.Int("max_retries", a.config.MaxRetries),
		slog.Bool("reflection", a.config.EnableReflection))
	return a, nil
}

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.config }

// Registry returns the tool registry exposed to the model.
func (a *Agent) Registry() *tools.Registry { return a.registry }

// ProcessTurn runs one subject turn and streams the reply through emit.
//
// # Description
//
// Executes the PERCEIVE, PLAN, ACT, REFLECT state machine for up to
// MaxRetries+1 attempts. Reply text is forwarded to emit as it arrives,
// followed by "\n[CALL_END]" when end_call succeeded, "\n\n" before a
// retry, and a single apology when the budget runs out.
//
// # Inputs
//
//   - ctx: Cancels the turn, including the provider stream, tool
//     execution and backoff sleeps.
//   - input: The subject's utterance. Empty input is not recorded.
//   - cc: Profile of the subject. ConversationID is required.
//   - emit: Receives fragments. A non-nil return stops the turn.
//
// # Outputs
//
//   - error: nil on success. ErrRetryBudgetExhausted after the apology was
//     emitted. An error matching context.Canceled when emit stopped the turn
//     or ctx was cancelled.
//
// # Thread Safety
//
// Calls for the same conversation must not overlap.
func (a *Agent) ProcessTurn(ctx context.Context, input string, cc *ConversationContext, emit FragmentFunc) error {
	if cc == nil || cc.ConversationID == "" {
		return ErrInvalidContext
	}
	if emit == nil {
		emit = func(string) error { return nil }
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := a.tracer.Start(ctx, "agent.Agent.ProcessTurn",
		trace.WithAttributes(
			attribute.String("conversation.id", cc.ConversationID),
			attribute.Bool("turn.greeting", cc.IsGreeting),
			attribute.Int("turn.input_runes", len([]rune(input)))))
	defer span.End()

	started := time.Now()
	a.observer.TurnStarted()
	a.logger.Info("Processing turn",
		slog.String("conversation_id", cc.ConversationID),
		slog.Bool("greeting", cc.IsGreeting))

	t := &turn{
		agent:  a,
		input:  input,
		cc:     cc,
		emit:   emit,
		cancel: cancel,
	}
	err := t.run(ctx)

	outcome := turnOutcome(err)
	a.observer.TurnFinished(outcome, time.Since(started))
	span.SetAttributes(
		attribute.Int("turn.attempts", t.attempt),
		attribute.String("turn.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	logAttrs := []any{
		slog.String("conversation_id", cc.ConversationID),
		slog.Int("attempts", t.attempt),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil && outcome != OutcomeCancelled {
		a.logger.Warn("Turn ended with error", append(logAttrs, slog.String("error", err.Error()))...)
	} else {
		a.logger.Info("Turn finished", logAttrs...)
	}
	return err
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrRetryBudgetExhausted):
		return OutcomeExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// errStopIteration marks a range loop that broke out early.
var errStopIteration = errors.New("fragment consumer stopped")

// Fragments adapts ProcessTurn to a range-over-func iterator.
//
// Description:
//
//	Breaking out of the range loop cancels the turn. The returned function
//	reports the turn's error once iteration has finished; an early break is
//	not an error.
//
// Example:
//
//	seq, errFn := a.Fragments(ctx, "오늘 좀 외로워", cc)
//	for frag := range seq {
//	    fmt.Print(frag)
//	}
//	if err := errFn(); err != nil { ... }
func (a *Agent) Fragments(ctx context.Context, input string, cc *ConversationContext) (iter.Seq[string], func() error) {
	var err error
	seq := func(yield func(string) bool) {
		err = a.ProcessTurn(ctx, input, cc, func(f string) error {
			if !yield(f) {
				return errStopIteration
			}
			return nil
		})
		if errors.Is(err, errStopIteration) {
			err = nil
		}
	}
	return seq, func() error { return err }
}

// GenerateGreeting opens a call by letting the assistant speak first.
//
// Description:
//
//	Marks cc as greeting for the duration of the turn and runs ProcessTurn
//	with empty input. The flag is reset afterwards so later turns do not
//	repeat the greeting section.
func (a *Agent) GenerateGreeting(ctx context.Context, cc *ConversationContext, emit FragmentFunc) error {
	if cc == nil {
		return ErrInvalidContext
	}
	cc.IsGreeting = true
	defer func() { cc.IsGreeting = false }()
	return a.ProcessTurn(ctx, "", cc, emit)
}

// ClearConversation drops the stored history of a conversation.
func (a *Agent) ClearConversation(ctx context.Context, conversationID string) error {
	if err := a.store.Clear(ctx, conversationID); err != nil {
		return fmt.Errorf("clear conversation %s: %w", conversationID, err)
	}
	a.logger.Info("Cleared conversation", slog.String("conversation_id", conversationID))
	return nil
}

// History returns a copy of the stored turns, oldest first. Unknown
// conversations have an empty history.
func (a *Agent) History(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	c, err := conversation.Load(ctx, a.store, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return c.Clone().Turns, nil
}

type noopObserver struct{}

func (noopObserver) TurnStarted() {}
func (noopObserver) TurnFinished(string, time.Duration) {}
func (noopObserver) AttemptFinished(string) {}
func (noopObserver) RetryScheduled(string) {}
func (noopObserver) ObservePhase(string, time.Duration) {}
