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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
)

// turn is the mutable state of one ProcessTurn call.
type turn struct {
	agent  *Agent
	input  string
	cc     *ConversationContext
	emit   FragmentFunc
	cancel context.CancelFunc

	// stopErr is set once emit fails; nothing is emitted afterwards.
	stopErr error

	conv            *conversation.Conversation
	subjectRecorded bool
	replyRecorded   bool

	phase   Phase
	attempt int

	perception *Perception
	plan       *Plan
	reply      string
	evaluation *evaluator.EvaluationResult

	attemptErr error
	failReason string
}

// =============================================================================
// State Machine
// =============================================================================

// run drives the phases until COMPLETE or a terminal error.
func (t *turn) run(ctx context.Context) error {
	t.phase = PhasePerceive
	t.attempt = 1

	for t.phase != PhaseComplete {
		if err := t.stopped(ctx); err != nil {
			return err
		}

		next, err := t.executePhase(ctx)
		if err != nil {
			return err
		}
		t.transition(next)
	}
	return nil
}

// executePhase runs the current phase under its own span. A panic inside
// the phase fails the attempt instead of the turn.
func (t *turn) executePhase(ctx context.Context) (next Phase, err error) {
	phase := t.phase
	ctx, span := t.agent.tracer.Start(ctx, "agent.phase."+phase.String(),
		trace.WithAttributes(attribute.Int("turn.attempt", t.attempt)))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			t.agent.logger.Error("Phase panicked",
				slog.String("conversation_id", t.cc.ConversationID),
				slog.String("phase", phase.String()),
				slog.Any("panic", r))
			next, err = t.fail(ctx, fmt.Errorf("panic in %s: %v", phase, r), retryError)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		t.agent.observer.ObservePhase(phase.String(), time.Since(started))
	}()

	switch phase {
	case PhasePerceive:
		return t.perceive(ctx)
	case PhasePlan:
		return t.planPhase(ctx)
	case PhaseAct:
		return t.act(ctx)
	case PhaseReflect:
		return t.reflect(ctx)
	case PhaseError:
		return t.recoverAttempt(ctx)
	default:
		return "", fmt.Errorf("no handler for phase %s", phase)
	}
}

func (t *turn) transition(next Phase) {
	t.agent.logger.Debug("Phase transition",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.String("from", t.phase.String()),
		slog.String("to", next.String()),
		slog.Int("attempt", t.attempt))
	t.phase = next
}

// =============================================================================
// Helpers
// =============================================================================

// send forwards a fragment to the consumer. After the first consumer error
// the turn context is cancelled and every later call returns that error.
func (t *turn) send(fragment string) error {
	if t.stopErr != nil {
		return t.stopErr
	}
	if err := t.emit(fragment); err != nil {
		t.stopErr = fmt.Errorf("%w: %w", context.Canceled, err)
		t.cancel()
		return t.stopErr
	}
	return nil
}

// stopped returns the reason the turn must end without retrying, if any.
func (t *turn) stopped(ctx context.Context) error {
	if t.stopErr != nil {
		return t.stopErr
	}
	return ctx.Err()
}

// fail records a failed attempt and moves to ERROR, unless the failure is
// a cancellation, which ends the turn.
func (t *turn) fail(ctx context.Context, err error, reason string) (Phase, error) {
	if stop := t.stopped(ctx); stop != nil {
		return "", stop
	}
	t.attemptErr = err
	t.failReason = reason
	return PhaseError, nil
}

func (t *turn) persist(ctx context.Context) error {
	if err := t.agent.store.Put(ctx, t.conv); err != nil {
		return fmt.Errorf("store conversation %s: %w", t.conv.ID, err)
	}
	return nil
}

func (t *turn) exhausted() bool {
	return t.attempt > t.agent.config.MaxRetries
}

// backoff sleeps RetryDelayBase × attempt or until ctx is done.
func (t *turn) backoff(ctx context.Context) error {
	d := t.agent.config.RetryDelayBase * time.Duration(t.attempt)
	if d <= 0 {
		return t.stopped(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return t.stopped(ctx)
	}
}

// giveUp emits the final apology once and ends the turn.
func (t *turn) giveUp(ctx context.Context) (Phase, error) {
	if t.conv != nil && t.conv.RetryHint != "" {
		t.conv.RetryHint = ""
		if err := t.persist(ctx); err != nil {
			t.agent.logger.Warn("Failed to clear retry hint",
				slog.String("conversation_id", t.cc.ConversationID),
				slog.String("error", err.Error()))
		}
	}
	if err := t.send(exhaustedApology); err != nil {
		return "", err
	}
	t.agent.logger.Warn("Retry budget exhausted",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.Int("attempts", t.attempt))
	return "", ErrRetryBudgetExhausted
}

// =============================================================================
// Phases
// =============================================================================

// perceive loads the conversation, records the subject turn once per
// turn, and classifies the input.
func (t *turn) perceive(ctx context.Context) (Phase, error) {
	if t.conv == nil {
		c, err := conversation.Load(ctx, t.agent.store, t.cc.ConversationID)
		if err != nil {
			return t.fail(ctx, err, retryError)
		}
		t.conv = c
	}

	if !t.subjectRecorded && t.input != "" {
		t.conv.Append(conversation.Turn{
			Role:    conversation.RoleSubject,
			Content: t.input,
		}, t.agent.config.HistoryCap)
		if err := t.persist(ctx); err != nil {
			t.conv.RemoveLast(conversation.RoleSubject)
			return t.fail(ctx, err, retryError)
		}
		t.subjectRecorded = true
	}

	t.perception = Perceive(t.input)
	t.agent.logger.Debug("Perceived input",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.String("intent", t.perception.Intent),
		slog.String("tone", t.perception.Tone),
		slog.Bool("health", t.perception.HealthRelated),
		slog.Bool("wants_to_end", t.perception.WantsToEnd),
		slog.Bool("emergency", t.perception.Emergency))
	return PhasePlan, nil
}

// planPhase consults the workers and merges the perception fallbacks.
func (t *turn) planPhase(ctx context.Context) (Phase, error) {
	or := t.agent.planner.Orchestrate(ctx, t.input, t.cc.workerContext())
	t.plan = BuildPlan(t.perception, or)

	attrs := []any{
		slog.String("conversation_id", t.cc.ConversationID),
		slog.String("priority", t.plan.Priority.String()),
		slog.Any("tools", t.plan.Tools),
	}
	if or != nil {
		attrs = append(attrs, slog.Any("workers", or.WorkersActivated))
	}
	t.agent.logger.Info("Plan ready", attrs...)
	return PhaseAct, nil
}

// recoverAttempt handles the ERROR phase: roll back a partially recorded
// reply, then retry after backoff or give up.
func (t *turn) recoverAttempt(ctx context.Context) (Phase, error) {
	t.agent.observer.AttemptFinished(attemptFailed)
	t.agent.logger.Warn("Attempt failed",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.Int("attempt", t.attempt),
		slog.String("reason", t.failReason),
		slog.String("error", errString(t.attemptErr)))

	if t.replyRecorded {
		t.conv.RemoveLast(conversation.RoleAssistant)
		t.replyRecorded = false
		if err := t.persist(ctx); err != nil {
			t.agent.logger.Warn("Failed to roll back assistant turn",
				slog.String("conversation_id", t.cc.ConversationID),
				slog.String("error", err.Error()))
		}
	}

	if t.exhausted() {
		return t.giveUp(ctx)
	}

	t.agent.observer.RetryScheduled(t.failReason)
	if err := t.backoff(ctx); err != nil {
		return "", err
	}
	t.attempt++
	t.attemptErr = nil
	return PhasePerceive, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
