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
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
)

// recentTurnsForEval and recentRunesForEval shape the digest handed to the
// evaluator.
const (
	recentTurnsForEval = 3
	recentRunesForEval = 50
)

// reflect scores the delivered reply and either completes the turn or
// sends it back to PERCEIVE with corrective guidance.
func (t *turn) reflect(ctx context.Context) (Phase, error) {
	a := t.agent

	var res *evaluator.EvaluationResult
	if a.config.EnableReflection {
		res = a.evaluator.Evaluate(ctx, t.input, t.reply, t.evalContext())
	} else {
		res = evaluator.Perfect()
	}
	if stop := t.stopped(ctx); stop != nil {
		return "", stop
	}
	t.evaluation = res

	a.logger.Info("Reply evaluated",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.Int("attempt", t.attempt),
		slog.Float64("overall", res.OverallScore),
		slog.Bool("should_retry", res.ShouldRetry),
		slog.String("reason", res.RetryReason))
	for _, flag := range res.UrgentFlags {
		a.logger.Warn("Urgent flag raised by evaluator",
			slog.String("conversation_id", t.cc.ConversationID),
			slog.String("flag", flag))
	}

	if !res.ShouldRetry {
		a.observer.AttemptFinished(attemptAccepted)
		t.conv.RetryHint = ""
		if err := t.persist(ctx); err != nil {
			return t.fail(ctx, err, retryError)
		}
		return PhaseComplete, nil
	}

	a.observer.AttemptFinished(attemptRetry)
	if t.exhausted() {
		// The reply was already delivered, so it stays in history.
		return t.giveUp(ctx)
	}

	a.observer.RetryScheduled(retryEvaluation)
	t.conv.RemoveLast(conversation.RoleAssistant)
	t.replyRecorded = false
	t.conv.RetryHint = evaluator.RetryStrategy{}.Enhancement(res)
	if err := t.persist(ctx); err != nil {
		return t.fail(ctx, err, retryError)
	}

	a.logger.Info("Retrying reply",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.Int("attempt", t.attempt),
		slog.Int("max_retries", a.config.MaxRetries))
	if err := t.send(retrySeparator); err != nil {
		return "", err
	}
	if err := t.backoff(ctx); err != nil {
		return "", err
	}
	t.attempt++
	return PhasePerceive, nil
}

// evalContext builds the compact profile and history digest for scoring.
func (t *turn) evalContext() evaluator.EvalContext {
	ec := evaluator.EvalContext{
		ConversationID:  t.cc.ConversationID,
		Name:            t.cc.Name,
		Age:             t.cc.Age,
		HealthCondition: t.cc.HealthCondition,
	}
	if len(t.conv.Turns) > 1 {
		recent := t.conv.Recent(recentTurnsForEval)
		parts := make([]string, len(recent))
		for i, tr := range recent {
			parts[i] = string(tr.Role) + ": " + headRunes(tr.Content, recentRunesForEval) + "..."
		}
		ec.RecentMessages = strings.Join(parts, " | ")
	}
	return ec
}

func headRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
