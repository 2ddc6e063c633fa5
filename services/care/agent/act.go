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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/llm"
)

var errStreamTruncated = errors.New("provider stream closed without a terminal event")

// act streams the reply, executes requested tools in index order and
// records the assistant turn.
func (t *turn) act(ctx context.Context) (Phase, error) {
	a := t.agent

	var (
		actCtx context.Context
		cancel context.CancelFunc
	)
	if a.config.AttemptTimeout > 0 {
		actCtx, cancel = context.WithTimeout(ctx, a.config.AttemptTimeout)
	} else {
		actCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := t.buildRequest()
	stream, err := a.provider.Stream(actCtx, req)
	if err != nil {
		return t.providerFailure(ctx, err)
	}

	var reply strings.Builder
	acc := llm.NewToolCallAccumulator()
	ended := false
	for ev := range stream {
		switch ev.Type {
		case llm.EventTextDelta:
			reply.WriteString(ev.Text)
			if err := t.send(ev.Text); err != nil {
				return "", err
			}
		case llm.EventToolCallFragment:
			if ev.ToolCall != nil {
				acc.Add(*ev.ToolCall)
			}
		case llm.EventEnd:
			ended = true
		case llm.EventError:
			return t.providerFailure(ctx, ev.Err)
		}
	}
	if !ended {
		if stop := t.stopped(ctx); stop != nil {
			return "", stop
		}
		if err := actCtx.Err(); err != nil {
			return t.providerFailure(ctx, err)
		}
		return t.providerFailure(ctx, errStreamTruncated)
	}

	calls, results, err := t.executeTools(actCtx, acc.Calls())
	if err != nil {
		return "", err
	}
	if stop := t.stopped(ctx); stop != nil {
		return "", stop
	}

	t.reply = reply.String()
	t.conv.Append(conversation.Turn{
		Role:        conversation.RoleAssistant,
		Content:     t.reply,
		ToolCalls:   calls,
		ToolResults: results,
		Metadata: map[string]any{
			"attempt":  t.attempt,
			"priority": t.plan.Priority.String(),
		},
	}, a.config.HistoryCap)
	t.replyRecorded = true
	if err := t.persist(ctx); err != nil {
		return t.fail(ctx, err, retryError)
	}
	return PhaseReflect, nil
}

func (t *turn) buildRequest() *llm.Request {
	a := t.agent

	var matched []*skills.Skill
	if t.input != "" && a.skills != nil {
		matched = a.skills.Match(t.input, a.config.MaxSkills, a.config.MinSkillScore)
	}

	return &llm.Request{
		Model: a.config.Model,
		SystemPrompt: a.systemPrompt(promptInput{
			cc:        t.cc,
			input:     t.input,
			plan:      t.plan,
			skills:    matched,
			retryHint: t.conv.RetryHint,
		}),
		Messages:    historyMessages(t.conv.Recent(a.config.HistoryCap), t.cc.IsGreeting),
		Tools:       a.registry.Specs(),
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	}
}

// providerFailure emits the user-facing apology for a failed stream and
// fails the attempt.
func (t *turn) providerFailure(ctx context.Context, cause error) (Phase, error) {
	if stop := t.stopped(ctx); stop != nil {
		return "", stop
	}

	reason, apology := retryProvider, providerErrorApology
	if llm.IsRateLimit(cause) {
		reason, apology = retryRateLimit, rateLimitApology
	}
	t.agent.logger.Warn("Provider stream failed",
		slog.String("conversation_id", t.cc.ConversationID),
		slog.Int("attempt", t.attempt),
		slog.Bool("rate_limited", reason == retryRateLimit),
		slog.String("error", errString(cause)))

	if err := t.send(apology); err != nil {
		return "", err
	}
	return t.fail(ctx, fmt.Errorf("provider stream: %w", cause), reason)
}

// executeTools runs the assembled calls in index order. Tool failures are
// recorded in the results; only consumer cancellation is returned. Calls
// left when ctx ends are not dispatched.
func (t *turn) executeTools(ctx context.Context, calls []llm.ToolCall) ([]conversation.ToolCallRecord, []conversation.ToolResultRecord, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}
	limit := t.agent.config.MaxToolCallsPerTurn
	if len(calls) > limit {
		t.agent.logger.Warn("Dropping tool calls over the per-turn limit",
			slog.String("conversation_id", t.cc.ConversationID),
			slog.Int("requested", len(calls)),
			slog.Int("limit", limit))
		calls = calls[:limit]
	}

	callRecs := make([]conversation.ToolCallRecord, 0, len(calls))
	resRecs := make([]conversation.ToolResultRecord, 0, len(calls))
	for i, c := range calls {
		if stop := t.stopped(ctx); stop != nil {
			t.agent.logger.Warn("Skipping tool calls after cancellation",
				slog.String("conversation_id", t.cc.ConversationID),
				slog.Int("skipped", len(calls)-i),
				slog.String("error", stop.Error()))
			break
		}
		args := decodeArguments(c.Arguments)
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}

		t.agent.logger.Info("Executing tool",
			slog.String("conversation_id", t.cc.ConversationID),
			slog.String("tool", c.Name),
			slog.String("call_id", id))
		res := t.agent.registry.Execute(ctx, c.Name, args)

		callRecs = append(callRecs, conversation.ToolCallRecord{ID: id, Name: c.Name, Arguments: args})
		resRecs = append(resRecs, conversation.ToolResultRecord{
			ToolName:   res.ToolName,
			Success:    res.Success,
			Output:     res.Output,
			Error:      res.Error,
			DurationMS: float64(res.Duration.Microseconds()) / 1000,
		})

		if c.Name == tools.ToolEndCall && res.Success {
			if err := t.send(callEndFragment); err != nil {
				return nil, nil, err
			}
		}
	}
	return callRecs, resRecs, nil
}

// decodeArguments parses a tool call's JSON arguments. Malformed or empty
// arguments decode to an empty map and are left to schema validation.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
