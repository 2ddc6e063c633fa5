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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
	"github.com/AleutianAI/AleutianCare/services/care/observability"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/llm/llmtest"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedEvaluator returns retry verdicts in order; the last repeats.
type scriptedEvaluator struct {
	mu       sync.Mutex
	verdicts []bool
	calls    int
	contexts []evaluator.EvalContext
	panics   bool
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _, _ string, ec evaluator.EvalContext) *evaluator.EvaluationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panics {
		panic("evaluator exploded")
	}
	i := e.calls
	e.calls++
	e.contexts = append(e.contexts, ec)

	r := evaluator.Perfect()
	if len(e.verdicts) == 0 {
		return r
	}
	if i >= len(e.verdicts) {
		i = len(e.verdicts) - 1
	}
	if e.verdicts[i] {
		r.Empathy.Score = 0.1
		r.OverallScore = 0.645
		r.ShouldRetry = true
		r.RetryReason = "empathy 점수 미달"
	}
	return r
}

func (e *scriptedEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// emptyPlanner keeps plans to the perception fallbacks.
type emptyPlanner struct{}

func (emptyPlanner) Orchestrate(context.Context, string, workers.WorkerContext) *workers.OrchestratorResult {
	return nil
}

type collector struct {
	frags []string
}

func (c *collector) emit(f string) error {
	c.frags = append(c.frags, f)
	return nil
}

func (c *collector) text() string {
	return strings.Join(c.frags, "")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelayBase = 0
	cfg.EnableReflection = true
	return cfg
}

func newTestAgent(t *testing.T, p llm.Provider, cfg Config, opts ...Option) (*Agent, *conversation.MemoryStore) {
	t.Helper()
	store := conversation.NewMemoryStore(conversation.MemoryConfig{MaxTurns: cfg.HistoryCap})
	base := []Option{WithStore(store), WithPlanner(emptyPlanner{})}
	a, err := New(p, cfg, append(base, opts...)...)
	require.NoError(t, err)
	return a, store
}

func cc(id string) *ConversationContext {
	return &ConversationContext{ConversationID: id, Name: "김영희", Age: 80}
}

// =============================================================================
// ProcessTurn
// =============================================================================

func TestProcessTurn_StreamsAndRecords(t *testing.T) {
	p := llmtest.New(llmtest.Text("네, 어르신.", " 오늘 기분은 어떠세요?"))
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	var c collector
	err := a.ProcessTurn(context.Background(), "오늘 날씨가 맑네", cc("c1"), c.emit)
	require.NoError(t, err)

	assert.Equal(t, []string{"네, 어르신.", " 오늘 기분은 어떠세요?"}, c.frags)

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, conversation.RoleSubject, hist[0].Role)
	assert.Equal(t, "오늘 날씨가 맑네", hist[0].Content)
	assert.Equal(t, conversation.RoleAssistant, hist[1].Role)
	assert.Equal(t, "네, 어르신. 오늘 기분은 어떠세요?", hist[1].Content)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	assert.Len(t, reqs[0].Tools, 5)
	assert.Contains(t, reqs[0].SystemPrompt, "## 현재 통화 중인 어르신\n이름: 김영희, 나이: 80세")
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, llm.RoleUser, reqs[0].Messages[0].Role)
}

func TestProcessTurn_RetryBudgetExhausted(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	eval := &scriptedEvaluator{verdicts: []bool{true}}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	cfg := testConfig()
	cfg.MaxRetries = 2
	a, _ := newTestAgent(t, p, cfg, WithEvaluator(eval), WithObserver(metrics))

	var c collector
	err := a.ProcessTurn(context.Background(), "외로워서 그래", cc("c1"), c.emit)
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)

	assert.Equal(t, 3, p.Calls())
	assert.Equal(t, 3, eval.Calls())
	assert.Equal(t, []string{"네.", "\n\n", "네.", "\n\n", "네.", exhaustedApology}, c.frags)

	// The delivered reply of the last attempt stays; the subject turn is
	// recorded once.
	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, conversation.RoleSubject, hist[0].Role)
	assert.Equal(t, conversation.RoleAssistant, hist[1].Role)

	// Retries carry corrective guidance into the prompt.
	reqs := p.Requests()
	assert.NotContains(t, reqs[0].SystemPrompt, "## 응답 개선 지침")
	assert.Contains(t, reqs[1].SystemPrompt, "## 응답 개선 지침")
	assert.Len(t, reqs[2].Messages, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(OutcomeExhausted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetriesTotal.WithLabelValues(retryEvaluation)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.AttemptsTotal.WithLabelValues(attemptRetry)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveTurns))
}

func TestProcessTurn_RetryThenAccept(t *testing.T) {
	p := llmtest.New(llmtest.Text("음."), llmtest.Text("많이 외로우셨겠어요."))
	eval := &scriptedEvaluator{verdicts: []bool{true, false}}
	a, store := newTestAgent(t, p, testConfig(), WithEvaluator(eval))

	var c collector
	require.NoError(t, a.ProcessTurn(context.Background(), "외로워", cc("c1"), c.emit))

	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, "음.\n\n많이 외로우셨겠어요.", c.text())

	conv, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "많이 외로우셨겠어요.", conv.Turns[1].Content)
	assert.Empty(t, conv.RetryHint)
}

func TestProcessTurn_ReflectionDisabled(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	eval := &scriptedEvaluator{verdicts: []bool{true}}
	cfg := testConfig()
	cfg.EnableReflection = false
	a, _ := newTestAgent(t, p, cfg, WithEvaluator(eval))

	require.NoError(t, a.ProcessTurn(context.Background(), "그렇구나", cc("c1"), nil))
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 0, eval.Calls())
}

func TestProcessTurn_EvalContextDigest(t *testing.T) {
	p := llmtest.New(llmtest.Text("네, 그러셨군요."))
	eval := &scriptedEvaluator{}
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(eval))

	require.NoError(t, a.ProcessTurn(context.Background(), "첫 번째 이야기", cc("c1"), nil))
	require.NoError(t, a.ProcessTurn(context.Background(), "두 번째 이야기", cc("c1"), nil))

	require.Len(t, eval.contexts, 2)
	last := eval.contexts[1]
	assert.Equal(t, "김영희", last.Name)
	assert.Equal(t,
		"assistant: 네, 그러셨군요.... | subject: 두 번째 이야기... | assistant: 네, 그러셨군요....",
		last.RecentMessages)
}

func TestProcessTurn_EndCall(t *testing.T) {
	script := llmtest.Text("네, 안녕히 계세요.").
		WithToolCall(0, "end_call", `{"reason":"user_request"}`)
	p := llmtest.New(script)
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	var c collector
	require.NoError(t, a.ProcessTurn(context.Background(), "이만 끊을게요", cc("c1"), c.emit))

	require.NotEmpty(t, c.frags)
	assert.Equal(t, "\n"+CallEndMarker, c.frags[len(c.frags)-1])
	text, ended := StripCallEnd(c.text())
	assert.True(t, ended)
	assert.Equal(t, "네, 안녕히 계세요.", text)

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	reply := hist[len(hist)-1]
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "end_call", reply.ToolCalls[0].Name)
	assert.Equal(t, "user_request", reply.ToolCalls[0].Arguments["reason"])
	require.Len(t, reply.ToolResults, 1)
	assert.True(t, reply.ToolResults[0].Success)
}

func TestProcessTurn_FailedToolDoesNotEndCall(t *testing.T) {
	// reason is required, so validation fails.
	script := llmtest.Text("네.").WithToolCall(0, "end_call", `{}`)
	p := llmtest.New(script)
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	var c collector
	require.NoError(t, a.ProcessTurn(context.Background(), "그래", cc("c1"), c.emit))
	assert.NotContains(t, c.text(), CallEndMarker)

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist[1].ToolResults, 1)
	assert.False(t, hist[1].ToolResults[0].Success)
}

func TestProcessTurn_ProviderFailures(t *testing.T) {
	t.Run("rate limit exhausts budget", func(t *testing.T) {
		p := llmtest.New(llmtest.Script{StartErr: &llm.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}})
		cfg := testConfig()
		cfg.MaxRetries = 1
		a, _ := newTestAgent(t, p, cfg, WithEvaluator(&scriptedEvaluator{}))

		var c collector
		err := a.ProcessTurn(context.Background(), "그래", cc("c1"), c.emit)
		require.ErrorIs(t, err, ErrRetryBudgetExhausted)
		assert.Equal(t, []string{rateLimitApology, rateLimitApology, exhaustedApology}, c.frags)

		hist, err := a.History(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, conversation.RoleSubject, hist[0].Role)
	})

	t.Run("stream error then recovery", func(t *testing.T) {
		failing := llmtest.Script{Events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Text: "부분"},
			{Type: llm.EventError, Err: errors.New("connection reset")},
		}}
		p := llmtest.New(failing, llmtest.Text("괜찮아요."))
		a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

		var c collector
		require.NoError(t, a.ProcessTurn(context.Background(), "그래", cc("c1"), c.emit))
		assert.Equal(t, []string{"부분", providerErrorApology, "괜찮아요."}, c.frags)

		hist, err := a.History(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, "괜찮아요.", hist[1].Content)
	})
}

func TestProcessTurn_PanicRollsBackReply(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	cfg := testConfig()
	cfg.MaxRetries = 0
	a, _ := newTestAgent(t, p, cfg, WithEvaluator(&scriptedEvaluator{panics: true}))

	var c collector
	err := a.ProcessTurn(context.Background(), "그래", cc("c1"), c.emit)
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, []string{"네.", exhaustedApology}, c.frags)

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, conversation.RoleSubject, hist[0].Role)
}

func TestProcessTurn_HistoryCap(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	cfg := testConfig()
	cfg.HistoryCap = 4
	a, _ := newTestAgent(t, p, cfg, WithEvaluator(&scriptedEvaluator{}))

	for i := 0; i < 5; i++ {
		require.NoError(t, a.ProcessTurn(context.Background(), "그래", cc("c1"), nil))
		hist, err := a.History(context.Background(), "c1")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hist), 4)
	}
	for _, req := range p.Requests() {
		assert.LessOrEqual(t, len(req.Messages), 4)
	}
}

func TestProcessTurn_ConsumerStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := llmtest.New(llmtest.Text("하나", "둘", "셋"))
	eval := &scriptedEvaluator{verdicts: []bool{true}}
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(eval))

	stop := errors.New("client went away")
	var got []string
	err := a.ProcessTurn(context.Background(), "그래", cc("c1"), func(f string) error {
		got = append(got, f)
		return stop
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"하나"}, got)
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 0, eval.Calls())
}

func TestProcessTurn_CancelStopsRemainingTools(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var firstRuns, secondRuns atomic.Int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name: "check_in",
		Run: func(context.Context, map[string]any) (map[string]any, error) {
			firstRuns.Add(1)
			cancel()
			return map[string]any{"ok": true}, nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Tool{
		Name: tools.ToolNotifyCaregiver,
		Run: func(context.Context, map[string]any) (map[string]any, error) {
			secondRuns.Add(1)
			return map[string]any{}, nil
		},
	}))

	script := llmtest.Text("잠시만요.").
		WithToolCall(0, "check_in", `{}`).
		WithToolCall(1, tools.ToolNotifyCaregiver, `{}`)
	eval := &scriptedEvaluator{}
	a, _ := newTestAgent(t, llmtest.New(script), testConfig(), WithRegistry(reg), WithEvaluator(eval))

	var c collector
	err := a.ProcessTurn(ctx, "그래", cc("c1"), c.emit)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int32(1), firstRuns.Load())
	assert.Equal(t, int32(0), secondRuns.Load(), "no tool is dispatched after cancellation")
	assert.Equal(t, 0, eval.Calls())
}

func TestProcessTurn_CancelDuringBackoff(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	cfg := testConfig()
	cfg.RetryDelayBase = time.Hour
	a, _ := newTestAgent(t, p, cfg, WithEvaluator(&scriptedEvaluator{verdicts: []bool{true}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := a.ProcessTurn(ctx, "그래", cc("c1"), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, p.Calls())
}

func TestProcessTurn_InvalidContext(t *testing.T) {
	a, _ := newTestAgent(t, llmtest.New(), testConfig())
	assert.ErrorIs(t, a.ProcessTurn(context.Background(), "x", nil, nil), ErrInvalidContext)
	assert.ErrorIs(t, a.ProcessTurn(context.Background(), "x", &ConversationContext{}, nil), ErrInvalidContext)
}

func TestConfig_WithDefaultsKeepsMeaningfulZeros(t *testing.T) {
	got := Config{}.withDefaults()
	d := DefaultConfig()

	assert.Equal(t, d.Model, got.Model)
	assert.Equal(t, d.MaxTokens, got.MaxTokens)
	assert.Equal(t, d.MaxToolCallsPerTurn, got.MaxToolCallsPerTurn)
	assert.Equal(t, d.HistoryCap, got.HistoryCap)
	assert.Equal(t, d.MaxSkills, got.MaxSkills)
	assert.Equal(t, d.MinSkillScore, got.MinSkillScore)
	assert.Equal(t, d.SkillInstructionLimit, got.SkillInstructionLimit)

	assert.Zero(t, got.MaxRetries)
	assert.Zero(t, got.RetryDelayBase)
	assert.Zero(t, got.Temperature)
	assert.Zero(t, got.AttemptTimeout)
	assert.False(t, got.EnableReflection)
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

// =============================================================================
// Greeting, Fragments, Conversation Management
// =============================================================================

func TestGenerateGreeting(t *testing.T) {
	p := llmtest.New(llmtest.Text("안녕하세요, 김영희 어르신!"))
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	ctx := cc("c1")
	var c collector
	require.NoError(t, a.GenerateGreeting(context.Background(), ctx, c.emit))
	assert.False(t, ctx.IsGreeting)
	assert.Equal(t, "안녕하세요, 김영희 어르신!", c.text())

	req := p.Requests()[0]
	assert.Contains(t, req.SystemPrompt, "## 현재 상황")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, greetingOpener, req.Messages[0].Content)

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, conversation.RoleAssistant, hist[0].Role)
}

func TestFragments(t *testing.T) {
	p := llmtest.New(llmtest.Text("a", "b", "c"))
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	seq, errFn := a.Fragments(context.Background(), "그래", cc("c1"))
	var got []string
	for f := range seq {
		got = append(got, f)
	}
	require.NoError(t, errFn())
	assert.Equal(t, []string{"a", "b", "c"}, got)

	seq, errFn = a.Fragments(context.Background(), "그래", cc("c2"))
	got = nil
	for f := range seq {
		got = append(got, f)
		break
	}
	require.NoError(t, errFn())
	assert.Equal(t, []string{"a"}, got)
}

func TestClearConversation(t *testing.T) {
	p := llmtest.New(llmtest.Text("네."))
	a, _ := newTestAgent(t, p, testConfig(), WithEvaluator(&scriptedEvaluator{}))

	require.NoError(t, a.ProcessTurn(context.Background(), "그래", cc("c1"), nil))
	require.NoError(t, a.ClearConversation(context.Background(), "c1"))

	hist, err := a.History(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

// =============================================================================
// Perceive, Plan, Prompt
// =============================================================================

func TestPerceive(t *testing.T) {
	tests := []struct {
		input     string
		intent    string
		tone      string
		health    bool
		end       bool
		emergency bool
	}{
		{"이만 끊을게요", IntentEndConversation, ToneNeutral, false, true, false},
		{"좀 도와줘", IntentRequestHelp, ToneNeutral, false, false, false},
		{"오늘 뭐 먹지", IntentQuestion, ToneNeutral, false, false, false},
		{"요즘 너무 우울해", IntentGeneral, ToneSad, true, false, false},
		{"짜증이 나", IntentGeneral, ToneAngry, false, false, false},
		{"머리가 아파서 걱정이야", IntentGeneral, ToneAnxious, true, false, false},
		{"남편이 쓰러졌어", IntentGeneral, ToneNeutral, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p := Perceive(tt.input)
			assert.Equal(t, tt.intent, p.Intent)
			assert.Equal(t, tt.tone, p.Tone)
			assert.Equal(t, tt.health, p.HealthRelated)
			assert.Equal(t, tt.end, p.WantsToEnd)
			assert.Equal(t, tt.emergency, p.Emergency)
		})
	}
}

func TestBuildPlan(t *testing.T) {
	t.Run("emergency moves notify_caregiver first", func(t *testing.T) {
		or := &workers.OrchestratorResult{
			OverallPriority:     workers.PriorityHigh,
			ToolRecommendations: []string{"check_health_status", "notify_caregiver"},
			Tone:                "calm",
		}
		plan := BuildPlan(Perceive("가슴이 아파서 쓰러질 것 같아"), or)
		assert.Equal(t, []string{"notify_caregiver", "check_health_status"}, plan.Tools)
		assert.Equal(t, workers.PriorityCritical, plan.Priority)
		assert.Equal(t, emergencyStyle, plan.Style)
		assert.Equal(t, []string{"check_health_status", "notify_caregiver"}, or.ToolRecommendations)
	})

	t.Run("emergency without recommendation prepends", func(t *testing.T) {
		plan := BuildPlan(Perceive("119 불러줘"), nil)
		require.NotEmpty(t, plan.Tools)
		assert.Equal(t, "notify_caregiver", plan.Tools[0])
	})

	t.Run("end intent and health fallbacks", func(t *testing.T) {
		plan := BuildPlan(Perceive("약 먹었으니 이만 끊을게"), &workers.OrchestratorResult{OverallPriority: workers.PriorityNormal})
		assert.Equal(t, []string{"end_call", "check_health_status"}, plan.Tools)
		assert.Equal(t, []string{"say_goodbye"}, plan.Actions)
		assert.Equal(t, defaultStyle, plan.Style)
	})

	t.Run("no duplicates", func(t *testing.T) {
		or := &workers.OrchestratorResult{ToolRecommendations: []string{"end_call"}, OverallPriority: workers.PriorityLow}
		plan := BuildPlan(Perceive("그만 할게"), or)
		assert.Equal(t, []string{"end_call"}, plan.Tools)
		assert.Equal(t, workers.PriorityLow, plan.Priority)
	})
}

func TestSystemPrompt(t *testing.T) {
	a, _ := newTestAgent(t, llmtest.New(), testConfig())

	long := strings.Repeat("가", 600)
	prompt := a.systemPrompt(promptInput{
		cc: &ConversationContext{ConversationID: "c1", Name: "박철수", Age: 77, IsGreeting: true},
		plan: &Plan{
			Priority:      workers.PriorityHigh,
			Style:         "warm",
			ResponseHints: []string{"천천히 말하기"},
			Tools:         []string{"check_health_status"},
		},
		skills:    []*skills.Skill{{Name: "긴 스킬", Instructions: long}},
		retryHint: "\n\n## 응답 개선 지침\n- x",
	})

	assert.True(t, strings.HasPrefix(prompt, DefaultSystemPrompt))
	subject := strings.Index(prompt, "## 현재 통화 중인 어르신\n이름: 박철수, 나이: 77세")
	greeting := strings.Index(prompt, "## 현재 상황")
	skill := strings.Index(prompt, "## 관련 스킬 지침\n\n### 긴 스킬\n")
	plan := strings.Index(prompt, "## 응답 계획")
	hint := strings.Index(prompt, "## 응답 개선 지침")
	assert.True(t, subject > 0 && subject < greeting && greeting < skill && skill < plan && plan < hint,
		"sections out of order: %d %d %d %d %d", subject, greeting, skill, plan, hint)
	assert.Contains(t, prompt, strings.Repeat("가", 500)+"...")
	assert.NotContains(t, prompt, strings.Repeat("가", 501))
	assert.Contains(t, prompt, "- 우선순위: high")
	assert.Contains(t, prompt, "- 권장 도구: check_health_status")
}

func TestSystemPrompt_NoProfile(t *testing.T) {
	a, _ := newTestAgent(t, llmtest.New(), testConfig())
	prompt := a.systemPrompt(promptInput{cc: &ConversationContext{ConversationID: "c1"}})
	assert.Equal(t, DefaultSystemPrompt, prompt)
}

func TestContextString(t *testing.T) {
	assert.Equal(t, "정보 없음", (&ConversationContext{}).ContextString())
	c := &ConversationContext{
		Name:            "김영희",
		Age:             80,
		HealthCondition: "고혈압",
		Medications:     []string{"아모디핀", "아스피린"},
	}
	assert.Equal(t, "이름: 김영희, 나이: 80세, 건강 상태: 고혈압, 복용 약물: 아모디핀, 아스피린", c.ContextString())
}

func TestStripCallEnd(t *testing.T) {
	text, ok := StripCallEnd("안녕히 계세요.\n[CALL_END]")
	assert.True(t, ok)
	assert.Equal(t, "안녕히 계세요.", text)

	text, ok = StripCallEnd("그래요")
	assert.False(t, ok)
	assert.Equal(t, "그래요", text)
}
