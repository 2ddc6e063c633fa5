// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/llm/llmtest"
)

func scoresJSON(rel, acc, emp, comp, safe float64) string {
	return fmt.Sprintf(`{
  "relevance": {"score": %g, "explanation": "ok", "issues": []},
  "accuracy": {"score": %g, "explanation": "ok", "issues": []},
  "empathy": {"score": %g, "explanation": "cold", "issues": []},
  "completeness": {"score": %g, "explanation": "ok", "issues": []},
  "safety": {"score": %g, "explanation": "ok", "issues": []},
  "improvement_hints": ["더 따뜻하게"],
  "concerns": [],
  "urgent_flags": []
}`, rel, acc, emp, comp, safe)
}

func scripted(content string) *llmtest.Provider {
	return llmtest.New(llmtest.Script{Response: &llm.Response{Content: content}})
}

func TestWeightsSumToOne(t *testing.T) {
	total := 0.0
	for _, d := range Dimensions {
		total += Weights[d]
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestEvaluate_Boundary(t *testing.T) {
	ctx := context.Background()

	t.Run("0.705 passes", func(t *testing.T) {
		e := New(scripted(scoresJSON(0.9, 0.9, 0.3, 0.8, 0.9)), DefaultConfig())
		r := e.Evaluate(ctx, "안녕하세요", "안녕하세요, 어르신", EvalContext{})

		assert.InDelta(t, 0.705, r.OverallScore, 1e-9)
		assert.False(t, r.ShouldRetry)
		assert.Empty(t, r.RetryReason)
		assert.False(t, r.FallbackUsed)
	})

	t.Run("0.645 retries on empathy", func(t *testing.T) {
		e := New(scripted(scoresJSON(0.9, 0.9, 0.1, 0.8, 0.9)), DefaultConfig())
		r := e.Evaluate(ctx, "안녕하세요", "네", EvalContext{})

		assert.InDelta(t, 0.645, r.OverallScore, 1e-9)
		assert.True(t, r.ShouldRetry)
		assert.Equal(t, "empathy 점수 미달", r.RetryReason)
		assert.Equal(t, []string{"더 따뜻하게"}, r.ImprovementHints)
	})
}

func TestEvaluate_ModelOutput(t *testing.T) {
	ctx := context.Background()

	t.Run("code fence and first issue as reason", func(t *testing.T) {
		body := "```json\n" + `{"empathy": {"score": 0.2, "explanation": "x", "issues": ["감정 무시"]},
			"relevance": {"score": 0.5}}` + "\n```"
		e := New(scripted(body), DefaultConfig())
		r := e.Evaluate(ctx, "외로워요", "그렇군요", EvalContext{})

		require.False(t, r.FallbackUsed)
		assert.Equal(t, 0.8, r.Accuracy.Score, "missing dimension defaults")
		assert.Equal(t, 0.2, r.Empathy.Score)
		assert.True(t, r.ShouldRetry)
		assert.Equal(t, "감정 무시", r.RetryReason)
	})

	t.Run("scores are clamped", func(t *testing.T) {
		e := New(scripted(scoresJSON(1.7, -0.5, 1, 1, 1)), DefaultConfig())
		r := e.Evaluate(ctx, "a", "b", EvalContext{})

		assert.Equal(t, 1.0, r.Relevance.Score)
		assert.Equal(t, 0.0, r.Accuracy.Score)
		assert.GreaterOrEqual(t, r.OverallScore, 0.0)
		assert.LessOrEqual(t, r.OverallScore, 1.0)
	})

	t.Run("trailing prose after the object", func(t *testing.T) {
		e := New(scripted(scoresJSON(0.9, 0.9, 0.3, 0.8, 0.9)+"\n위 평가를 참고하세요."), DefaultConfig())
		r := e.Evaluate(ctx, "안녕하세요", "안녕하세요, 어르신", EvalContext{})

		require.False(t, r.FallbackUsed)
		assert.InDelta(t, 0.705, r.OverallScore, 1e-9)
	})

	t.Run("parse failure falls back", func(t *testing.T) {
		e := New(scripted("I think it is fine."), DefaultConfig())
		r := e.Evaluate(ctx, "안녕하세요", "안녕하세요 어르신, 오늘 마음은 괜찮으세요?", EvalContext{})
		assert.True(t, r.FallbackUsed)
		assert.Equal(t, heuristicExplanation, r.Relevance.Explanation)
	})

	t.Run("call failure falls back", func(t *testing.T) {
		p := llmtest.New(llmtest.Script{StartErr: errors.New("down")})
		r := New(p, DefaultConfig()).Evaluate(ctx, "a", "b", EvalContext{})
		assert.True(t, r.FallbackUsed)
	})

	t.Run("request carries prompt and model", func(t *testing.T) {
		p := scripted(scoresJSON(1, 1, 1, 1, 1))
		New(p, DefaultConfig()).Evaluate(ctx, "밥 먹었어요", "잘하셨어요", EvalContext{Name: "김영희", Age: 82})

		reqs := p.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "gpt-4o-mini", reqs[0].Model)
		assert.Equal(t, float32(0.3), reqs[0].Temperature)
		prompt := reqs[0].Messages[0].Content
		assert.Contains(t, prompt, "밥 먹었어요")
		assert.Contains(t, prompt, "어르신 이름: 김영희\n나이: 82세")
	})
}

func TestEvaluate_Heuristics(t *testing.T) {
	e := New(nil, DefaultConfig())
	ctx := context.Background()

	t.Run("short reply to emergency", func(t *testing.T) {
		r := e.Evaluate(ctx, "남편이 쓰러졌어요", "네.", EvalContext{})

		require.True(t, r.FallbackUsed)
		assert.InDelta(t, 0.5, r.Relevance.Score, 1e-9)
		assert.InDelta(t, 0.6, r.Safety.Score, 1e-9)
		assert.InDelta(t, 0.695, r.OverallScore, 1e-9)
		assert.True(t, r.ShouldRetry)
		assert.Equal(t, "relevance 점수가 낮습니다", r.RetryReason)
		assert.Equal(t, []string{"응답이 너무 짧습니다", "공감 표현이 부족합니다", "긴급 상황에 대한 적절한 대응 필요"},
			r.ImprovementHints)
		assert.Equal(t, []string{"긴급 상황 언급 감지"}, r.UrgentFlags)
	})

	t.Run("empathetic reply", func(t *testing.T) {
		r := e.Evaluate(ctx, "요즘 외로워요", "많이 힘드시겠어요. 마음이 걱정되네요. 제가 함께 이야기 나눌게요.", EvalContext{})

		assert.InDelta(t, 1.0, r.Empathy.Score, 1e-9)
		assert.InDelta(t, 0.89, r.OverallScore, 1e-9)
		assert.False(t, r.ShouldRetry)
		assert.Empty(t, r.ImprovementHints)
	})

	t.Run("medical advice and long reply", func(t *testing.T) {
		reply := "처방을 바꾸세요. " + strings.Repeat("가", 500)
		r := e.Evaluate(ctx, "약 먹었어요", reply, EvalContext{})

		assert.InDelta(t, 0.7, r.Accuracy.Score, 1e-9)
		assert.InDelta(t, 0.7, r.Completeness.Score, 1e-9)
	})

	t.Run("emergency answered with guardian", func(t *testing.T) {
		r := e.Evaluate(ctx, "숨이 차요", "지금 바로 보호자분께 연락드릴게요. 괜찮으실 거예요.", EvalContext{})
		assert.InDelta(t, 0.9, r.Safety.Score, 1e-9)
		assert.NotEmpty(t, r.UrgentFlags)
	})
}

type recordingSink struct {
	ids []string
	err error
}

func (s *recordingSink) Record(_ context.Context, id string, _ *EvaluationResult) error {
	s.ids = append(s.ids, id)
	return s.err
}

type countingObserver struct{ n int }

func (o *countingObserver) ObserveEvaluation(*EvaluationResult) { o.n++ }

func TestEvaluate_SinkAndObserver(t *testing.T) {
	sink := &recordingSink{err: errors.New("influx down")}
	obs := &countingObserver{}
	e := New(nil, DefaultConfig(), WithSink(sink), WithObserver(obs))

	r := e.Evaluate(context.Background(), "a", "b", EvalContext{ConversationID: "conv-1"})

	require.NotNil(t, r, "sink errors never fail evaluation")
	assert.Equal(t, []string{"conv-1"}, sink.ids)
	assert.Equal(t, 1, obs.n)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here you go: {\"a\":1} thanks", `{"a":1}`},
		{"trailing prose", "{\"a\":{\"b\":2}}\n점수는 위와 같습니다.", `{"a":{"b":2}}`},
		{"fenced trailing prose", "```json\n{\"a\":1}\n```\nDone.", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestRetryStrategy(t *testing.T) {
	var rs RetryStrategy

	assert.Empty(t, rs.Enhancement(Perfect()))
	assert.Empty(t, rs.Enhancement(nil))

	r := Perfect()
	r.Empathy.Score = 0.5
	r.Safety.Score = 0.75
	r.ImprovementHints = []string{"h1", "h2", "h3", "h4"}

	got := rs.Enhancement(r)
	assert.True(t, strings.HasPrefix(got, "\n\n## 응답 개선 지침\n- "))
	assert.Contains(t, got, "감정에 더 깊이 공감")
	assert.Contains(t, got, "119 안내가 필요합니다")
	assert.Contains(t, got, "개선 필요 사항: h1, h2, h3")
	assert.NotContains(t, got, "h4")
	assert.NotContains(t, got, "직접적으로 대응")
	assert.Equal(t, 3, strings.Count(got, "\n- "))
}

type fakeWriter struct {
	points []*write.Point
}

func (w *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	w.points = append(w.points, p...)
	return nil
}

func TestInfluxSink_Record(t *testing.T) {
	fw := &fakeWriter{}
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sink := &InfluxSink{writer: fw, now: func() time.Time { return ts }}

	require.NoError(t, sink.Record(context.Background(), "conv-9", Perfect()))
	require.Len(t, fw.points, 1)

	p := fw.points[0]
	assert.Equal(t, QualityMeasurement, p.Name())
	assert.Equal(t, ts, p.Time())
	assert.Len(t, p.TagList(), 3)
	assert.Len(t, p.FieldList(), 2+len(Dimensions))

	sink.Close()
}

// stalledWriter blocks until the write context ends.
type stalledWriter struct{}

func (stalledWriter) WritePoint(ctx context.Context, _ ...*write.Point) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInfluxSink_RecordBoundedByWriteTimeout(t *testing.T) {
	sink := &InfluxSink{writer: stalledWriter{}, now: time.Now, timeout: 20 * time.Millisecond}

	start := time.Now()
	err := sink.Record(context.Background(), "conv-9", Perfect())

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvaluate_StalledSinkDoesNotBlockResult(t *testing.T) {
	sink := &InfluxSink{writer: stalledWriter{}, now: time.Now, timeout: 20 * time.Millisecond}
	e := New(scripted(scoresJSON(1, 1, 1, 1, 1)), DefaultConfig(), WithSink(sink))

	start := time.Now()
	r := e.Evaluate(context.Background(), "안녕하세요", "안녕하세요, 어르신", EvalContext{ConversationID: "c1"})

	assert.False(t, r.ShouldRetry)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewInfluxSink_RequiresBucket(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
