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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "unknown", Priority(9).String())
	assert.Less(t, PriorityNormal, PriorityHigh)
}

func TestHealthWorker(t *testing.T) {
	w := NewHealthWorker()
	ctx := context.Background()

	t.Run("emergency overrides symptom severity", func(t *testing.T) {
		require.True(t, w.ShouldActivate("갑자기 쓰러졌어요"))
		res, err := w.Analyze(ctx, "어제 쓰러졌어요", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityCritical, res.Priority)
		assert.Equal(t, 0.9, res.Confidence)
		assert.Equal(t, []string{"notify_caregiver", "check_health_status"}, res.ToolRecommendations)
		assert.Equal(t, []string{"emergency_health_situation"}, res.UrgentFlags)
		assert.Equal(t, "health_concern", res.Intent)
		assert.Equal(t, "emergency", res.Metadata["severity"])
	})

	t.Run("urgent symptom notifies caregiver", func(t *testing.T) {
		res, err := w.Analyze(ctx, "요즘 가슴이 아파요", WorkerContext{})
		require.NoError(t, err)

		// "가슴이 아" is also an emergency keyword.
		assert.Equal(t, PriorityCritical, res.Priority)
		assert.Contains(t, res.Concerns, "심장 관련 증상 가능: urgent")
	})

	t.Run("moderate symptom", func(t *testing.T) {
		res, err := w.Analyze(ctx, "머리가 아파서 잠을 못 잤어", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityNormal, res.Priority)
		assert.Equal(t, 0.7, res.Confidence)
		assert.Equal(t, []string{"check_health_status"}, res.ToolRecommendations)
		assert.Equal(t, []string{"두통: moderate", "수면 장애: moderate"}, res.Concerns)
		assert.Equal(t, "concerned_caring", res.Tone)
		assert.Empty(t, res.UrgentFlags)
	})

	t.Run("no symptom", func(t *testing.T) {
		res, err := w.Analyze(ctx, "병원에 다녀왔어", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityLow, res.Priority)
		assert.Equal(t, 0.3, res.Confidence)
		assert.Empty(t, res.Intent)
		assert.Equal(t, "none", res.Metadata["severity"])
	})
}

func TestEmotionWorker(t *testing.T) {
	w := NewEmotionWorker()
	ctx := context.Background()

	t.Run("crisis", func(t *testing.T) {
		res, err := w.Analyze(ctx, "그냥 죽고 싶어", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityCritical, res.Priority)
		assert.Equal(t, []string{"notify_caregiver"}, res.ToolRecommendations)
		assert.Equal(t, []string{"crisis_emotional_state", "suicide_ideation_possible"}, res.UrgentFlags)
		assert.Equal(t, true, res.Metadata["is_crisis"])
	})

	t.Run("confidence grows with matches", func(t *testing.T) {
		got := DetectEmotions("외로워서 쓸쓸하고 혼자라서 걱정이야")
		require.Len(t, got, 2)
		assert.Equal(t, "loneliness", got[0].Category)
		assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
		assert.Equal(t, "anxiety", got[1].Category)
		assert.InDelta(t, 0.65, got[1].Confidence, 1e-9)
	})

	t.Run("category order breaks ties", func(t *testing.T) {
		got := DetectEmotions("슬퍼 그리고 외로워")
		require.Len(t, got, 2)
		assert.Equal(t, "loneliness", got[0].Category)
	})

	t.Run("despair recommends follow-up", func(t *testing.T) {
		res, err := w.Analyze(ctx, "너무 힘들어", WorkerContext{ConversationID: "c1"})
		require.NoError(t, err)

		assert.Equal(t, PriorityHigh, res.Priority)
		assert.Equal(t, "emotional_despair", res.Intent)
		assert.Equal(t, []string{"check_health_status", "schedule_followup"}, res.ToolRecommendations)
		assert.Contains(t, res.SuggestedActions, "감정 상태 기록")
		assert.Contains(t, res.Concerns, "주요 감정: despair")
	})

	t.Run("positive is normal", func(t *testing.T) {
		res, err := w.Analyze(ctx, "오늘 너무 행복해", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityNormal, res.Priority)
		assert.Equal(t, "joyful_sharing", res.Tone)
		assert.NotContains(t, res.SuggestedActions, "감정 상태 기록")
	})

	t.Run("none is low", func(t *testing.T) {
		res, err := w.Analyze(ctx, "밥 먹었어", WorkerContext{})
		require.NoError(t, err)
		assert.Equal(t, PriorityLow, res.Priority)
		assert.Zero(t, res.Confidence)
	})
}

func TestScheduleWorker(t *testing.T) {
	w := NewScheduleWorker()
	ctx := context.Background()

	t.Run("farewell", func(t *testing.T) {
		res, err := w.Analyze(ctx, "이만 끊을게요", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityHigh, res.Priority)
		assert.Equal(t, "end_conversation", res.Intent)
		assert.Equal(t, 0.9, res.Confidence)
		assert.Equal(t, []string{"end_call"}, res.ToolRecommendations)
		assert.Equal(t, "warm_farewell", res.Tone)
	})

	t.Run("farewell with unresolved health concern", func(t *testing.T) {
		res, err := w.Analyze(ctx, "이만 끊을게요", WorkerContext{HadHealthConcern: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"end_call", "schedule_followup"}, res.ToolRecommendations)
		assert.Contains(t, res.SuggestedActions, "후속 전화 예약")
	})

	t.Run("hospital schedule", func(t *testing.T) {
		res, err := w.Analyze(ctx, "내일 병원 진료가 있어", WorkerContext{})
		require.NoError(t, err)

		assert.Equal(t, PriorityNormal, res.Priority)
		assert.Equal(t, "schedule_discussion", res.Intent)
		assert.Equal(t, 0.6, res.Confidence)
		assert.Equal(t, []string{"일정 관련 내용 경청", "병원 방문 응원"}, res.ResponseHints)
	})

	t.Run("context flags", func(t *testing.T) {
		res, err := w.Analyze(ctx, "오늘 저녁", WorkerContext{EmotionalDistressNoted: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"schedule_followup"}, res.ToolRecommendations)
		assert.Equal(t, 0.3, res.Confidence)
		assert.Equal(t, true, res.Metadata["needs_followup"])
	})
}

func TestWorkerContext_IsZero(t *testing.T) {
	assert.True(t, WorkerContext{}.IsZero())
	assert.False(t, WorkerContext{Age: 80}.IsZero())
}
