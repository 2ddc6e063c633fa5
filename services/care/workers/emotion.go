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
	"math"
	"sort"

	"github.com/AleutianAI/AleutianCare/services/care/lexicon"
)

// EmotionWorkerName is the registered name of the emotion worker.
const EmotionWorkerName = "emotion_support"

type emotionPattern struct {
	category string
	keywords lexicon.Set
	hints    []string
	tone     string
}

// DetectedEmotion is one matched emotion category with its confidence.
type DetectedEmotion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

var (
	emotionTriggers = lexicon.Set{
		"외로", "쓸쓸", "심심", "혼자",
		"우울", "슬퍼", "슬픔",
		"걱정", "불안", "무서", "두려", "겁나",
		"화나", "짜증", "답답", "억울", "속상",
		"힘들", "지쳐", "포기", "싫어", "죽고",
		"기뻐", "행복", "좋아", "감사", "고마",
	}

	crisisKeywords = lexicon.Set{
		"죽고 싶", "죽을", "자살", "끝내고", "살기 싫", "없어지고", "안 살고",
	}

	// Declaration order breaks confidence ties.
	emotionPatterns = []emotionPattern{
		{
			category: "loneliness",
			keywords: lexicon.Set{"외로", "쓸쓸", "혼자", "심심"},
			hints:    []string{"연결감 표현하기", "정기적인 대화 약속 언급", "어르신의 가치 인정하기"},
			tone:     "warm_connecting",
		},
		{
			category: "sadness",
			keywords: lexicon.Set{"슬퍼", "슬픔", "우울", "눈물"},
			hints:    []string{"감정 인정하고 공감하기", "울어도 괜찮다고 안심시키기", "옆에 있다는 것 표현하기"},
			tone:     "gentle_empathetic",
		},
		{
			category: "anxiety",
			keywords: lexicon.Set{"걱정", "불안", "무서", "두려"},
			hints:    []string{"걱정을 경청하고 인정하기", "함께 해결책 찾기 제안", "안정감 주는 표현 사용"},
			tone:     "reassuring_calm",
		},
		{
			category: "frustration",
			keywords: lexicon.Set{"화나", "짜증", "답답", "억울"},
			hints:    []string{"감정 표현을 격려하기", "판단하지 않고 들어주기", "상황에 대한 이해 표현"},
			tone:     "understanding_patient",
		},
		{
			category: "despair",
			keywords: lexicon.Set{"힘들", "지쳐", "포기", "싫어"},
			hints:    []string{"어려움을 인정하고 공감하기", "작은 희망 요소 발견해주기", "보호자 연락 고려"},
			tone:     "compassionate_supportive",
		},
		{
			category: "positive",
			keywords: lexicon.Set{"기뻐", "행복", "좋아", "감사"},
			hints:    []string{"기쁨을 함께 나누기", "긍정적 감정 강화하기", "좋은 일 더 이야기하도록 격려"},
			tone:     "joyful_sharing",
		},
	}
)

// EmotionWorker detects emotional state and crisis language.
type EmotionWorker struct{}

// NewEmotionWorker creates an EmotionWorker.
func NewEmotionWorker() *EmotionWorker { return &EmotionWorker{} }

// Name implements Worker.
func (w *EmotionWorker) Name() string { return EmotionWorkerName }

// ShouldActivate implements Worker.
func (w *EmotionWorker) ShouldActivate(text string) bool {
	return emotionTriggers.Matches(text)
}

// DetectEmotions scores every emotion category present in text, highest
// confidence first.
func DetectEmotions(text string) []DetectedEmotion {
	var out []DetectedEmotion
	for _, p := range emotionPatterns {
		if n := p.keywords.Count(text); n > 0 {
			out = append(out, DetectedEmotion{
				Category:   p.category,
				Confidence: math.Min(1.0, 0.5+float64(n)*0.15),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func patternFor(category string) (emotionPattern, bool) {
	for _, p := range emotionPatterns {
		if p.category == category {
			return p, true
		}
	}
	return emotionPattern{}, false
}

// Analyze implements Worker.
func (w *EmotionWorker) Analyze(ctx context.Context, text string, wctx WorkerContext) (*WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	isCrisis := crisisKeywords.Matches(text)
	detected := DetectEmotions(text)

	primary := ""
	confidence := 0.0
	if len(detected) > 0 {
		primary = detected[0].Category
		confidence = detected[0].Confidence
	}

	var priority Priority
	switch {
	case isCrisis:
		priority = PriorityCritical
	case primary == "despair" || primary == "sadness":
		priority = PriorityHigh
	case primary != "":
		priority = PriorityNormal
	default:
		priority = PriorityLow
	}

	res := newResult(w.Name(), priority)
	res.Confidence = confidence

	if isCrisis {
		res.ToolRecommendations = append(res.ToolRecommendations, "notify_caregiver")
		res.SuggestedActions = append(res.SuggestedActions, "보호자 즉시 연락", "대화 유지하며 안정시키기")
		res.ResponseHints = append(res.ResponseHints, "절대 혼자 두지 않겠다는 표현", "전문 상담 연결 안내")
		res.UrgentFlags = append(res.UrgentFlags, "crisis_emotional_state", "suicide_ideation_possible")
		res.Concerns = append(res.Concerns, "위기 상황 감지")
	}

	if p, ok := patternFor(primary); ok {
		res.ResponseHints = append(res.ResponseHints, p.hints...)
		res.Tone = p.tone
		res.Intent = "emotional_" + primary

		if primary == "despair" {
			res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "check_health_status", "schedule_followup")
			res.SuggestedActions = append(res.SuggestedActions, "정서 상태 기록", "후속 전화 예약 고려")
		}
	}

	if len(detected) > 0 && !wctx.IsZero() {
		res.SuggestedActions = append(res.SuggestedActions, "감정 상태 기록")
	}
	if primary == "despair" || primary == "sadness" {
		res.Concerns = append(res.Concerns, "주요 감정: "+primary)
	}

	res.Metadata["detected_emotions"] = detected
	res.Metadata["primary_emotion"] = primary
	res.Metadata["is_crisis"] = isCrisis
	return res, nil
}
