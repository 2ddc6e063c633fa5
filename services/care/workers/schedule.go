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
	"strings"

	"github.com/AleutianAI/AleutianCare/services/care/lexicon"
)

// ScheduleWorkerName is the registered name of the schedule worker.
const ScheduleWorkerName = "schedule_worker"

var (
	scheduleTriggers = lexicon.Set{
		"이만", "끊을게", "끊어야", "다음에", "나중에", "안녕히", "수고", "그만", "가볼게",
		"내일", "모레", "다음 주", "오늘", "이따가", "아침", "점심", "저녁", "밤",
		"약속", "일정", "예약", "병원", "진료",
		"잊어버", "까먹", "기억", "알려",
	}

	farewellKeywords = lexicon.Set{
		"이만", "끊을게", "끊자", "끊어야", "다음에", "나중에", "가볼게", "안녕히", "수고하세요",
	}

	followupKeywords = lexicon.Set{
		"다음에 또", "내일 전화", "다시 연락", "확인해", "알아볼", "연락드릴",
	}

	scheduleTopics = lexicon.Set{
		"병원", "진료", "약속", "일정", "내일", "모레", "다음 주", "예약", "알려", "잊어버",
	}
)

// ScheduleWorker detects farewells, follow-up needs and schedule talk.
type ScheduleWorker struct{}

// NewScheduleWorker creates a ScheduleWorker.
func NewScheduleWorker() *ScheduleWorker { return &ScheduleWorker{} }

// Name implements Worker.
func (w *ScheduleWorker) Name() string { return ScheduleWorkerName }

// ShouldActivate implements Worker.
func (w *ScheduleWorker) ShouldActivate(text string) bool {
	return scheduleTriggers.Matches(text)
}

// NeedsFollowUp reports whether the utterance or carried-over context calls
// for a follow-up call.
func NeedsFollowUp(text string, wctx WorkerContext) bool {
	return followupKeywords.Matches(text) ||
		wctx.HealthConcernsRaised || wctx.EmotionalDistressNoted || wctx.MissedMedication
}

// Analyze implements Worker.
func (w *ScheduleWorker) Analyze(ctx context.Context, text string, wctx WorkerContext) (*WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := lexicon.Normalize(text)
	wantsToEnd := farewellKeywords.Matches(t)
	needsFollowUp := NeedsFollowUp(t, wctx)
	mentionsSchedule := scheduleTopics.Matches(t)

	priority := PriorityNormal
	if wantsToEnd {
		priority = PriorityHigh
	}
	res := newResult(w.Name(), priority)

	if wantsToEnd {
		res.ToolRecommendations = append(res.ToolRecommendations, "end_call")
		res.SuggestedActions = append(res.SuggestedActions, "따뜻한 작별 인사", "건강 당부")
		res.ResponseHints = append(res.ResponseHints, "다음 통화 약속 언급", "긍정적 마무리")

		if needsFollowUp || wctx.HadHealthConcern {
			res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "schedule_followup")
			res.SuggestedActions = append(res.SuggestedActions, "후속 전화 예약")
		}
	}

	if mentionsSchedule {
		res.ResponseHints = append(res.ResponseHints, "일정 관련 내용 경청")
		if strings.Contains(t, "병원") || strings.Contains(t, "진료") {
			res.SuggestedActions = append(res.SuggestedActions, "병원 일정 확인")
			res.ResponseHints = append(res.ResponseHints, "병원 방문 응원")
		}
	}

	if wctx.HealthConcernsRaised {
		res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "schedule_followup")
		res.ResponseHints = append(res.ResponseHints, "건강 상태 후속 확인 언급")
	}
	if wctx.EmotionalDistressNoted {
		res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "schedule_followup")
		res.ResponseHints = append(res.ResponseHints, "정서 상태 확인 전화 예약 고려")
	}

	switch {
	case wantsToEnd:
		res.Intent = "end_conversation"
		res.Confidence = 0.9
		res.Tone = "warm_farewell"
	case mentionsSchedule:
		res.Intent = "schedule_discussion"
		res.Confidence = 0.6
	default:
		res.Confidence = 0.3
	}

	res.Metadata["wants_to_end"] = wantsToEnd
	res.Metadata["needs_followup"] = needsFollowUp
	res.Metadata["mentions_schedule"] = mentionsSchedule
	return res, nil
}
