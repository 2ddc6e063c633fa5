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

// HealthWorkerName is the registered name of the health monitor.
const HealthWorkerName = "health_monitor"

// Severity grades a detected symptom.
type Severity string

const (
	SeverityEmergency Severity = "emergency"
	SeverityUrgent    Severity = "urgent"
	SeverityHigh      Severity = "high"
	SeverityModerate  Severity = "moderate"
	SeverityLow       Severity = "low"
	SeverityNone      Severity = "none"
)

var severityOrder = []Severity{SeverityEmergency, SeverityUrgent, SeverityHigh, SeverityModerate, SeverityLow}

func (s Severity) priority() Priority {
	switch s {
	case SeverityEmergency:
		return PriorityCritical
	case SeverityUrgent:
		return PriorityUrgent
	case SeverityHigh:
		return PriorityHigh
	case SeverityModerate:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

type symptomPattern struct {
	phrase      string
	severity    Severity
	description string
}

type detectedSymptom struct {
	description string
	severity    Severity
}

var (
	healthTriggers = lexicon.Set{
		"아파", "아프", "아픔", "통증", "쑤셔", "결려",
		"머리", "가슴", "배", "다리", "팔", "허리", "목",
		"어지러", "두통", "열", "기침", "설사", "변비",
		"숨", "호흡", "심장", "혈압",
		"약", "병원", "의사", "치료", "수술", "검사",
		"피곤", "힘들", "못 자", "잠",
	}

	healthEmergency = lexicon.Set{
		"쓰러", "의식", "못 움직", "숨을 못", "가슴이 아", "119", "응급", "구급",
	}

	symptomPatterns = []symptomPattern{
		{"가슴이 아파", SeverityUrgent, "심장 관련 증상 가능"},
		{"숨을 못 쉬", SeverityEmergency, "호흡 곤란"},
		{"쓰러졌", SeverityEmergency, "낙상/실신 가능"},
		{"의식이 없", SeverityEmergency, "의식 상실"},
		{"머리가 아파", SeverityModerate, "두통"},
		{"어지러", SeverityModerate, "어지러움"},
		{"피곤", SeverityLow, "피로감"},
		{"잠을 못", SeverityModerate, "수면 장애"},
	}
)

// HealthWorker detects physical symptoms and medical emergencies.
type HealthWorker struct{}

// NewHealthWorker creates a HealthWorker.
func NewHealthWorker() *HealthWorker { return &HealthWorker{} }

// Name implements Worker.
func (w *HealthWorker) Name() string { return HealthWorkerName }

// ShouldActivate implements Worker.
func (w *HealthWorker) ShouldActivate(text string) bool {
	return healthTriggers.Matches(text)
}

// Analyze implements Worker.
//
// An emergency keyword forces severity "emergency" and CRITICAL priority
// regardless of which symptom phrases matched. Otherwise the most severe
// matched symptom sets the priority.
func (w *HealthWorker) Analyze(ctx context.Context, text string, _ WorkerContext) (*WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	isEmergency := healthEmergency.Matches(text)
	symptoms := detectSymptoms(text)
	severity := overallSeverity(symptoms, isEmergency)

	res := newResult(w.Name(), severity.priority())

	if isEmergency {
		res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "notify_caregiver")
		res.SuggestedActions = append(res.SuggestedActions, "119 안내 또는 보호자 긴급 연락")
		res.ResponseHints = append(res.ResponseHints, "침착하게 안정시키면서 즉각적인 도움 안내")
		res.UrgentFlags = append(res.UrgentFlags, "emergency_health_situation")
	}

	if len(symptoms) > 0 {
		res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "check_health_status")
		res.SuggestedActions = append(res.SuggestedActions, "증상 기록")

		if severity == SeverityUrgent || severity == SeverityHigh {
			res.ToolRecommendations = lexicon.AppendUnique(res.ToolRecommendations, "notify_caregiver")
			res.SuggestedActions = append(res.SuggestedActions, "보호자 알림")
			res.ResponseHints = append(res.ResponseHints, "병원 방문 권유")
		}
		res.ResponseHints = append(res.ResponseHints, "건강 관련 공감 표현 사용", "의료 조언 대신 전문가 상담 권유")

		res.Intent = "health_concern"
		res.Tone = "concerned_caring"
	}

	names := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		res.Concerns = append(res.Concerns, s.description+": "+string(s.severity))
		names = append(names, s.description)
	}

	switch {
	case isEmergency:
		res.Confidence = 0.9
	case len(symptoms) > 0:
		res.Confidence = 0.7
	default:
		res.Confidence = 0.3
	}

	res.Metadata["detected_symptoms"] = names
	res.Metadata["severity"] = string(severity)
	res.Metadata["is_emergency"] = isEmergency
	return res, nil
}

func detectSymptoms(text string) []detectedSymptom {
	t := lexicon.Normalize(text)
	var out []detectedSymptom
	for _, p := range symptomPatterns {
		if strings.Contains(t, p.phrase) {
			out = append(out, detectedSymptom{description: p.description, severity: p.severity})
		}
	}
	return out
}

func overallSeverity(symptoms []detectedSymptom, isEmergency bool) Severity {
	if isEmergency {
		return SeverityEmergency
	}
	if len(symptoms) == 0 {
		return SeverityNone
	}
	for _, sev := range severityOrder {
		for _, s := range symptoms {
			if s.severity == sev {
				return sev
			}
		}
	}
	return SeverityLow
}
