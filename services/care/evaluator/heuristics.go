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
	"math"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianCare/services/care/lexicon"
)

var (
	medicalAdvicePhrases = lexicon.Set{"진단", "처방", "복용량", "약을 먹"}

	empathyMarkers = lexicon.Set{"이해", "공감", "힘드시", "걱정", "괜찮", "함께", "옆에", "들어", "마음"}

	emergencyIndicators = lexicon.Set{"쓰러", "의식", "숨", "119", "죽고"}
)

const heuristicExplanation = "휴리스틱 평가"

// heuristicEvaluate scores reply with keyword rules.
func (e *Evaluator) heuristicEvaluate(input, reply string) *EvaluationResult {
	replyLen := utf8.RuneCountInString(reply)

	relevance := 0.8
	var relevanceIssues []string
	if replyLen < 20 {
		relevance -= 0.3
		relevanceIssues = append(relevanceIssues, "응답이 너무 짧습니다")
	}

	accuracy := 0.9
	var accuracyIssues []string
	if medicalAdvicePhrases.Matches(reply) {
		accuracy -= 0.2
		accuracyIssues = append(accuracyIssues, "의료 조언을 삼가야 합니다")
	}

	markers := empathyMarkers.Count(reply)
	empathy := 0.7 + math.Min(0.3, float64(markers)*0.1)
	var empathyIssues []string
	if markers == 0 {
		empathyIssues = append(empathyIssues, "공감 표현이 부족합니다")
	}

	completeness := 0.8
	var completenessIssues []string
	if replyLen > 500 {
		completeness -= 0.1
		completenessIssues = append(completenessIssues, "응답이 너무 깁니다")
	}

	safety := 0.9
	var safetyIssues []string
	urgentFlags := []string{}
	if emergencyIndicators.Matches(input) {
		urgentFlags = append(urgentFlags, "긴급 상황 언급 감지")
		if !strings.Contains(reply, "119") && !strings.Contains(reply, "보호자") {
			safety -= 0.3
			safetyIssues = append(safetyIssues, "긴급 상황에 대한 적절한 대응 필요")
		}
	}

	result := &EvaluationResult{
		ImprovementHints: []string{},
		Concerns:         []string{},
		UrgentFlags:      urgentFlags,
		FallbackUsed:     true,
	}
	result.set(heuristicScore(Relevance, relevance, relevanceIssues))
	result.set(heuristicScore(Accuracy, accuracy, accuracyIssues))
	result.set(heuristicScore(Empathy, empathy, empathyIssues))
	result.set(heuristicScore(Completeness, completeness, completenessIssues))
	result.set(heuristicScore(Safety, safety, safetyIssues))

	result.OverallScore = clamp(result.weighted())
	result.ShouldRetry = result.OverallScore < e.config.Threshold
	if result.ShouldRetry {
		result.RetryReason = string(result.lowest()) + " 점수가 낮습니다"
		result.ImprovementHints = append(result.ImprovementHints, relevanceIssues...)
		result.ImprovementHints = append(result.ImprovementHints, empathyIssues...)
		result.ImprovementHints = append(result.ImprovementHints, safetyIssues...)
	}
	return result
}

func heuristicScore(d Dimension, score float64, issues []string) DimensionScore {
	return DimensionScore{
		Dimension:   d,
		Score:       clamp(score),
		Explanation: heuristicExplanation,
		Issues:      nonNil(issues),
	}
}
