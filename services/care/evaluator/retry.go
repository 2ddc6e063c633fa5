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

import "strings"

// RetryStrategy turns a failed evaluation into system-prompt guidance for the
// next attempt.
type RetryStrategy struct{}

// maxRetryHints caps the improvement hints carried into the next prompt.
const maxRetryHints = 3

// Enhancement returns corrective instructions for every dimension below its
// sub-threshold plus up to three improvement hints, under a
// "## 응답 개선 지침" header. It returns "" when nothing qualifies.
func (RetryStrategy) Enhancement(r *EvaluationResult) string {
	if r == nil {
		return ""
	}

	var items []string
	if r.Empathy.Score < 0.7 {
		items = append(items, "이번 응답에서는 어르신의 감정에 더 깊이 공감하고, 따뜻한 표현을 사용해주세요.")
	}
	if r.Relevance.Score < 0.7 {
		items = append(items, "어르신이 말씀하신 내용에 더 직접적으로 대응해주세요.")
	}
	if r.Completeness.Score < 0.7 {
		items = append(items, "필요한 정보를 빠뜨리지 않고 충분히 답변해주세요.")
	}
	if r.Safety.Score < 0.8 {
		items = append(items, "안전 가이드라인을 더 철저히 준수해주세요. 긴급 상황에는 보호자 연락이나 119 안내가 필요합니다.")
	}
	if hints := r.ImprovementHints; len(hints) > 0 {
		if len(hints) > maxRetryHints {
			hints = hints[:maxRetryHints]
		}
		items = append(items, "개선 필요 사항: "+strings.Join(hints, ", "))
	}

	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n## 응답 개선 지침\n")
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
