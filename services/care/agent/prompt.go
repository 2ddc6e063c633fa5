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
	"strings"

	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/llm"
)

// DefaultSystemPrompt is the base instruction for the care conversation.
const DefaultSystemPrompt = `당신은 친절하고 공감 능력이 뛰어난 AI 상담사입니다. 독거 어르신들의 이야기를 경청하고, 그들의 감정에 깊이 공감하며, 따뜻한 격려를 제공합니다.

## 대화 원칙

1. **존중과 공감**: 항상 존댓말을 사용하고, 어르신의 이야기에 진심으로 공감합니다.
2. **경청**: 어르신이 하시는 말씀을 끝까지 듣고, 그 내용을 이해했음을 표현합니다.
3. **간결함**: 답변은 2-3문장으로 짧고 따뜻하게 합니다. 어르신이 이해하기 쉽게 말합니다.
4. **건강 주의**: 건강과 안전에 대한 이야기가 나오면 세심하게 주의를 기울입니다.
5. **긍정적 마무리**: 대화를 긍정적으로 마무리하고, 어르신에게 힘이 되는 말을 합니다.

## 도구 사용 지침

다음 상황에서 적절한 도구를 사용하세요:

- **통화 종료**: 어르신이 "이만 끊을게요", "다음에 얘기해요" 등 종료 의사를 표현하면 ` + "`end_call`" + ` 도구를 사용합니다.
- **건강 문제**: 어르신이 신체적/정신적 불편함을 호소하면 ` + "`check_health_status`" + ` 도구로 기록합니다.
- **후속 조치**: 추가 확인이 필요하면 ` + "`schedule_followup`" + ` 도구로 예약합니다.
- **긴급 상황**: 심각한 건강 문제나 위험 상황이면 ` + "`notify_caregiver`" + ` 도구를 즉시 사용합니다.

## 주의사항

- 의료 진단이나 처방을 하지 않습니다. 건강 문제는 보호자나 의료진과 상담하도록 권유합니다.
- 어르신의 이야기를 함부로 판단하지 않습니다.
- 어르신이 원하지 않으면 무리하게 대화를 이어가지 않습니다.`

const greetingSection = "\n\n## 현재 상황\n지금은 통화가 시작되는 시점입니다. 어르신에게 먼저 따뜻하게 인사하고 안부를 물어주세요."

// promptInput gathers everything the system prompt is assembled from.
type promptInput struct {
	cc        *ConversationContext
	input     string
	plan      *Plan
	skills    []*skills.Skill
	retryHint string
}

// systemPrompt assembles the system instruction in a fixed section order:
// base, subject, greeting, skills, plan guidance, retry hint.
func (a *Agent) systemPrompt(in promptInput) string {
	var b strings.Builder
	if a.config.BaseSystemPrompt != "" {
		b.WriteString(a.config.BaseSystemPrompt)
	} else {
		b.WriteString(DefaultSystemPrompt)
	}

	if in.cc.Name != "" || in.cc.Age > 0 {
		b.WriteString("\n\n## 현재 통화 중인 어르신\n")
		b.WriteString(in.cc.ContextString())
	}

	if in.cc.IsGreeting {
		b.WriteString(greetingSection)
	}

	if len(in.skills) > 0 {
		b.WriteString("\n\n## 관련 스킬 지침\n")
		for _, s := range in.skills {
			b.WriteString("\n### ")
			b.WriteString(s.Name)
			b.WriteString("\n")
			b.WriteString(skills.Truncate(s.Instructions, a.config.SkillInstructionLimit))
		}
	}

	if in.plan != nil {
		b.WriteString(planGuidance(in.plan))
	}

	b.WriteString(in.retryHint)
	return b.String()
}

func planGuidance(p *Plan) string {
	var b strings.Builder
	b.WriteString("\n\n## 응답 계획\n")
	b.WriteString("- 우선순위: ")
	b.WriteString(p.Priority.String())
	b.WriteString("\n- 어조: ")
	b.WriteString(p.Style)
	if len(p.ResponseHints) > 0 {
		b.WriteString("\n- 응답 지침:")
		for _, h := range p.ResponseHints {
			b.WriteString("\n  - ")
			b.WriteString(h)
		}
	}
	if len(p.Tools) > 0 {
		b.WriteString("\n- 권장 도구: ")
		b.WriteString(strings.Join(p.Tools, ", "))
	}
	return b.String()
}

// historyMessages maps stored turns onto provider messages. A greeting on
// an empty history gets a synthetic opener so the model has a user turn to
// answer.
func historyMessages(turns []conversation.Turn, greeting bool) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	if greeting && len(turns) == 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: greetingOpener})
	}
	return msgs
}
