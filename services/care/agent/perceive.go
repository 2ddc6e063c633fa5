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
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianCare/services/care/lexicon"
)

// Intent labels produced by Perceive.
const (
	IntentEndConversation  = "end_conversation"
	IntentRequestHelp      = "request_help"
	IntentQuestion         = "question"
	IntentPositiveFeedback = "positive_feedback"
	IntentNegativeFeedback = "negative_feedback"
	IntentGeneral          = "general_conversation"
)

// Emotional tone labels produced by Perceive.
const (
	ToneSad     = "sad"
	ToneAngry   = "angry"
	ToneAnxious = "anxious"
	ToneHappy   = "happy"
	ToneNeutral = "neutral"
)

type labeledSet struct {
	label string
	words lexicon.Set
}

// Checked in order; the first match wins.
var intentLexicons = []labeledSet{
	{IntentEndConversation, lexicon.Set{"끊", "그만", "이만", "안녕"}},
	{IntentRequestHelp, lexicon.Set{"도와", "도움", "부탁"}},
	{IntentQuestion, lexicon.Set{"?", "뭐", "어떻게", "왜", "언제"}},
	{IntentPositiveFeedback, lexicon.Set{"고마워", "감사", "좋아"}},
	{IntentNegativeFeedback, lexicon.Set{"싫", "별로", "아니"}},
}

var toneLexicons = []labeledSet{
	{ToneSad, lexicon.Set{"슬퍼", "우울", "외로", "힘들"}},
	{ToneAngry, lexicon.Set{"화나", "짜증", "답답"}},
	{ToneAnxious, lexicon.Set{"걱정", "불안", "무서"}},
	{ToneHappy, lexicon.Set{"기뻐", "좋아", "행복", "감사"}},
}

var (
	healthLexicon = lexicon.Set{
		"아파", "아프", "아픔", "통증", "병원", "약", "치료",
		"어지러", "두통", "열", "기침", "설사", "변비",
		"잠", "못 자", "피곤", "힘들", "우울",
	}

	endCallLexicon = lexicon.Set{
		"끊을게", "끊어야", "끊자", "끊을래",
		"이만", "그만", "다음에", "나중에",
		"안녕히", "수고", "고마워요",
	}

	emergencyLexicon = lexicon.Set{
		"쓰러", "의식", "못 움직", "숨", "가슴이 아",
		"119", "응급", "죽", "자해", "자살",
	}
)

func firstLabel(sets []labeledSet, text, fallback string) string {
	for _, s := range sets {
		if s.words.Matches(text) {
			return s.label
		}
	}
	return fallback
}

// Perceive classifies an utterance by keyword containment.
//
// Description:
//
//	Pure function of its input. Intent and tone use first-match ordering;
//	health relevance, end intent and emergency are independent flags.
func Perceive(input string) *Perception {
	return &Perception{
		Input:         input,
		Intent:        firstLabel(intentLexicons, input, IntentGeneral),
		Tone:          firstLabel(toneLexicons, input, ToneNeutral),
		HealthRelated: healthLexicon.Matches(input),
		WantsToEnd:    endCallLexicon.Matches(input),
		Emergency:     emergencyLexicon.Matches(input),
		Runes:         utf8.RuneCountInString(input),
		At:            time.Now().UTC(),
	}
}
