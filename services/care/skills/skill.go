// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package skills loads markdown skill snippets and matches them against
// subject utterances so the agent can fold relevant guidance into its
// system prompt.
//
// Skills live in category directories:
//
//	skills/
//	├── emergency/
//	│   └── fall.md
//	└── emotional_support/
//	    └── loneliness.md
package skills

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Example is a sample exchange for a skill.
type Example struct {
	User     string `json:"user"`
	Response string `json:"response"`
}

// EdgeCase is a scenario with its handling guidance.
type EdgeCase struct {
	Scenario string `json:"scenario"`
	Handling string `json:"handling"`
}

// Skill is one loaded skill definition.
type Skill struct {
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	Tags          []string   `json:"tags"`
	Triggers      []string   `json:"triggers"`
	RequiredTools []string   `json:"required_tools"`
	Instructions  string     `json:"instructions"`
	Examples      []Example  `json:"examples,omitempty"`
	EdgeCases     []EdgeCase `json:"edge_cases,omitempty"`
	Priority      int        `json:"priority"`
	Enabled       bool       `json:"enabled"`

	// Path is the source file.
	Path string `json:"path,omitempty"`
}

var categoryBonus = map[string]float64{
	"emergency":         0.3,
	"health_monitoring": 0.2,
	"emotional_support": 0.15,
	"voice_commands":    0.1,
}

// MatchScore ranks the skill against input in [0,1].
//
// Each matching trigger adds 0.5 and each matching tag 0.2. The category
// bonus and 0.1 per priority point are added unconditionally.
func (s *Skill) MatchScore(input string) float64 {
	in := strings.ToLower(input)
	score := 0.0
	for _, t := range s.Triggers {
		if strings.Contains(in, strings.ToLower(t)) {
			score += 0.5
		}
	}
	for _, t := range s.Tags {
		if strings.Contains(in, strings.ToLower(t)) {
			score += 0.2
		}
	}
	score += categoryBonus[s.Category]
	score += float64(s.Priority) * 0.1
	if score > 1.0 {
		return 1.0
	}
	return score
}

// Matches reports whether any trigger or tag occurs in input.
func (s *Skill) Matches(input string) bool {
	in := strings.ToLower(input)
	for _, t := range s.Triggers {
		if strings.Contains(in, strings.ToLower(t)) {
			return true
		}
	}
	for _, t := range s.Tags {
		if strings.Contains(in, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// Summary is the compact listing form of a skill.
type Summary struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Triggers    []string `json:"triggers"`
	Priority    int      `json:"priority"`
}

// Summary returns the skill's listing form: description truncated to 100
// runes and at most three triggers.
func (s *Skill) Summary() Summary {
	triggers := s.Triggers
	if len(triggers) > 3 {
		triggers = triggers[:3]
	}
	return Summary{
		Name:        s.Name,
		Category:    s.Category,
		Description: Truncate(s.Description, 100),
		Tags:        s.Tags,
		Triggers:    triggers,
		Priority:    s.Priority,
	}
}

// FullPrompt renders the whole skill as markdown.
func (s *Skill) FullPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s Skill\n\n", s.Name)
	fmt.Fprintf(&b, "**Description**: %s\n\n", s.Description)
	if len(s.RequiredTools) > 0 {
		fmt.Fprintf(&b, "**Required Tools**: %s\n\n", strings.Join(s.RequiredTools, ", "))
	}
	fmt.Fprintf(&b, "### Instructions\n%s\n\n", s.Instructions)
	if len(s.Examples) > 0 {
		b.WriteString("### Examples\n")
		for _, ex := range s.Examples {
			fmt.Fprintf(&b, "- **User**: %s\n  **Response**: %s\n\n", ex.User, ex.Response)
		}
	}
	if len(s.EdgeCases) > 0 {
		b.WriteString("### Edge Cases\n")
		for _, ec := range s.EdgeCases {
			fmt.Fprintf(&b, "- **Scenario**: %s\n  **Handling**: %s\n\n", ec.Scenario, ec.Handling)
		}
	}
	return b.String()
}

// Truncate shortens s to max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
