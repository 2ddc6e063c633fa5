// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package skills

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	titlePattern    = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)
	metadataPattern = regexp.MustCompile(`^-\s*\*\*(.+?)\*\*:\s*(.+)$`)
)

// Parse builds a Skill from markdown content.
//
// # Description
//
// The first "# " heading names the skill (defaulting to fallbackName). "## "
// headings split the document into sections. Metadata lines have the form
// "- **Key**: value"; values are decoded as YAML so flow lists, booleans and
// integers come out typed. A skill without an explicit Category takes
// category from its directory.
//
// # Outputs
//
//   - *Skill: The parsed skill. Enabled defaults to true.
//   - error: Non-nil when a metadata value has the wrong shape.
func Parse(content, fallbackName, category string) (*Skill, error) {
	name := fallbackName
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		name = strings.TrimSpace(m[1])
	}

	sections := splitSections(content)
	meta := parseMetadata(sections["Metadata"])

	s := &Skill{
		Name:          name,
		Category:      category,
		Description:   strings.TrimSpace(sections["Description"]),
		Tags:          []string{},
		Triggers:      []string{},
		RequiredTools: []string{},
		Instructions:  strings.TrimSpace(sections["Instructions"]),
		Examples:      parseExamples(sections["Examples"]),
		EdgeCases:     parseEdgeCases(sections["Edge Cases"]),
		Enabled:       true,
	}
	if err := meta.apply(s); err != nil {
		return nil, fmt.Errorf("skill %s: %w", name, err)
	}
	return s, nil
}

func splitSections(content string) map[string]string {
	sections := make(map[string]string)
	current := ""
	var lines []string
	flush := func() {
		if current != "" {
			sections[current] = strings.Join(lines, "\n")
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(line[3:])
			lines = nil
			continue
		}
		if current != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return sections
}

type metadata map[string]any

func parseMetadata(text string) metadata {
	meta := make(metadata)
	for _, line := range strings.Split(text, "\n") {
		m := metadataPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m[1])), " ", "_")
		raw := strings.TrimSpace(m[2])

		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			// Not valid YAML; keep the literal text.
			v = raw
		}
		meta[k] = v
	}
	return meta
}

func (m metadata) apply(s *Skill) error {
	if v, ok := m["category"].(string); ok && v != "" {
		s.Category = v
	}
	for key, dst := range map[string]*[]string{
		"tags":           &s.Tags,
		"triggers":       &s.Triggers,
		"required_tools": &s.RequiredTools,
	} {
		v, ok := m[key]
		if !ok {
			continue
		}
		list, err := stringList(v)
		if err != nil {
			return fmt.Errorf("metadata %s: %w", key, err)
		}
		*dst = list
	}
	if v, ok := m["priority"]; ok {
		p, ok := v.(int)
		if !ok {
			return fmt.Errorf("metadata priority: expected integer, got %v", v)
		}
		s.Priority = p
	}
	if v, ok := m["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("metadata enabled: expected boolean, got %v", v)
		}
		s.Enabled = b
	}
	return nil
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(strings.Trim(t, "[]"), ",") {
			if p := strings.Trim(strings.TrimSpace(part), `"'`); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}

func parseExamples(text string) []Example {
	var out []Example
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- User:"):
			out = append(out, Example{User: unquote(line[len("- User:"):])})
		case strings.HasPrefix(line, "Response:") && len(out) > 0:
			out[len(out)-1].Response = unquote(line[len("Response:"):])
		}
	}
	return out
}

func parseEdgeCases(text string) []EdgeCase {
	var out []EdgeCase
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- Scenario:"):
			out = append(out, EdgeCase{Scenario: unquote(line[len("- Scenario:"):])})
		case strings.HasPrefix(line, "Handling:") && len(out) > 0:
			out[len(out)-1].Handling = unquote(line[len("Handling:"):])
		}
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
