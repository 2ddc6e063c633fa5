// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianCare/services/llm"
)

// ClaudeTool is the Anthropic tool-use declaration shape.
type ClaudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// JSONSchema renders the tool parameters as a JSON-schema object.
func (t *Tool) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = append([]string(nil), p.Enum...)
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Type == ParamTypeArray {
			item := p.ItemType
			if item == "" {
				item = ParamTypeString
			}
			prop["items"] = map[string]any{"type": string(item)}
		}
		props[p.Name] = prop
	}
	required := t.Required()
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// OpenAIFormat exports the named tools (all when names is empty) as
// OpenAI function-calling declarations.
func (r *Registry) OpenAIFormat(names ...string) []openai.Tool {
	selected := r.selectTools(names)
	out := make([]openai.Tool, 0, len(selected))
	for _, t := range selected {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}
	return out
}

// ClaudeFormat exports the named tools (all when names is empty) as
// Anthropic tool-use declarations.
func (r *Registry) ClaudeFormat(names ...string) []ClaudeTool {
	selected := r.selectTools(names)
	out := make([]ClaudeTool, 0, len(selected))
	for _, t := range selected {
		out = append(out, ClaudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.JSONSchema(),
		})
	}
	return out
}

// Specs exports the named tools (all when names is empty) as
// provider-neutral declarations for llm.Request.
func (r *Registry) Specs(names ...string) []llm.ToolSpec {
	selected := r.selectTools(names)
	out := make([]llm.ToolSpec, 0, len(selected))
	for _, t := range selected {
		out = append(out, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.JSONSchema(),
		})
	}
	return out
}

func (r *Registry) selectTools(names []string) []*Tool {
	if len(names) == 0 {
		return r.All()
	}
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			out = append(out, t)
		}
	}
	return out
}
