// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"sort"
	"strings"
)

// ToolCallAccumulator reassembles streamed tool-call fragments by index.
//
// Not safe for concurrent use; one accumulator belongs to one stream.
type ToolCallAccumulator struct {
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*partialCall)}
}

// Add merges one fragment. The first non-empty ID and Name win.
func (a *ToolCallAccumulator) Add(f ToolCallFragment) {
	pc, ok := a.calls[f.Index]
	if !ok {
		pc = &partialCall{}
		a.calls[f.Index] = pc
	}
	if pc.id == "" && f.ID != "" {
		pc.id = f.ID
	}
	if pc.name == "" && f.Name != "" {
		pc.name = f.Name
	}
	pc.args.WriteString(f.Arguments)
}

// Len returns the number of distinct calls seen.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Calls returns the assembled calls ordered by index. Calls that never
// received a name are dropped.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	indices := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]ToolCall, 0, len(indices))
	for _, i := range indices {
		pc := a.calls[i]
		if pc.name == "" {
			continue
		}
		out = append(out, ToolCall{
			Index:     i,
			ID:        pc.id,
			Name:      pc.name,
			Arguments: pc.args.String(),
		})
	}
	return out
}
