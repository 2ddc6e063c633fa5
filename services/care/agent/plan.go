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
	"slices"

	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
)

const (
	defaultStyle   = "empathetic"
	emergencyStyle = "urgent_caring"
)

// BuildPlan merges the worker orchestration with the perception fallbacks.
//
// Description:
//
//	The orchestration supplies tools, hints, tone and priority. Perception
//	then adds what the workers may have missed: end intent appends end_call,
//	health relevance appends check_health_status, and an emergency keyword
//	forces CRITICAL priority with notify_caregiver first.
//
// Inputs:
//
//	p - Perception of the utterance. Must not be nil.
//	or - Worker output. Nil is treated as an empty result.
//
// Outputs:
//
//	*Plan - Owns its slices; or is not modified.
func BuildPlan(p *Perception, or *workers.OrchestratorResult) *Plan {
	plan := &Plan{
		Style:         defaultStyle,
		Priority:      workers.PriorityNormal,
		Tools:         []string{},
		Actions:       []string{},
		ResponseHints: []string{},
		Concerns:      []string{},
		UrgentFlags:   []string{},
		Orchestration: or,
	}
	if or != nil {
		plan.Tools = append(plan.Tools, or.ToolRecommendations...)
		plan.ResponseHints = append(plan.ResponseHints, or.ResponseHints...)
		plan.Concerns = append(plan.Concerns, or.Concerns...)
		plan.UrgentFlags = append(plan.UrgentFlags, or.UrgentFlags...)
		plan.Priority = or.OverallPriority
		if or.Tone != "" {
			plan.Style = or.Tone
		}
	}

	if p.WantsToEnd && !slices.Contains(plan.Tools, tools.ToolEndCall) {
		plan.Tools = append(plan.Tools, tools.ToolEndCall)
		plan.Actions = append(plan.Actions, "say_goodbye")
	}
	if p.HealthRelated && !slices.Contains(plan.Tools, tools.ToolCheckHealthStatus) {
		plan.Tools = append(plan.Tools, tools.ToolCheckHealthStatus)
	}
	if p.Emergency {
		if i := slices.Index(plan.Tools, tools.ToolNotifyCaregiver); i >= 0 {
			plan.Tools = slices.Delete(plan.Tools, i, i+1)
		}
		plan.Tools = slices.Insert(plan.Tools, 0, tools.ToolNotifyCaregiver)
		plan.Priority = workers.PriorityCritical
		plan.Style = emergencyStyle
	}
	return plan
}
