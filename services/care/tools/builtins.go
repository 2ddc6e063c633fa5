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
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Built-in tool names.
const (
	ToolEndCall           = "end_call"
	ToolGetElderlyInfo    = "get_elderly_info"
	ToolCheckHealthStatus = "check_health_status"
	ToolScheduleFollowUp  = "schedule_followup"
	ToolNotifyCaregiver   = "notify_caregiver"
)

// =============================================================================
// Collaborators
// =============================================================================

// ProfileRequest selects which parts of a care profile to return.
type ProfileRequest struct {
	ElderlyID          int64
	IncludeHealth      bool
	IncludeMedications bool
	IncludeRecentCalls bool
}

// HealthCheck is a logged health concern.
type HealthCheck struct {
	ElderlyID    int64
	Symptoms     []string
	UrgencyLevel string
	UrgencyScore int
	At           time.Time
}

// FollowUp is a scheduled follow-up call.
type FollowUp struct {
	ElderlyID   int64
	Reason      string
	Priority    string
	ScheduledAt time.Time
}

// Notification is a caregiver alert.
type Notification struct {
	ElderlyID int64
	Type      string
	Message   string
	Urgency   string
	At        time.Time
}

// ProfileLookup fetches care profile details.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, req ProfileRequest) (map[string]any, error)
}

// HealthLog records health concerns.
type HealthLog interface {
	RecordHealthCheck(ctx context.Context, hc HealthCheck) error
}

// FollowUpScheduler books follow-up calls.
type FollowUpScheduler interface {
	ScheduleFollowUp(ctx context.Context, fu FollowUp) error
}

// CaregiverNotifier delivers caregiver alerts.
type CaregiverNotifier interface {
	NotifyCaregiver(ctx context.Context, n Notification) error
}

// Dependencies wires the built-in tools to their side effects. Nil
// collaborators are replaced by a logging implementation that only records
// the request.
type Dependencies struct {
	Profiles  ProfileLookup
	HealthLog HealthLog
	Scheduler FollowUpScheduler
	Notifier  CaregiverNotifier

	// Now is the clock. Default: time.Now in UTC.
	Now func() time.Time

	Logger *slog.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	lg := &loggingBackend{logger: d.Logger}
	if d.Profiles == nil {
		d.Profiles = lg
	}
	if d.HealthLog == nil {
		d.HealthLog = lg
	}
	if d.Scheduler == nil {
		d.Scheduler = lg
	}
	if d.Notifier == nil {
		d.Notifier = lg
	}
	return d
}

// loggingBackend is the in-process default for every collaborator.
type loggingBackend struct {
	logger *slog.Logger
}

func (b *loggingBackend) LookupProfile(_ context.Context, req ProfileRequest) (map[string]any, error) {
	b.logger.Info("Profile lookup", slog.Int64("elderly_id", req.ElderlyID))
	return map[string]any{
		"elderly_id":           req.ElderlyID,
		"status":               "info_retrieved",
		"include_health":       req.IncludeHealth,
		"include_medications":  req.IncludeMedications,
		"include_recent_calls": req.IncludeRecentCalls,
	}, nil
}

func (b *loggingBackend) RecordHealthCheck(_ context.Context, hc HealthCheck) error {
	b.logger.Info("Health check logged",
		slog.Int64("elderly_id", hc.ElderlyID),
		slog.String("urgency", hc.UrgencyLevel))
	return nil
}

func (b *loggingBackend) ScheduleFollowUp(_ context.Context, fu FollowUp) error {
	b.logger.Info("Follow-up scheduled",
		slog.Int64("elderly_id", fu.ElderlyID),
		slog.String("priority", fu.Priority),
		slog.Time("at", fu.ScheduledAt))
	return nil
}

func (b *loggingBackend) NotifyCaregiver(_ context.Context, n Notification) error {
	b.logger.Info("Caregiver notified",
		slog.Int64("elderly_id", n.ElderlyID),
		slog.String("type", n.Type),
		slog.String("urgency", n.Urgency))
	return nil
}

// =============================================================================
// Built-in Tools
// =============================================================================

// UrgencyScore maps a check_health_status urgency level to a 0-90 score.
func UrgencyScore(level string) int {
	switch level {
	case "elevated":
		return 30
	case "urgent":
		return 60
	case "emergency":
		return 90
	default:
		return 0
	}
}

// FollowUpTime resolves a preferred_time value against now.
//
// "morning", "afternoon" and "evening" map to 09:00, 14:00 and 19:00 on the
// same day, or the next day if that moment has passed. Anything else
// schedules exactly one day after now.
func FollowUpTime(now time.Time, preferred string) time.Time {
	hours := map[string]int{"morning": 9, "afternoon": 14, "evening": 19}
	h, ok := hours[preferred]
	if !ok {
		return now.Add(24 * time.Hour)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Builtins returns the five standard care tools bound to deps.
func Builtins(deps Dependencies) []*Tool {
	d := deps.withDefaults()
	return []*Tool{
		endCallTool(d),
		getElderlyInfoTool(d),
		checkHealthStatusTool(d),
		scheduleFollowUpTool(d),
		notifyCaregiverTool(d),
	}
}

// RegisterBuiltins registers Builtins(deps) into r.
func RegisterBuiltins(r *Registry, deps Dependencies) error {
	for _, t := range Builtins(deps) {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

func elderlyIDParam() ParamDef {
	return ParamDef{Name: "elderly_id", Type: ParamTypeInteger, Description: "어르신 ID", Required: true}
}

func endCallTool(d Dependencies) *Tool {
	return &Tool{
		Name: ToolEndCall,
		Description: "통화를 종료합니다. 어르신이 통화 종료 의사를 밝히거나, 대화가 자연스럽게 마무리되었을 때 사용합니다.\n\n" +
			"사용 시점:\n" +
			"- 어르신이 \"이만 끊을게요\", \"그만 얘기해요\", \"다음에 얘기해요\" 등 종료 의사를 표현할 때\n" +
			"- 인사를 마치고 대화가 자연스럽게 끝났을 때\n" +
			"- 어르신의 건강 상태가 급박하여 실제 도움이 필요할 때 (emergency)\n\n" +
			"주의: 이 도구를 호출하면 통화가 즉시 종료됩니다.",
		Params: []ParamDef{
			{Name: "reason", Type: ParamTypeString, Description: "통화 종료 사유", Required: true,
				Enum: []string{"user_request", "completed", "timeout", "emergency"}},
			{Name: "summary", Type: ParamTypeString, Description: "대화 요약 (선택)"},
			{Name: "schedule_followup", Type: ParamTypeBoolean, Description: "후속 통화 예약 여부", Default: false},
		},
		Category: CategoryCallManagement,
		Tags:     []string{"call", "termination", "critical"},
		Timeout:  5 * time.Second,
		Run: func(_ context.Context, args map[string]any) (map[string]any, error) {
			reason := StringArg(args, "reason", "user_request")
			followup := BoolArg(args, "schedule_followup", false)
			d.Logger.Info("Ending call", slog.String("reason", reason), slog.Bool("followup", followup))
			var summary any
			if s, ok := args["summary"].(string); ok {
				summary = s
			}
			return map[string]any{
				"call_ended":         true,
				"reason":             reason,
				"summary":            summary,
				"followup_scheduled": followup,
				"timestamp":          d.Now().Format(time.RFC3339),
			}, nil
		},
	}
}

func getElderlyInfoTool(d Dependencies) *Tool {
	return &Tool{
		Name: ToolGetElderlyInfo,
		Description: "어르신의 정보를 조회합니다. 대화 중 어르신의 건강 상태, 복용 약물, 최근 통화 기록 등을 확인할 때 사용합니다.\n\n" +
			"사용 시점:\n" +
			"- 어르신의 건강 상태에 대해 맥락이 필요할 때\n" +
			"- 이전 대화 내용을 참고해야 할 때\n" +
			"- 복용 약물 정보가 필요할 때",
		Params: []ParamDef{
			elderlyIDParam(),
			{Name: "include_health", Type: ParamTypeBoolean, Description: "건강 정보 포함 여부", Default: true},
			{Name: "include_medications", Type: ParamTypeBoolean, Description: "복용 약물 정보 포함 여부", Default: true},
			{Name: "include_recent_calls", Type: ParamTypeBoolean, Description: "최근 통화 기록 포함 여부", Default: false},
		},
		Category: CategoryInformation,
		Tags:     []string{"elderly", "info", "health"},
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, _ := IntArg(args, "elderly_id")
			out, err := d.Profiles.LookupProfile(ctx, ProfileRequest{
				ElderlyID:          id,
				IncludeHealth:      BoolArg(args, "include_health", true),
				IncludeMedications: BoolArg(args, "include_medications", true),
				IncludeRecentCalls: BoolArg(args, "include_recent_calls", false),
			})
			if err != nil {
				return nil, fmt.Errorf("lookup profile: %w", err)
			}
			if out == nil {
				out = map[string]any{}
			}
			out["timestamp"] = d.Now().Format(time.RFC3339)
			return out, nil
		},
	}
}

func checkHealthStatusTool(d Dependencies) *Tool {
	return &Tool{
		Name: ToolCheckHealthStatus,
		Description: "어르신이 언급한 건강 문제를 기록하고 평가합니다.\n\n" +
			"사용 시점:\n" +
			"- 어르신이 신체적 불편함을 호소할 때\n" +
			"- 평소와 다른 증상을 언급할 때\n" +
			"- 정서적/심리적 어려움을 표현할 때\n\n" +
			"urgency_level:\n" +
			"- normal: 일상적인 대화 중 언급\n" +
			"- elevated: 주의가 필요한 상태\n" +
			"- urgent: 빠른 조치가 필요\n" +
			"- emergency: 즉각적인 개입 필요",
		Params: []ParamDef{
			elderlyIDParam(),
			{Name: "symptoms", Type: ParamTypeArray, ItemType: ParamTypeString, Description: "보고된 증상 목록"},
			{Name: "urgency_level", Type: ParamTypeString, Description: "긴급도 수준", Default: "normal",
				Enum: []string{"normal", "elevated", "urgent", "emergency"}},
		},
		Category: CategoryHealth,
		Tags:     []string{"health", "symptoms", "monitoring", "critical"},
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, _ := IntArg(args, "elderly_id")
			level := StringArg(args, "urgency_level", "normal")
			hc := HealthCheck{
				ElderlyID:    id,
				Symptoms:     StringsArg(args, "symptoms"),
				UrgencyLevel: level,
				UrgencyScore: UrgencyScore(level),
				At:           d.Now(),
			}
			if err := d.HealthLog.RecordHealthCheck(ctx, hc); err != nil {
				return nil, fmt.Errorf("record health check: %w", err)
			}
			return map[string]any{
				"elderly_id":                      id,
				"health_check_logged":             true,
				"symptoms":                        hc.Symptoms,
				"urgency_level":                   level,
				"urgency_score":                   hc.UrgencyScore,
				"requires_caregiver_notification": level == "urgent" || level == "emergency",
				"timestamp":                       hc.At.Format(time.RFC3339),
			}, nil
		},
	}
}

func scheduleFollowUpTool(d Dependencies) *Tool {
	return &Tool{
		Name: ToolScheduleFollowUp,
		Description: "후속 통화를 예약합니다. 어르신과의 대화 중 추가 확인이 필요하거나 정기적인 안부 확인이 필요할 때 사용합니다.\n\n" +
			"사용 시점:\n" +
			"- 어르신이 다음 통화를 원할 때\n" +
			"- 건강 상태 추적이 필요할 때\n" +
			"- 특정 이벤트 후 확인이 필요할 때",
		Params: []ParamDef{
			elderlyIDParam(),
			{Name: "reason", Type: ParamTypeString, Description: "후속 통화 사유", Required: true},
			{Name: "preferred_time", Type: ParamTypeString, Description: "선호 시간 (morning, afternoon, evening, 또는 HH:MM)"},
			{Name: "priority", Type: ParamTypeString, Description: "우선순위", Default: "normal",
				Enum: []string{"normal", "high", "urgent"}},
		},
		Category: CategoryScheduling,
		Tags:     []string{"schedule", "followup", "call"},
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, _ := IntArg(args, "elderly_id")
			now := d.Now()
			fu := FollowUp{
				ElderlyID:   id,
				Reason:      StringArg(args, "reason", ""),
				Priority:    StringArg(args, "priority", "normal"),
				ScheduledAt: FollowUpTime(now, StringArg(args, "preferred_time", "")),
			}
			if err := d.Scheduler.ScheduleFollowUp(ctx, fu); err != nil {
				return nil, fmt.Errorf("schedule follow-up: %w", err)
			}
			return map[string]any{
				"elderly_id":     id,
				"scheduled":      true,
				"scheduled_time": fu.ScheduledAt.Format(time.RFC3339),
				"reason":         fu.Reason,
				"priority":       fu.Priority,
				"timestamp":      now.Format(time.RFC3339),
			}, nil
		},
	}
}

func notifyCaregiverTool(d Dependencies) *Tool {
	return &Tool{
		Name: ToolNotifyCaregiver,
		Description: "보호자에게 알림을 전송합니다. 중요한 정보나 우려사항을 보호자에게 즉시 알려야 할 때 사용합니다.\n\n" +
			"사용 시점:\n" +
			"- 어르신의 건강 상태에 주의가 필요할 때\n" +
			"- 긴급 상황이 발생했을 때\n" +
			"- 중요한 대화 내용을 공유해야 할 때",
		Params: []ParamDef{
			elderlyIDParam(),
			{Name: "notification_type", Type: ParamTypeString, Description: "알림 유형", Required: true,
				Enum: []string{"health_alert", "call_summary", "emergency", "info"}},
			{Name: "message", Type: ParamTypeString, Description: "알림 메시지 내용", Required: true},
			{Name: "urgency", Type: ParamTypeString, Description: "긴급도", Default: "normal",
				Enum: []string{"normal", "high", "critical"}},
		},
		Category: CategoryNotification,
		Tags:     []string{"notification", "caregiver", "alert"},
		Timeout:  15 * time.Second,
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, _ := IntArg(args, "elderly_id")
			n := Notification{
				ElderlyID: id,
				Type:      StringArg(args, "notification_type", ""),
				Message:   StringArg(args, "message", ""),
				Urgency:   StringArg(args, "urgency", "normal"),
				At:        d.Now(),
			}
			if err := d.Notifier.NotifyCaregiver(ctx, n); err != nil {
				return nil, fmt.Errorf("notify caregiver: %w", err)
			}
			return map[string]any{
				"elderly_id":        id,
				"notification_sent": true,
				"notification_type": n.Type,
				"message":           n.Message,
				"urgency":           n.Urgency,
				"timestamp":         n.At.Format(time.RFC3339),
			}, nil
		},
	}
}
