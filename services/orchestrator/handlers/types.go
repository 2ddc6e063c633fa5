// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and websocket surface of the care
// gateway.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/care/conversation"
)

// CareAgent is the agent surface the gateway drives. *agent.Agent
// implements it.
type CareAgent interface {
	ProcessTurn(ctx context.Context, input string, cc *agent.ConversationContext, emit agent.FragmentFunc) error
	GenerateGreeting(ctx context.Context, cc *agent.ConversationContext, emit agent.FragmentFunc) error
	ClearConversation(ctx context.Context, conversationID string) error
	History(ctx context.Context, conversationID string) ([]conversation.Turn, error)
}

var _ CareAgent = (*agent.Agent)(nil)

// maxInputRunes bounds one subject utterance.
const maxInputRunes = 2000

var gatewayValidate *validator.Validate

func init() {
	gatewayValidate = validator.New()
}

// ErrorResponse is the JSON body of a rejected request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Profile carries the subject's care profile on a request.
type Profile struct {
	SubjectID       int64  `json:"elderly_id,omitempty" form:"elderly_id" validate:"gte=0"`
	Name            string `json:"elderly_name,omitempty" form:"elderly_name" validate:"max=100"`
	Age             int    `json:"elderly_age,omitempty" form:"elderly_age" validate:"gte=0,lte=150"`
	HealthCondition string `json:"health_condition,omitempty" form:"health_condition" validate:"max=500"`

	// Medications is a list in JSON bodies and a comma-separated value in
	// query strings.
	Medications []string `json:"medications,omitempty" form:"medications" validate:"max=50,dive,max=100"`
}

// context builds the agent context for a conversation.
func (p Profile) context(conversationID string, callID int64) *agent.ConversationContext {
	return &agent.ConversationContext{
		ConversationID:  conversationID,
		SubjectID:       p.SubjectID,
		Name:            strings.TrimSpace(p.Name),
		Age:             p.Age,
		HealthCondition: strings.TrimSpace(p.HealthCondition),
		Medications:     splitMedications(p.Medications),
		CallID:          callID,
	}
}

// splitMedications flattens comma-separated entries and drops blanks.
func splitMedications(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, m := range strings.Split(entry, ",") {
			if m = strings.TrimSpace(m); m != "" {
				out = append(out, m)
			}
		}
	}
	return out
}

// validationMessage renders validator errors as one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// callConversationID names the conversation of a call.
func callConversationID(callID int64) string {
	return fmt.Sprintf("call_%d", callID)
}
