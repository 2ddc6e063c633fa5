// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

// TurnRequest is the body of POST /v1/conversations/:conversation_id/turns.
type TurnRequest struct {
	// Message is the subject's utterance. Required unless Greeting is set.
	Message string `json:"message" validate:"required_without=Greeting,max=8000"`

	// Greeting asks the assistant to open the conversation.
	Greeting bool `json:"greeting,omitempty"`

	CallID int64 `json:"call_id,omitempty" validate:"gte=0"`

	Profile
}

// TurnHandler serves one-shot turns as Server-Sent Events.
type TurnHandler struct {
	agent     CareAgent
	metrics   *observability.GatewayMetrics
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewTurnHandler creates a TurnHandler. keepAlive <= 0 means 15s.
func NewTurnHandler(a CareAgent, metrics *observability.GatewayMetrics, logger *slog.Logger, keepAlive time.Duration) *TurnHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &TurnHandler{agent: a, metrics: metrics, logger: logger, keepAlive: keepAlive}
}

// Serve handles POST /v1/conversations/:conversation_id/turns.
//
// # Description
//
// Validates the request, then streams the reply as "fragment" events
// followed by one "done" event carrying the cleaned reply, or one "error"
// event when the turn fails. The call-end marker is never forwarded; its
// presence is reported as call_end_detected on "done".
//
// # Outputs
//
//   - 400 with ErrorResponse when the request is invalid.
//   - 200 text/event-stream otherwise.
func (h *TurnHandler) Serve(c *gin.Context) {
	ctx, span := otel.Tracer("care.gateway").Start(c.Request.Context(), "handlers.TurnHandler.Serve")
	defer span.End()

	conversationID := c.Param("conversation_id")
	if err := gatewayValidate.Var(conversationID, "required,max=128,printascii"); err != nil {
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation_id"})
		return
	}

	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := gatewayValidate.Struct(req); err != nil {
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: validationMessage(err)})
		return
	}
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Bool("turn.greeting", req.Greeting))

	SetSSEHeaders(c.Writer)
	w, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.SetStatus(codes.Error, "SSE setup failed")
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeInternal)
		h.logger.Error("Failed to create SSE writer", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	h.metrics.StreamStarted(observability.EndpointTurn)
	defer h.metrics.StreamEnded(observability.EndpointTurn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	kaDone := make(chan struct{})
	go func() {
		defer close(kaDone)
		h.keepAliveLoop(ctx, w)
	}()

	cc := req.Profile.context(conversationID, req.CallID)
	responseID := uuid.NewString()
	started := time.Now()
	first := true

	var (
		full    strings.Builder
		callEnd bool
		sendErr error
	)
	emit := func(fragment string) error {
		if strings.Contains(fragment, agent.CallEndMarker) {
			fragment = strings.ReplaceAll(fragment, agent.CallEndMarker, "")
			callEnd = !req.Greeting
		}
		if fragment == "" {
			return nil
		}
		if first {
			first = false
			h.metrics.RecordTimeToFirstFragment(observability.EndpointTurn, time.Since(started).Seconds())
		}
		full.WriteString(fragment)
		if err := w.WriteFragment(responseID, fragment); err != nil {
			sendErr = err
			return err
		}
		return nil
	}

	if req.Greeting {
		err = h.agent.GenerateGreeting(ctx, cc, emit)
	} else {
		err = h.agent.ProcessTurn(ctx, req.Message, cc, emit)
	}
	cancel()
	<-kaDone

	success := err == nil
	h.metrics.RecordRequest(observability.EndpointTurn, success)
	h.metrics.RecordStreamDuration(observability.EndpointTurn, time.Since(started).Seconds(), success)

	clean, _ := agent.StripCallEnd(full.String())
	clean = strings.TrimSpace(clean)

	switch {
	case sendErr != nil:
		h.metrics.RecordClientDisconnect(observability.EndpointTurn)
		return
	case err == nil:
		_ = w.WriteDone(responseID, clean, callEnd)
	case errors.Is(err, agent.ErrRetryBudgetExhausted):
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeExhausted)
		_ = w.WriteDone(responseID, clean, callEnd)
	case errors.Is(err, context.Canceled):
		h.metrics.RecordClientDisconnect(observability.EndpointTurn)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.RecordError(observability.EndpointTurn, observability.ErrorCodeAgent)
		h.logger.Error("Turn failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		_ = w.WriteError(responseID, "turn failed")
	}
}

func (h *TurnHandler) keepAliveLoop(ctx context.Context, w SSEWriter) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteKeepAlive(); err != nil {
				return
			}
			h.metrics.RecordKeepAlive(observability.EndpointTurn)
		}
	}
}
