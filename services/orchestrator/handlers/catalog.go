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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCare/services/care/tools"
)

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTools handles GET /v1/tools?format=openai|claude.
//
// The optional "names" query parameter is a comma-separated subset.
func ListTools(registry *tools.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var names []string
		if raw := c.Query("names"); raw != "" {
			for _, n := range strings.Split(raw, ",") {
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			}
		}

		switch format := c.DefaultQuery("format", "openai"); format {
		case "openai":
			c.JSON(http.StatusOK, gin.H{"format": format, "tools": registry.OpenAIFormat(names...)})
		case "claude":
			c.JSON(http.StatusOK, gin.H{"format": format, "tools": registry.ClaudeFormat(names...)})
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown format", Details: format})
		}
	}
}

// HistoryTurn is one turn in a history response.
type HistoryTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GetHistory handles GET /v1/conversations/:conversation_id/history.
func GetHistory(a CareAgent) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("conversation_id")
		if err := gatewayValidate.Var(id, "required,max=128,printascii"); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation_id"})
			return
		}
		turns, err := a.History(c.Request.Context(), id)
		if err != nil {
			slog.Error("Failed to load history",
				slog.String("conversation_id", id),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load history"})
			return
		}
		out := make([]HistoryTurn, len(turns))
		for i, t := range turns {
			out[i] = HistoryTurn{Role: string(t.Role), Content: t.Content, Timestamp: t.Timestamp}
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": id, "turns": out})
	}
}

// ClearConversation handles DELETE /v1/conversations/:conversation_id.
func ClearConversation(a CareAgent) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("conversation_id")
		if err := gatewayValidate.Var(id, "required,max=128,printascii"); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation_id"})
			return
		}
		if err := a.ClearConversation(c.Request.Context(), id); err != nil {
			slog.Error("Failed to clear conversation",
				slog.String("conversation_id", id),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear conversation"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
