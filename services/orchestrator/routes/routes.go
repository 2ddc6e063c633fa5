// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

// Dependencies are the collaborators the routes serve.
type Dependencies struct {
	Agent    handlers.CareAgent
	Registry *tools.Registry
	Call     handlers.CallConfig

	// Metrics may be nil; /metrics is only mounted when MetricsHandler is set.
	Metrics        *observability.GatewayMetrics
	MetricsHandler http.Handler

	// SSEKeepAlive is the turn stream comment interval.
	SSEKeepAlive time.Duration

	Logger *slog.Logger
}

// SetupRoutes registers every gateway route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	calls := handlers.NewCallHandler(deps.Agent, deps.Call, deps.Metrics, deps.Logger)
	turns := handlers.NewTurnHandler(deps.Agent, deps.Metrics, deps.Logger, deps.SSEKeepAlive)

	v1 := router.Group("/v1")
	{
		v1.GET("/calls/:call_id/ws", calls.Serve)
		v1.GET("/tools", handlers.ListTools(deps.Registry))

		conversations := v1.Group("/conversations")
		{
			conversations.POST("/:conversation_id/turns", turns.Serve)
			conversations.GET("/:conversation_id/history", handlers.GetHistory(deps.Agent))
			conversations.DELETE("/:conversation_id", handlers.ClearConversation(deps.Agent))
		}
	}
}

// DefaultMetricsHandler serves the default Prometheus registry.
func DefaultMetricsHandler() http.Handler {
	return promhttp.Handler()
}
