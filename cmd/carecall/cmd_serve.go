// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCare/pkg/config"
	"github.com/AleutianAI/AleutianCare/services/orchestrator"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the care gateway",
		Long: `Starts the HTTP gateway:

  GET    /v1/calls/:call_id/ws                      duplex call channel
  POST   /v1/conversations/:conversation_id/turns   one turn as SSE
  GET    /v1/conversations/:conversation_id/history stored turns
  DELETE /v1/conversations/:conversation_id         forget a conversation
  GET    /v1/tools                                  tool schemas
  GET    /health, /metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg, a.slogger())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// runServe wires the agent behind the gateway and blocks until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var reg prometheus.Registerer
	if cfg.Telemetry.Metrics {
		reg = prometheus.DefaultRegisterer
	}
	rt, err := buildRuntime(ctx, cfg, logger, reg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := orchestrator.New(gatewayConfig(cfg), orchestrator.Dependencies{
		Agent:    rt.Agent,
		Registry: rt.Registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

// gatewayConfig maps the server and telemetry sections.
func gatewayConfig(cfg *config.Config) orchestrator.Config {
	s := cfg.Server
	return orchestrator.Config{
		Addr:          s.Addr,
		ServiceName:   cfg.Telemetry.ServiceName,
		GinMode:       s.GinMode,
		EnableMetrics: cfg.Telemetry.Metrics,
		Tracing: orchestrator.TracingConfig{
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			ServiceName: cfg.Telemetry.ServiceName,
		},
		Call: handlers.CallConfig{
			PingInterval:    s.PingInterval,
			PongWait:        s.PongWait,
			WriteWait:       s.WriteWait,
			MaxMessageBytes: s.MaxMessageBytes,
			DedupSize:       s.DedupSize,
			EndCallDelay:    s.EndCallDelay,
			AllowedOrigins:  s.AllowedOrigins,

			KeepHistoryOnDisconnect: s.KeepHistoryOnDisconnect,
		},
	}
}
