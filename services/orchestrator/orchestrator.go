// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the care gateway service.
//
// This package contains the Service type that puts the conversation agent
// on the network: the websocket call channel, the SSE turn endpoint, the
// tool catalog, health and metrics, with OpenTelemetry tracing.
//
// # Usage
//
//	svc, err := orchestrator.New(orchestrator.Config{Addr: ":12220"},
//	    orchestrator.Dependencies{Agent: a, Registry: a.Registry()})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails, then shuts
	// down gracefully and releases the tracer.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options.
//
// # Optional Fields
//
// All fields are optional with defaults applied by New().
type Config struct {
	// Addr is the listen address. Default: ":12220"
	Addr string

	// ServiceName labels spans and the otelgin middleware.
	// Default: "aleutian-care"
	ServiceName string

	// GinMode sets the Gin framework mode: "debug", "release" or "test".
	// Empty leaves the process-wide mode unchanged.
	GinMode string

	// Tracing selects the span exporter. Zero value disables export.
	Tracing TracingConfig

	// EnableMetrics registers gateway metrics and mounts /metrics.
	EnableMetrics bool

	// MetricsRegisterer receives the gateway metrics.
	// Default: prometheus.DefaultRegisterer
	MetricsRegisterer prometheus.Registerer

	// MetricsHandler serves /metrics. Default: the default registry handler.
	MetricsHandler http.Handler

	// Call tunes the websocket call channel.
	Call handlers.CallConfig

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// Dependencies are the collaborators the gateway serves.
type Dependencies struct {
	// Agent answers turns. Required.
	Agent handlers.CareAgent

	// Registry backs the tool catalog. Required.
	Registry *tools.Registry

	Logger *slog.Logger
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = ":12220"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-care"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.ServiceName
	}
	if cfg.MetricsRegisterer == nil {
		cfg.MetricsRegisterer = prometheus.DefaultRegisterer
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = routes.DefaultMetricsHandler()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New() returns.
type service struct {
	config         Config
	router         *gin.Engine
	metrics        *observability.GatewayMetrics
	logger         *slog.Logger
	tracerShutdown func(context.Context) error
}

// New creates a gateway Service.
//
// # Description
//
// New initializes the gateway components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Registers gateway metrics when enabled
//  4. Sets up the HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run gateway.
//   - error: Missing dependencies or tracer setup failure.
func New(cfg Config, deps Dependencies) (Service, error) {
	if deps.Agent == nil {
		return nil, errors.New("orchestrator: agent is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("orchestrator: tool registry is required")
	}

	s := &service{
		config: applyConfigDefaults(cfg),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	shutdown, err := InitTracer(context.Background(), s.config.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerShutdown = shutdown

	if s.config.EnableMetrics {
		s.metrics = observability.NewGatewayMetrics(s.config.MetricsRegisterer)
		s.logger.Info("Initialized Prometheus metrics for the gateway")
	}

	s.initRouter(deps)
	return s, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting care gateway", slog.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down care gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) initRouter(deps Dependencies) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))

	rd := routes.Dependencies{
		Agent:    deps.Agent,
		Registry: deps.Registry,
		Call:     s.config.Call,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}
	if s.config.EnableMetrics {
		rd.MetricsHandler = s.config.MetricsHandler
	}
	routes.SetupRoutes(s.router, rd)
}

// cleanup releases the tracer. Called when Run() exits.
func (s *service) cleanup() {
	if s.tracerShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tracerShutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown the tracer", slog.String("error", err.Error()))
	}
}
