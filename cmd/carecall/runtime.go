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
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianCare/pkg/config"
	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
	"github.com/AleutianAI/AleutianCare/services/care/observability"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/care/tools"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
	"github.com/AleutianAI/AleutianCare/services/llm"
)

// runtime is the wired agent and the resources it owns.
type runtime struct {
	Agent    *agent.Agent
	Registry *tools.Registry
	Skills   *skills.Library

	closers []func()
}

// Close releases the store and the quality sink, in reverse order.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// buildRuntime wires every agent collaborator from cfg.
//
// # Description
//
//  1. Opens the OpenAI provider with the sealed key, rate limited when
//     configured.
//  2. Opens the conversation store (memory or Badger).
//  3. Loads the skill library and, when configured, watches it until ctx
//     ends.
//  4. Builds the evaluator, with the InfluxDB quality sink when enabled.
//  5. Builds the worker orchestrator and the tool registry.
//
// # Inputs
//
//   - reg: Receives the care metrics. Nil disables them.
//   - provider: Overrides the OpenAI provider when non-nil.
//
// # Outputs
//
//   - *runtime: Call Close when done.
//   - error: Any collaborator failing to open. Resources opened before the
//     failure are released.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, provider llm.Provider) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if provider == nil {
		provider, err = openProvider(cfg.LLM, logger)
		if err != nil {
			return nil, err
		}
	}

	var metrics *observability.CareMetrics
	if reg != nil {
		metrics = observability.NewMetrics(reg)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(*conversation.BadgerStore); ok {
		rt.closers = append(rt.closers, func() {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close conversation store", slog.String("error", err.Error()))
			}
		})
	}

	if cfg.Skills.Dir != "" {
		rt.Skills, err = skills.NewLibrary(cfg.Skills.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("load skills: %w", err)
		}
		if cfg.Skills.Watch {
			go func() {
				if err := rt.Skills.Watch(ctx, cfg.Skills.Debounce); err != nil {
					logger.Warn("Skill watcher stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	evalOpts := []evaluator.Option{evaluator.WithLogger(logger)}
	if cfg.Influx.Enabled {
		sink, err := evaluator.NewInfluxSink(cfg.Influx.ToInfluxConfig())
		if err != nil {
			return nil, fmt.Errorf("open quality sink: %w", err)
		}
		rt.closers = append(rt.closers, sink.Close)
		evalOpts = append(evalOpts, evaluator.WithSink(sink))
	}
	workerOpts := []workers.OrchestratorOption{workers.WithOrchestratorLogger(logger)}
	toolOpts := []tools.RegistryOption{tools.WithLogger(logger)}
	agentOpts := []agent.Option{agent.WithLogger(logger), agent.WithStore(store)}
	if metrics != nil {
		evalOpts = append(evalOpts, evaluator.WithObserver(metrics))
		workerOpts = append(workerOpts, workers.WithWorkerObserver(metrics))
		toolOpts = append(toolOpts, tools.WithObserver(metrics))
		agentOpts = append(agentOpts, agent.WithObserver(metrics))
	}

	rt.Registry = tools.NewRegistry(toolOpts...)
	if err := tools.RegisterBuiltins(rt.Registry, tools.Dependencies{Logger: logger}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	agentOpts = append(agentOpts,
		agent.WithRegistry(rt.Registry),
		agent.WithEvaluator(evaluator.New(provider, cfg.Evaluator.ToEvaluatorConfig(), evalOpts...)),
		agent.WithPlanner(workers.NewOrchestrator(nil, cfg.Orchestrator.ToOrchestratorConfig(), workerOpts...)))
	if rt.Skills != nil {
		agentOpts = append(agentOpts, agent.WithSkills(rt.Skills))
	}

	rt.Agent, err = agent.New(provider, cfg.Agent.ToAgentConfig(), agentOpts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func openProvider(c config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	oc, err := c.ToOpenAIConfig(logger)
	if err != nil {
		if errors.Is(err, llm.ErrNoAPIKey) {
			return nil, fmt.Errorf("%w (set %s or mount %s)", err, c.APIKeyEnv, c.SecretPath)
		}
		return nil, err
	}
	p, err := llm.NewOpenAIProvider(oc)
	if err != nil {
		return nil, err
	}
	if c.RateLimit > 0 {
		return llm.NewRateLimitedProvider(p, c.RateLimit, c.Burst), nil
	}
	return p, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (conversation.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBadger:
		s, err := conversation.OpenBadgerStore(cfg.Store.ToBadgerConfig(cfg.Agent.HistoryCap, logger))
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return s, nil
	default:
		return conversation.NewMemoryStore(cfg.Store.ToMemoryConfig(cfg.Agent.HistoryCap)), nil
	}
}
