// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the AleutianCare service configuration.
//
// # Description
//
// Configuration is a single YAML document with one section per component.
// Loading applies, in order: DefaultConfig, the YAML file, environment
// overrides, then struct-tag validation. Each section converts into the
// config type of the component it drives.
package config

import (
	"log/slog"
	"time"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/AleutianCare/pkg/logging"
	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/care/evaluator"
	"github.com/AleutianAI/AleutianCare/services/care/workers"
	"github.com/AleutianAI/AleutianCare/services/llm"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Trace exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config is the root of the YAML document.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Evaluator    EvaluatorConfig    `yaml:"evaluator"`
	LLM          LLMConfig          `yaml:"llm"`
	Store        StoreConfig        `yaml:"store"`
	Skills       SkillsConfig       `yaml:"skills"`
	Server       ServerConfig       `yaml:"server"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Influx       InfluxConfig       `yaml:"influx"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AgentConfig drives the conversation agent loop.
type AgentConfig struct {
	Model               string        `yaml:"model" validate:"required"`
	MaxTokens           int           `yaml:"max_tokens" validate:"min=1"`
	Temperature         float32       `yaml:"temperature" validate:"min=0,max=2"`
	MaxRetries          int           `yaml:"max_retries" validate:"min=0,max=10"`
	RetryDelay          time.Duration `yaml:"retry_delay" validate:"min=0"`
	MaxToolCallsPerTurn int           `yaml:"max_tool_calls_per_turn" validate:"min=1"`
	EnableReflection    bool          `yaml:"enable_reflection"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout" validate:"min=0"`
	HistoryCap          int           `yaml:"history_cap" validate:"min=1"`

	// SystemPrompt replaces the built-in base prompt when set.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	MaxSkills     int     `yaml:"max_skills" validate:"min=0"`
	MinSkillScore float64 `yaml:"min_skill_score" validate:"min=0,max=1"`
}

// OrchestratorConfig drives the worker fan-out.
type OrchestratorConfig struct {
	WorkerTimeout time.Duration `yaml:"worker_timeout" validate:"min=0"`
	MaxParallel   int           `yaml:"max_parallel" validate:"min=0"`
	AlwaysRun     []string      `yaml:"always_run,omitempty"`
	MaxTools      int           `yaml:"max_tools" validate:"min=0"`
	MaxHints      int           `yaml:"max_hints" validate:"min=0"`
}

// EvaluatorConfig drives reply scoring.
type EvaluatorConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=0"`
	Temperature float32 `yaml:"temperature" validate:"min=0,max=2"`
	Threshold   float64 `yaml:"threshold" validate:"min=0,max=1"`
	EnableLLM   bool    `yaml:"enable_llm"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider string        `yaml:"provider" validate:"oneof=openai"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`

	// SecretPath is the fallback key file.
	SecretPath string `yaml:"secret_path"`

	// RateLimit is the client-side request rate per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	Burst     int     `yaml:"burst" validate:"min=0"`

	// apiKey is set from OPENAI_API_KEY during Load and never serialized.
	apiKey string
}

// StoreConfig selects the conversation store.
type StoreConfig struct {
	Backend          string        `yaml:"backend" validate:"oneof=memory badger"`
	Path             string        `yaml:"path" validate:"required_if=Backend badger InMemory false"`
	InMemory         bool          `yaml:"in_memory"`
	SyncWrites       bool          `yaml:"sync_writes"`
	TTL              time.Duration `yaml:"ttl" validate:"min=0"`
	MaxConversations int           `yaml:"max_conversations" validate:"min=0"`
	GCInterval       time.Duration `yaml:"gc_interval" validate:"min=0"`
	GCDiscardRatio   float64       `yaml:"gc_discard_ratio" validate:"min=0,max=1"`
}

// SkillsConfig locates the skill library.
type SkillsConfig struct {
	// Dir holds skill markdown files. Empty disables skills.
	Dir      string        `yaml:"dir"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

// ServerConfig drives the gateway.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	PingInterval    time.Duration `yaml:"ping_interval" validate:"min=0"`
	PongWait        time.Duration `yaml:"pong_wait" validate:"min=0"`
	WriteWait       time.Duration `yaml:"write_wait" validate:"min=0"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" validate:"min=0"`
	DedupSize       int           `yaml:"dedup_size" validate:"min=0"`
	EndCallDelay    time.Duration `yaml:"end_call_delay" validate:"min=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins,omitempty"`

	// KeepHistoryOnDisconnect lets a dropped call resume with its history.
	KeepHistoryOnDisconnect bool `yaml:"keep_history_on_disconnect"`
}

// TelemetryConfig drives tracing.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" validate:"required"`
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Exporter otlp"`
	Metrics      bool   `yaml:"metrics"`
}

// InfluxConfig drives the evaluation quality sink.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Token   string `yaml:"token,omitempty"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`

	// WriteTimeout bounds each point write.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// LoggingConfig drives pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	ad := agent.DefaultConfig()
	od := workers.DefaultOrchestratorConfig()
	ed := evaluator.DefaultConfig()
	bd := conversation.DefaultBadgerConfig("~/.aleutian/care/conversations")

	return Config{
		Agent: AgentConfig{
			Model:               ad.Model,
			MaxTokens:           ad.MaxTokens,
			Temperature:         ad.Temperature,
			MaxRetries:          ad.MaxRetries,
			RetryDelay:          ad.RetryDelayBase,
			MaxToolCallsPerTurn: ad.MaxToolCallsPerTurn,
			EnableReflection:    ad.EnableReflection,
			AttemptTimeout:      ad.AttemptTimeout,
			HistoryCap:          ad.HistoryCap,
			MaxSkills:           ad.MaxSkills,
			MinSkillScore:       ad.MinSkillScore,
		},
		Orchestrator: OrchestratorConfig{
			WorkerTimeout: od.WorkerTimeout,
			MaxParallel:   od.MaxParallel,
			MaxTools:      od.MaxTools,
			MaxHints:      od.MaxHints,
		},
		Evaluator: EvaluatorConfig{
			Model:       ed.Model,
			MaxTokens:   ed.MaxTokens,
			Temperature: ed.Temperature,
			Threshold:   ed.Threshold,
			EnableLLM:   ed.EnableLLM,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      llm.DefaultOpenAIModel,
			Timeout:    120 * time.Second,
			APIKeyEnv:  "OPENAI_API_KEY",
			SecretPath: llm.DefaultSecretPath,
		},
		Store: StoreConfig{
			Backend:          StoreMemory,
			Path:             bd.Path,
			SyncWrites:       bd.SyncWrites,
			TTL:              bd.TTL,
			MaxConversations: 1000,
			GCInterval:       bd.GCInterval,
			GCDiscardRatio:   bd.GCDiscardRatio,
		},
		Skills: SkillsConfig{
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:            ":12220",
			GinMode:         "release",
			PingInterval:    30 * time.Second,
			PongWait:        40 * time.Second,
			WriteWait:       10 * time.Second,
			MaxMessageBytes: 64 * 1024,
			DedupSize:       1000,
			EndCallDelay:    time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "aleutian-care",
			Exporter:    ExporterNone,
			Metrics:     true,
		},
		Influx: InfluxConfig{
			Org:          "aleutian",
			Bucket:       "care_quality",
			WriteTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Component Conversion
// =============================================================================

// ToAgentConfig converts the agent section.
func (c AgentConfig) ToAgentConfig() agent.Config {
	return agent.Config{
		Model:               c.Model,
		MaxTokens:           c.MaxTokens,
		Temperature:         c.Temperature,
		MaxRetries:          c.MaxRetries,
		RetryDelayBase:      c.RetryDelay,
		MaxToolCallsPerTurn: c.MaxToolCallsPerTurn,
		EnableReflection:    c.EnableReflection,
		AttemptTimeout:      c.AttemptTimeout,
		HistoryCap:          c.HistoryCap,
		BaseSystemPrompt:    c.SystemPrompt,
		MaxSkills:           c.MaxSkills,
		MinSkillScore:       c.MinSkillScore,
	}
}

// ToOrchestratorConfig converts the orchestrator section.
func (c OrchestratorConfig) ToOrchestratorConfig() workers.OrchestratorConfig {
	return workers.OrchestratorConfig{
		WorkerTimeout: c.WorkerTimeout,
		MaxParallel:   c.MaxParallel,
		AlwaysRun:     append([]string(nil), c.AlwaysRun...),
		MaxTools:      c.MaxTools,
		MaxHints:      c.MaxHints,
	}
}

// ToEvaluatorConfig converts the evaluator section.
func (c EvaluatorConfig) ToEvaluatorConfig() evaluator.Config {
	return evaluator.Config{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Threshold:   c.Threshold,
		EnableLLM:   c.EnableLLM,
	}
}

// ToOpenAIConfig converts the llm section and seals the API key.
//
// # Description
//
// A key supplied through the environment at load time wins. Otherwise the
// key is read from APIKeyEnv, then SecretPath.
//
// # Outputs
//
//   - llm.OpenAIConfig: Ready for llm.NewOpenAIProvider.
//   - error: llm.ErrNoAPIKey when no key source yields a value.
func (c LLMConfig) ToOpenAIConfig(logger *slog.Logger) (llm.OpenAIConfig, error) {
	var (
		key *memguard.Enclave
		err error
	)
	if c.apiKey != "" {
		key = memguard.NewEnclave([]byte(c.apiKey))
	} else {
		key, err = llm.LoadAPIKey(c.APIKeyEnv, c.SecretPath)
		if err != nil {
			return llm.OpenAIConfig{}, err
		}
	}
	return llm.OpenAIConfig{
		APIKey:  key,
		Model:   c.Model,
		BaseURL: c.BaseURL,
		Timeout: c.Timeout,
		Logger:  logger,
	}, nil
}

// ToMemoryConfig converts the store section for the in-process store.
func (c StoreConfig) ToMemoryConfig(maxTurns int) conversation.MemoryConfig {
	return conversation.MemoryConfig{
		MaxConversations: c.MaxConversations,
		MaxTurns:         maxTurns,
	}
}

// ToBadgerConfig converts the store section for the persistent store.
func (c StoreConfig) ToBadgerConfig(maxTurns int, logger *slog.Logger) conversation.BadgerConfig {
	return conversation.BadgerConfig{
		Path:           logging.ExpandPath(c.Path),
		InMemory:       c.InMemory,
		SyncWrites:     c.SyncWrites,
		TTL:            c.TTL,
		MaxTurns:       maxTurns,
		GCInterval:     c.GCInterval,
		GCDiscardRatio: c.GCDiscardRatio,
		Logger:         logger,
	}
}

// ToInfluxConfig converts the influx section.
func (c InfluxConfig) ToInfluxConfig() evaluator.InfluxConfig {
	return evaluator.InfluxConfig{
		URL:          c.URL,
		Token:        c.Token,
		Org:          c.Org,
		Bucket:       c.Bucket,
		WriteTimeout: c.WriteTimeout,
	}
}

// ToLoggingConfig converts the logging section for the named service.
func (c LoggingConfig) ToLoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
	}, nil
}
