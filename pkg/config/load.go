// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCare/pkg/logging"
)

// envPrefix prefixes every service-specific override.
const envPrefix = "CARE_"

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// DefaultPath returns ~/.aleutian/care.yaml.
func DefaultPath() string {
	return logging.ExpandPath("~/.aleutian/care.yaml")
}

// Load reads the configuration at path.
//
// # Description
//
// Starts from DefaultConfig and overlays the YAML file. A missing file at
// DefaultPath is created with the defaults on first run; a missing file at
// any other explicit path is an error. An empty path skips the file.
// Environment overrides are applied last, then the result is validated.
//
// # Inputs
//
//   - path: YAML file location, or "".
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: Read, parse, override or validation failure.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath():
			if err := WriteDefault(path); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
// Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every section's constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables onto cfg.
//
// Recognized variables:
//
//	CARE_MODEL, CARE_MAX_RETRIES, CARE_RETRY_DELAY, CARE_ENABLE_REFLECTION,
//	CARE_HISTORY_CAP, CARE_STORE_BACKEND, CARE_STORE_PATH, CARE_SKILLS_DIR,
//	CARE_ADDR, CARE_LOG_LEVEL, CARE_LOG_DIR, CARE_TRACE_EXPORTER,
//	CARE_INFLUX_URL, CARE_INFLUX_TOKEN, OPENAI_API_KEY, OPENAI_MODEL,
//	OTEL_EXPORTER_OTLP_ENDPOINT
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str(envPrefix+"MODEL", &cfg.Agent.Model)
	integer(envPrefix+"MAX_RETRIES", &cfg.Agent.MaxRetries)
	duration(envPrefix+"RETRY_DELAY", &cfg.Agent.RetryDelay)
	boolean(envPrefix+"ENABLE_REFLECTION", &cfg.Agent.EnableReflection)
	integer(envPrefix+"HISTORY_CAP", &cfg.Agent.HistoryCap)
	str(envPrefix+"STORE_BACKEND", &cfg.Store.Backend)
	str(envPrefix+"STORE_PATH", &cfg.Store.Path)
	str(envPrefix+"SKILLS_DIR", &cfg.Skills.Dir)
	str(envPrefix+"ADDR", &cfg.Server.Addr)
	str(envPrefix+"LOG_LEVEL", &cfg.Logging.Level)
	str(envPrefix+"LOG_DIR", &cfg.Logging.Dir)
	str(envPrefix+"TRACE_EXPORTER", &cfg.Telemetry.Exporter)
	str(envPrefix+"INFLUX_URL", &cfg.Influx.URL)
	str(envPrefix+"INFLUX_TOKEN", &cfg.Influx.Token)

	str("OPENAI_MODEL", &cfg.LLM.Model)
	if v, ok := lookup(cfg.LLM.APIKeyEnv); ok && strings.TrimSpace(v) != "" {
		cfg.LLM.apiKey = strings.TrimSpace(v)
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = strings.Trim(v, "\"' ")
		if cfg.Telemetry.Exporter == ExporterNone {
			cfg.Telemetry.Exporter = ExporterOTLP
		}
	}
	if cfg.Influx.URL != "" {
		cfg.Influx.Enabled = true
	}

	return errors.Join(errs...)
}
