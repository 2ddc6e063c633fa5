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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCare/pkg/config"
	"github.com/AleutianAI/AleutianCare/pkg/logging"
)

// app carries state shared by every subcommand once the root has run.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

// slogger returns the process logger, or the default before setup.
func (a *app) slogger() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "carecall",
		Short: "Conversational check-in agent for elderly care",
		Long: `carecall runs the Aleutian care agent: a Korean-language companion
that checks in on elderly people by phone or chat, watches for health and
emotional concerns, and escalates to caregivers through its tools.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(),
		"config file (empty to use defaults and environment only)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newToolsCmd(a),
		newSkillsCmd(a),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	lc, err := cfg.Logging.ToLoggingConfig(cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	if lc.Output == nil {
		lc.Output = cmd.ErrOrStderr()
	}
	a.cfg = cfg
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger.Slog())
	return nil
}
