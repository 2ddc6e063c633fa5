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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCare/pkg/ux"
	"github.com/AleutianAI/AleutianCare/services/care/skills"
	"github.com/AleutianAI/AleutianCare/services/care/tools"
)

// =============================================================================
// Tools
// =============================================================================

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the agent's tools",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := builtinRegistry(a)
			if err != nil {
				return err
			}
			p := ux.NewPrinter(cmd.OutOrStdout())
			for _, t := range reg.All() {
				p.Title(t.Name)
				p.KeyValue([][2]string{
					{"category", string(t.Category)},
					{"required", strings.Join(t.Required(), ", ")},
					{"description", t.Description},
				})
			}
			return nil
		},
	}

	var format string
	export := &cobra.Command{
		Use:   "export [name...]",
		Short: "Print tool schemas as JSON for a model API",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := builtinRegistry(a)
			if err != nil {
				return err
			}
			var v any
			switch format {
			case "openai":
				v = reg.OpenAIFormat(args...)
			case "claude":
				v = reg.ClaudeFormat(args...)
			default:
				return fmt.Errorf("unknown format %q (want openai or claude)", format)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(v)
		},
	}
	export.Flags().StringVar(&format, "format", "openai", "schema format: openai or claude")

	cmd.AddCommand(list, export)
	return cmd
}

func builtinRegistry(a *app) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.WithLogger(a.slogger()))
	if err := tools.RegisterBuiltins(reg, tools.Dependencies{Logger: a.slogger()}); err != nil {
		return nil, err
	}
	return reg, nil
}

// =============================================================================
// Skills
// =============================================================================

func newSkillsCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skill library",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "skill directory (overrides skills.dir)")

	load := func() (*skills.Library, error) {
		if dir == "" {
			dir = a.cfg.Skills.Dir
		}
		if dir == "" {
			return nil, errors.New("no skill directory: set skills.dir or pass --dir")
		}
		return skills.NewLibrary(dir, a.slogger())
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := load()
			if err != nil {
				return err
			}
			p := ux.NewPrinter(cmd.OutOrStdout())
			for _, category := range lib.Categories() {
				p.Title(category)
				for _, s := range lib.ByCategory(category) {
					p.Bullet(fmt.Sprintf("%s  %s", s.Name, skills.Truncate(s.Description, 60)))
				}
			}
			return nil
		},
	}

	var (
		maxSkills int
		minScore  float64
	)
	match := &cobra.Command{
		Use:   "match <utterance>",
		Short: "Show which skills an utterance selects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := load()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			p := ux.NewPrinter(cmd.OutOrStdout())
			hits := lib.Match(query, maxSkills, minScore)
			if len(hits) == 0 {
				p.Muted("no skills matched")
				return nil
			}
			for _, s := range hits {
				p.Bullet(fmt.Sprintf("%s (%s) %.2f", s.Name, s.Category, s.MatchScore(query)))
			}
			return nil
		},
	}
	match.Flags().IntVar(&maxSkills, "max", 3, "maximum skills")
	match.Flags().Float64Var(&minScore, "min-score", 0.3, "minimum match score")

	cmd.AddCommand(list, match)
	return cmd
}
