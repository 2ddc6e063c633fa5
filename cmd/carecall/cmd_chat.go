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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCare/pkg/ux"
	"github.com/AleutianAI/AleutianCare/services/care/agent"
)

const assistantLabel = "케어"

// chatAgent is the part of the agent the REPL drives.
type chatAgent interface {
	ProcessTurn(ctx context.Context, input string, cc *agent.ConversationContext, emit agent.FragmentFunc) error
	GenerateGreeting(ctx context.Context, cc *agent.ConversationContext, emit agent.FragmentFunc) error
	ClearConversation(ctx context.Context, conversationID string) error
}

type chatOptions struct {
	conversationID string
	name           string
	age            int
	condition      string
	medications    []string
	greet          bool
}

func newChatCmd(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the care agent from the terminal",
		Long: `Starts an interactive conversation. Type a message and press Enter.

  /reset  forget the conversation so far
  /quit   leave

The session ends on its own when the agent closes the call.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			rt, err := buildRuntime(ctx, a.cfg, a.slogger(), nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			p := ux.NewPrinter(cmd.OutOrStdout())
			interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
			if interactive {
				p.Box("Aleutian Care", profileSummary(opts))
			}
			return runChat(ctx, cmd.InOrStdin(), p, rt.Agent, opts, interactive)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.conversationID, "conversation", "cli", "conversation id")
	f.StringVar(&opts.name, "name", "", "subject name")
	f.IntVar(&opts.age, "age", 0, "subject age")
	f.StringVar(&opts.condition, "condition", "", "health condition")
	f.StringSliceVar(&opts.medications, "medications", nil, "medications (comma-separated)")
	f.BoolVar(&opts.greet, "greet", true, "let the agent open the conversation")
	return cmd
}

// runChat reads one utterance per line from in until EOF, /quit, or the
// agent ending the call.
func runChat(ctx context.Context, in io.Reader, p *ux.Printer, a chatAgent, opts chatOptions, interactive bool) error {
	cc := &agent.ConversationContext{
		ConversationID:  opts.conversationID,
		Name:            opts.name,
		Age:             opts.age,
		HealthCondition: opts.condition,
		Medications:     opts.medications,
	}
	subject := opts.name
	if subject == "" {
		subject = "나"
	}

	if opts.greet {
		if _, err := chatTurn(ctx, p, cc, func(emit agent.FragmentFunc) error {
			return a.GenerateGreeting(ctx, cc, emit)
		}); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			p.Speaker(subject, false)
		}
		if !scanner.Scan() {
			if interactive {
				p.EndLine()
			}
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := a.ClearConversation(ctx, cc.ConversationID); err != nil {
				p.Error(err.Error())
				continue
			}
			p.Success("대화 기록을 지웠습니다")
			continue
		}

		callEnd, err := chatTurn(ctx, p, cc, func(emit agent.FragmentFunc) error {
			return a.ProcessTurn(ctx, line, cc, emit)
		})
		if err != nil {
			return err
		}
		if callEnd {
			p.Muted("통화가 종료되었습니다.")
			return nil
		}
	}
}

// chatTurn prints one streamed reply. It reports whether the agent ended
// the call, and returns an error only when the session should stop.
func chatTurn(ctx context.Context, p *ux.Printer, cc *agent.ConversationContext, run func(agent.FragmentFunc) error) (bool, error) {
	callEnd := false
	p.Speaker(assistantLabel, true)
	err := run(func(fragment string) error {
		if strings.Contains(fragment, agent.CallEndMarker) {
			fragment = strings.ReplaceAll(fragment, agent.CallEndMarker, "")
			callEnd = !cc.IsGreeting
		}
		p.Fragment(strings.TrimRight(fragment, "\n"))
		return nil
	})
	p.EndLine()

	switch {
	case err == nil:
	case errors.Is(err, agent.ErrRetryBudgetExhausted):
		p.Warning("응답 품질 기준을 충족하지 못했습니다")
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		return false, nil
	default:
		p.Error(fmt.Sprintf("turn failed: %v", err))
	}
	return callEnd, nil
}

func profileSummary(o chatOptions) string {
	var rows []string
	if o.name != "" {
		rows = append(rows, "이름: "+o.name)
	}
	if o.age > 0 {
		rows = append(rows, "나이: "+strconv.Itoa(o.age)+"세")
	}
	if o.condition != "" {
		rows = append(rows, "건강 상태: "+o.condition)
	}
	if len(o.medications) > 0 {
		rows = append(rows, "복용 약물: "+strings.Join(o.medications, ", "))
	}
	rows = append(rows, "/quit 종료 · /reset 초기화")
	return strings.Join(rows, "\n")
}
