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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/pkg/config"
	"github.com/AleutianAI/AleutianCare/pkg/ux"
	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/llm/llmtest"
)

// =============================================================================
// Chat Loop
// =============================================================================

type scriptedAgent struct {
	greeting []string
	replies  map[string][]string
	err      error
	inputs   []string
	cleared  []string
}

func (s *scriptedAgent) ProcessTurn(_ context.Context, input string, _ *agent.ConversationContext, emit agent.FragmentFunc) error {
	s.inputs = append(s.inputs, input)
	for _, f := range s.replies[input] {
		if err := emit(f); err != nil {
			return err
		}
	}
	return s.err
}

func (s *scriptedAgent) GenerateGreeting(_ context.Context, cc *agent.ConversationContext, emit agent.FragmentFunc) error {
	cc.IsGreeting = true
	defer func() { cc.IsGreeting = false }()
	for _, f := range s.greeting {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptedAgent) ClearConversation(_ context.Context, id string) error {
	s.cleared = append(s.cleared, id)
	return nil
}

func TestRunChat_GreetingTurnsAndCallEnd(t *testing.T) {
	a := &scriptedAgent{
		greeting: []string{"안녕하세요", " 어르신"},
		replies: map[string][]string{
			"잘 지내요":   {"다행이에요"},
			"이만 끊을게요": {"네, 안녕히 계세요", "\n" + agent.CallEndMarker},
		},
	}
	in := strings.NewReader("잘 지내요\n\n이만 끊을게요\n안 읽힘\n")
	var out bytes.Buffer

	err := runChat(context.Background(), in, ux.NewPlainPrinter(&out), a,
		chatOptions{conversationID: "cli", name: "김영희", greet: true}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"잘 지내요", "이만 끊을게요"}, a.inputs, "blank lines are skipped and input stops at call end")
	assert.Equal(t,
		"케어: 안녕하세요 어르신\n"+
			"케어: 다행이에요\n"+
			"케어: 네, 안녕히 계세요\n"+
			"통화가 종료되었습니다.\n",
		out.String())
}

func TestRunChat_CommandsAndErrors(t *testing.T) {
	a := &scriptedAgent{
		replies: map[string][]string{"음": {"..."}},
		err:     agent.ErrRetryBudgetExhausted,
	}
	in := strings.NewReader("/reset\n음\n/quit\n음\n")
	var out bytes.Buffer

	err := runChat(context.Background(), in, ux.NewPlainPrinter(&out), a,
		chatOptions{conversationID: "c9"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"c9"}, a.cleared)
	assert.Equal(t, []string{"음"}, a.inputs)
	assert.Contains(t, out.String(), "OK: 대화 기록을 지웠습니다")
	assert.Contains(t, out.String(), "WARN: ")
}

func TestRunChat_AgentErrorContinues(t *testing.T) {
	a := &scriptedAgent{err: errors.New("store down")}
	var out bytes.Buffer

	err := runChat(context.Background(), strings.NewReader("하나\n둘\n"), ux.NewPlainPrinter(&out), a,
		chatOptions{conversationID: "c"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"하나", "둘"}, a.inputs)
	assert.Equal(t, 2, strings.Count(out.String(), "ERROR: turn failed: store down"))
}

func TestProfileSummary(t *testing.T) {
	s := profileSummary(chatOptions{name: "김영희", age: 80, medications: []string{"혈압약", "당뇨약"}})
	assert.Equal(t, "이름: 김영희\n나이: 80세\n복용 약물: 혈압약, 당뇨약\n/quit 종료 · /reset 초기화", s)
}

// =============================================================================
// Commands
// =============================================================================

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config="}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestToolsExport(t *testing.T) {
	out, err := execute(t, "tools", "export", "--format", "claude", "end_call")
	require.NoError(t, err)

	var schemas []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schemas))
	require.Len(t, schemas, 1)
	assert.Equal(t, "end_call", schemas[0]["name"])

	out, err = execute(t, "tools", "export")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &schemas))
	assert.Len(t, schemas, 5)

	_, err = execute(t, "tools", "export", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestToolsList(t *testing.T) {
	out, err := execute(t, "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "end_call")
	assert.Contains(t, out, "notify_caregiver")
}

func TestSkillsCommands(t *testing.T) {
	out, err := execute(t, "skills", "match", "--dir", "../../skills", "아까", "넘어졌어")
	require.NoError(t, err)
	assert.Contains(t, out, "낙상 대응 (emergency)")
	assert.NotContains(t, out, "외로움 공감")

	out, err = execute(t, "skills", "list", "--dir", "../../skills")
	require.NoError(t, err)
	assert.Contains(t, out, "emotional_support")
	assert.Contains(t, out, "복약 확인")

	_, err = execute(t, "skills", "list")
	assert.ErrorContains(t, err, "no skill directory")
}

func TestUnknownLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "tools", "list")
	assert.Error(t, err)
}

// =============================================================================
// Wiring
// =============================================================================

func TestGatewayConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Exporter = config.ExporterOTLP
	cfg.Telemetry.OTLPEndpoint = "collector:4317"
	cfg.Server.AllowedOrigins = []string{"https://care.example"}
	cfg.Server.KeepHistoryOnDisconnect = true

	gc := gatewayConfig(&cfg)

	assert.Equal(t, ":12220", gc.Addr)
	assert.Equal(t, "aleutian-care", gc.ServiceName)
	assert.True(t, gc.EnableMetrics)
	assert.Equal(t, "otlp", gc.Tracing.Exporter)
	assert.Equal(t, "collector:4317", gc.Tracing.Endpoint)
	assert.Equal(t, 30*time.Second, gc.Call.PingInterval)
	assert.Equal(t, 40*time.Second, gc.Call.PongWait)
	assert.Equal(t, 1000, gc.Call.DedupSize)
	assert.Equal(t, []string{"https://care.example"}, gc.Call.AllowedOrigins)
	assert.True(t, gc.Call.KeepHistoryOnDisconnect)
}

func TestBuildRuntime_TurnThroughWiredAgent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.StoreBadger
	cfg.Store.InMemory = true
	cfg.Agent.EnableReflection = false
	cfg.Skills.Dir = "../../skills"

	provider := llmtest.New(llmtest.Text("안녕하세요, ", "어르신"))
	rt, err := buildRuntime(context.Background(), &cfg, slog.Default(), prometheus.NewRegistry(), provider)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, 5, rt.Registry.Len())
	require.NotNil(t, rt.Skills)
	assert.Equal(t, 3, rt.Skills.Len())

	var got strings.Builder
	cc := &agent.ConversationContext{ConversationID: "wired"}
	require.NoError(t, rt.Agent.ProcessTurn(context.Background(), "안녕", cc, func(f string) error {
		got.WriteString(f)
		return nil
	}))
	assert.Equal(t, "안녕하세요, 어르신", got.String())

	turns, err := rt.Agent.History(context.Background(), "wired")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestBuildRuntime_MissingSkillDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skills.Dir = t.TempDir() + "/missing"

	_, err := buildRuntime(context.Background(), &cfg, slog.Default(), nil, llmtest.New())
	assert.ErrorContains(t, err, "load skills")
}
