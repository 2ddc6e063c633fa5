// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/AleutianCare/services/llm"
)

// Script is the behaviour of one Stream or Complete call.
type Script struct {
	// Events are sent in order. A terminal EventEnd is appended when the
	// script has neither an End nor an Error event.
	Events []llm.StreamEvent

	// StartErr fails the call before any event.
	StartErr error

	// Response is returned by Complete.
	Response *llm.Response
}

// Text builds a script that streams the fragments and ends normally.
func Text(fragments ...string) Script {
	s := Script{}
	for _, f := range fragments {
		s.Events = append(s.Events, llm.StreamEvent{Type: llm.EventTextDelta, Text: f})
	}
	return s
}

// WithToolCall appends a single-fragment tool call to the script.
func (s Script) WithToolCall(index int, name, args string) Script {
	s.Events = append(s.Events, llm.StreamEvent{
		Type:     llm.EventToolCallFragment,
		ToolCall: &llm.ToolCallFragment{Index: index, ID: "call_" + name, Name: name, Arguments: args},
	})
	return s
}

// Provider replays scripts in order. When scripts run out the last one
// repeats. Safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	scripts  []Script
	calls    int
	requests []*llm.Request
}

// New creates a Provider that replays scripts.
func New(scripts ...Script) *Provider {
	return &Provider{scripts: scripts}
}

// Calls returns how many Stream/Complete calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns copies of the received requests.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.Request(nil), p.requests...)
}

func (p *Provider) next(req *llm.Request) Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *req
	p.requests = append(p.requests, &cp)
	p.calls++
	if len(p.scripts) == 0 {
		return Script{}
	}
	i := p.calls - 1
	if i >= len(p.scripts) {
		i = len(p.scripts) - 1
	}
	return p.scripts[i]
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s := p.next(req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.Response == nil {
		return nil, errors.New("llmtest: no response scripted")
	}
	return s.Response, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	s := p.next(req)
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	events := append([]llm.StreamEvent(nil), s.Events...)
	terminated := false
	for _, ev := range events {
		if ev.Type == llm.EventEnd || ev.Type == llm.EventError {
			terminated = true
		}
	}
	if !terminated {
		events = append(events, llm.StreamEvent{Type: llm.EventEnd, FinishReason: "stop"})
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == llm.EventEnd || ev.Type == llm.EventError {
				return
			}
		}
	}()
	return ch, nil
}
