// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the completion provider contract used by the care
// agent and its evaluator, plus an OpenAI-backed implementation.
//
// # Description
//
// Providers expose two calls. Complete returns a whole response and is used
// for evaluation. Stream returns a channel of StreamEvent values, a tagged
// union of text deltas, tool-call fragments, a terminal End and a terminal
// Error. Exactly one terminal event is sent, after which the channel is
// closed. Cancelling the context passed to Stream stops the producer.
//
// # Thread Safety
//
// Provider implementations must be safe for concurrent use.
package llm

import (
	"context"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior conversation entry sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSpec declares a callable tool to the provider.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a fully assembled tool invocation requested by the model.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is a single completion request.
type Request struct {
	// Model overrides the provider default when non-empty.
	Model string

	// SystemPrompt is sent as the system instruction.
	SystemPrompt string

	// Messages is the bounded conversation history, oldest first.
	Messages []Message

	// Tools are exposed for function calling. Empty disables tools.
	Tools []ToolSpec

	MaxTokens   int
	Temperature float32
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete, non-streamed provider reply.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Model        string     `json:"model"`
	Usage        Usage      `json:"usage"`
}

// EventType tags a StreamEvent.
type EventType int

const (
	// EventTextDelta carries a fragment of reply text in Text.
	EventTextDelta EventType = iota

	// EventToolCallFragment carries a partial tool call in ToolCall.
	EventToolCallFragment

	// EventEnd terminates a successful stream. FinishReason is set.
	EventEnd

	// EventError terminates a failed stream. Err is set.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventToolCallFragment:
		return "tool_call_fragment"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCallFragment is one streamed piece of a tool call. Fragments with the
// same Index belong to the same call; ID and Name arrive on the first
// fragment, Arguments chunks are concatenated in arrival order.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamEvent is one element of a provider stream.
type StreamEvent struct {
	Type         EventType
	Text         string
	ToolCall     *ToolCallFragment
	FinishReason string
	Usage        *Usage
	Err          error
}

// Provider is the completion backend contract.
type Provider interface {
	// Complete performs a blocking completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream starts a streaming completion. A non-nil error means the stream
	// never started. Otherwise the channel yields events ending in exactly
	// one EventEnd or EventError and is then closed.
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}
