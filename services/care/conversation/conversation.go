// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds per-conversation turn history and the stores
// that keep it between turns.
//
// # Description
//
// A Conversation is a bounded, oldest-first list of Turns plus the pending
// retry hint for the next generation attempt. Stores are keyed by
// conversation id and return independent copies, so callers mutate a
// Conversation freely and commit it with Put.
//
// # Thread Safety
//
// Conversation values are not safe for concurrent mutation. Stores are safe
// for concurrent use; turns of one conversation must be serialized by the
// caller.
package conversation

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxTurns is the default history cap per conversation.
const DefaultMaxTurns = 50

// ErrNotFound is returned by Store.Get for an unknown conversation.
var ErrNotFound = errors.New("conversation not found")

// Role identifies the author of a Turn.
type Role string

const (
	RoleSubject   Role = "subject"
	RoleAssistant Role = "assistant"
)

// ToolCallRecord is a tool invocation requested during a turn.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultRecord is the outcome of a ToolCallRecord.
type ToolResultRecord struct {
	ToolName   string         `json:"tool_name"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS float64        `json:"duration_ms"`
}

// Turn is one utterance in a conversation.
type Turn struct {
	Role        Role               `json:"role"`
	Content     string             `json:"content"`
	Timestamp   time.Time          `json:"timestamp"`
	ToolCalls   []ToolCallRecord   `json:"tool_calls,omitempty"`
	ToolResults []ToolResultRecord `json:"tool_results,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// Conversation is the bounded history of one conversation.
type Conversation struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`

	// RetryHint is prompt guidance carried into the next attempt.
	RetryHint string `json:"retry_hint,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty conversation.
func New(id string) *Conversation {
	return &Conversation{ID: id, Turns: []Turn{}}
}

// Append adds t and evicts the oldest turns beyond maxTurns. A non-positive
// maxTurns means DefaultMaxTurns.
func (c *Conversation) Append(t Turn, maxTurns int) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	c.Turns = append(c.Turns, t)
	c.Trim(maxTurns)
	c.UpdatedAt = t.Timestamp
}

// Trim evicts the oldest turns beyond maxTurns.
func (c *Conversation) Trim(maxTurns int) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if over := len(c.Turns) - maxTurns; over > 0 {
		c.Turns = append([]Turn(nil), c.Turns[over:]...)
	}
}

// RemoveLast drops the newest turn when it has role r and reports whether
// one was removed.
func (c *Conversation) RemoveLast(r Role) bool {
	n := len(c.Turns)
	if n == 0 || c.Turns[n-1].Role != r {
		return false
	}
	c.Turns = c.Turns[:n-1]
	return true
}

// Recent returns the last n turns, oldest first.
func (c *Conversation) Recent(n int) []Turn {
	if n <= 0 || n >= len(c.Turns) {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}

// Clone returns a deep copy of the turn list. Metadata and tool maps are
// shared.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Turns = make([]Turn, len(c.Turns))
	for i, t := range c.Turns {
		t.ToolCalls = append([]ToolCallRecord(nil), t.ToolCalls...)
		t.ToolResults = append([]ToolResultRecord(nil), t.ToolResults...)
		cp.Turns[i] = t
	}
	return &cp
}

// Store persists conversations by id.
type Store interface {
	// Get returns a copy of the conversation or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// Put replaces the stored conversation.
	Put(ctx context.Context, c *Conversation) error

	// Clear removes the conversation. Clearing an unknown id is not an error.
	Clear(ctx context.Context, id string) error
}

// Load returns the stored conversation or a new empty one.
func Load(ctx context.Context, s Store, id string) (*Conversation, error) {
	c, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return New(id), nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
