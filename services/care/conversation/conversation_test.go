// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendEvictsOldest(t *testing.T) {
	c := New("c1")
	for i := 0; i < 7; i++ {
		c.Append(Turn{Role: RoleSubject, Content: fmt.Sprintf("m%d", i)}, 5)
		assert.LessOrEqual(t, len(c.Turns), 5)
	}

	require.Len(t, c.Turns, 5)
	assert.Equal(t, "m2", c.Turns[0].Content)
	assert.Equal(t, "m6", c.Turns[4].Content)
	assert.False(t, c.UpdatedAt.IsZero())
}

func TestConversation_DefaultCap(t *testing.T) {
	c := New("c1")
	for i := 0; i < DefaultMaxTurns+10; i++ {
		c.Append(Turn{Role: RoleSubject, Content: "x"}, 0)
	}
	assert.Len(t, c.Turns, DefaultMaxTurns)
}

func TestConversation_RemoveLastAndRecent(t *testing.T) {
	c := New("c1")
	c.Append(Turn{Role: RoleSubject, Content: "hi"}, 10)
	c.Append(Turn{Role: RoleAssistant, Content: "hello"}, 10)

	assert.False(t, c.RemoveLast(RoleSubject))
	assert.True(t, c.RemoveLast(RoleAssistant))
	assert.Len(t, c.Turns, 1)

	c.Append(Turn{Role: RoleAssistant, Content: "a"}, 10)
	c.Append(Turn{Role: RoleSubject, Content: "b"}, 10)
	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "a", recent[0].Content)
	assert.Len(t, c.Recent(10), 3)
}

// storeContract runs the behaviour every Store implementation shares.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := Load(ctx, s, "c1")
	require.NoError(t, err)
	assert.Empty(t, c.Turns)

	c.Append(Turn{Role: RoleSubject, Content: "안녕하세요"}, 0)
	c.RetryHint = "hint"
	require.NoError(t, s.Put(ctx, c))

	// Mutating the caller's copy does not leak into the store.
	c.Turns[0].Content = "changed"

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "안녕하세요", got.Turns[0].Content)
	assert.Equal(t, "hint", got.RetryHint)

	require.NoError(t, s.Clear(ctx, "c1"))
	require.NoError(t, s.Clear(ctx, "c1"))
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Put(cancelled, New("c2")), context.Canceled)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore(MemoryConfig{}))
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryConfig{MaxConversations: 2})

	require.NoError(t, s.Put(ctx, New("a")))
	require.NoError(t, s.Put(ctx, New("b")))

	// Touch "a" so "b" becomes least recently used.
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, New("c")))
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryStore_TrimsOnPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryConfig{MaxTurns: 2})

	c := New("c1")
	for i := 0; i < 4; i++ {
		c.Turns = append(c.Turns, Turn{Role: RoleSubject, Content: fmt.Sprint(i)})
	}
	require.NoError(t, s.Put(ctx, c))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "2", got.Turns[0].Content)
}

func TestBadgerStore_Contract(t *testing.T) {
	s, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = 0
	s, err := OpenBadgerStore(cfg)
	require.NoError(t, err)

	c := New("c1")
	c.Append(Turn{
		Role:        RoleAssistant,
		Content:     "알겠습니다",
		ToolCalls:   []ToolCallRecord{{ID: "call_1", Name: "end_call", Arguments: map[string]any{"reason": "user_request"}}},
		ToolResults: []ToolResultRecord{{ToolName: "end_call", Success: true}},
	}, 0)
	require.NoError(t, s.Put(ctx, c))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s2, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "end_call", got.Turns[0].ToolCalls[0].Name)
	assert.Equal(t, "user_request", got.Turns[0].ToolCalls[0].Arguments["reason"])
	assert.True(t, got.Turns[0].ToolResults[0].Success)
}

func TestOpenBadgerStore_Validation(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)

	cfg := InMemoryBadgerConfig()
	cfg.GCDiscardRatio = 2
	_, err = OpenBadgerStore(cfg)
	assert.Error(t, err)
}
