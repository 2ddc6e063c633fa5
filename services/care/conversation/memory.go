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
	"container/list"
	"context"
	"sync"
)

// MemoryStore keeps conversations in process memory with optional
// least-recently-used eviction.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	maxConvs int
	maxTurns int
	order    *list.List
	items    map[string]*list.Element
}

// MemoryConfig bounds a MemoryStore.
type MemoryConfig struct {
	// MaxConversations evicts the least recently used conversation beyond
	// this count. Zero means unbounded.
	MaxConversations int

	// MaxTurns caps each stored conversation. Zero means DefaultMaxTurns.
	MaxTurns int
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	return &MemoryStore{
		maxConvs: cfg.MaxConversations,
		maxTurns: cfg.MaxTurns,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.order.MoveToFront(el)
	return el.Value.(*Conversation).Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, c *Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := c.Clone()
	cp.Trim(s.maxTurns)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[c.ID]; ok {
		el.Value = cp
		s.order.MoveToFront(el)
		return nil
	}
	s.items[c.ID] = s.order.PushFront(cp)
	if s.maxConvs > 0 {
		for s.order.Len() > s.maxConvs {
			oldest := s.order.Back()
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*Conversation).ID)
		}
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[id]; ok {
		s.order.Remove(el)
		delete(s.items, id)
	}
	return nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
