// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import "container/list"

// DefaultDedupSize is how many message ids a call channel remembers.
const DefaultDedupSize = 1000

// lruSet remembers the most recently seen message ids.
//
// # Thread Safety
//
// Not safe for concurrent use; owned by one call session.
type lruSet struct {
	max   int
	order *list.List
	items map[string]*list.Element
}

func newLRUSet(max int) *lruSet {
	if max <= 0 {
		max = DefaultDedupSize
	}
	return &lruSet{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Add records id and reports whether it was new. A repeated id is
// refreshed to most recently seen.
func (s *lruSet) Add(id string) bool {
	if el, ok := s.items[id]; ok {
		s.order.MoveToFront(el)
		return false
	}
	s.items[id] = s.order.PushFront(id)
	for s.order.Len() > s.max {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(string))
	}
	return true
}

// Contains reports whether id is remembered.
func (s *lruSet) Contains(id string) bool {
	_, ok := s.items[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *lruSet) Len() int { return s.order.Len() }
