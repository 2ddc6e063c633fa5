// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source supplies skill snippets relevant to an utterance.
type Source interface {
	Match(query string, max int, minScore float64) []*Skill
}

// Library is a directory-backed, reloadable skill index.
//
// # Thread Safety
//
// Safe for concurrent use. Reload swaps the whole index atomically under a
// write lock; concurrent Reload calls share one disk scan.
type Library struct {
	dir    string
	logger *slog.Logger
	flight singleflight.Group

	mu         sync.RWMutex
	skills     map[string]*Skill
	order      []string
	byCategory map[string][]string
	byTag      map[string][]string
}

type index struct {
	skills     map[string]*Skill
	order      []string
	byCategory map[string][]string
	byTag      map[string][]string
}

// NewLibrary loads every enabled skill under dir.
//
// # Inputs
//
//   - dir: Root directory whose subdirectories are categories.
//   - logger: Optional; nil uses slog.Default().
//
// # Outputs
//
//   - *Library: The loaded library. Unparseable files are logged and skipped.
//   - error: Non-nil when dir cannot be read.
func NewLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{dir: dir, logger: logger}
	if err := l.Reload(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// NewStaticLibrary builds a library from in-memory skills.
func NewStaticLibrary(skills ...*Skill) *Library {
	l := &Library{logger: slog.Default()}
	idx := newIndex()
	for _, s := range skills {
		idx.add(s)
	}
	l.swap(idx)
	return l
}

func newIndex() *index {
	return &index{
		skills:     make(map[string]*Skill),
		byCategory: make(map[string][]string),
		byTag:      make(map[string][]string),
	}
}

func (idx *index) add(s *Skill) {
	if _, exists := idx.skills[s.Name]; !exists {
		idx.order = append(idx.order, s.Name)
	}
	idx.skills[s.Name] = s
	idx.byCategory[s.Category] = append(idx.byCategory[s.Category], s.Name)
	for _, t := range s.Tags {
		idx.byTag[t] = append(idx.byTag[t], s.Name)
	}
}

func (l *Library) swap(idx *index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skills = idx.skills
	l.order = idx.order
	l.byCategory = idx.byCategory
	l.byTag = idx.byTag
}

// Dir returns the library's root directory.
func (l *Library) Dir() string { return l.dir }

// Reload rescans the directory and replaces the index.
func (l *Library) Reload(ctx context.Context) error {
	_, err, shared := l.flight.Do("reload", func() (any, error) {
		idx, err := l.scan(ctx)
		if err != nil {
			return nil, err
		}
		l.swap(idx)
		l.logger.Info("Skills loaded",
			slog.String("dir", l.dir),
			slog.Int("count", len(idx.skills)))
		return nil, nil
	})
	if shared {
		l.logger.Debug("Skill reload coalesced", slog.String("dir", l.dir))
	}
	return err
}

func (l *Library) scan(ctx context.Context) (*index, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read skills directory %s: %w", l.dir, err)
	}

	idx := newIndex()
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "_") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		category := e.Name()
		files, err := filepath.Glob(filepath.Join(l.dir, category, "*.md"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s, err := loadFile(f, category)
			if err != nil {
				l.logger.Error("Failed to load skill",
					slog.String("path", f),
					slog.String("error", err.Error()))
				continue
			}
			if s.Enabled {
				idx.add(s)
			}
		}
	}
	return idx, nil
}

func loadFile(path, category string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s, err := Parse(string(data), name, category)
	if err != nil {
		return nil, err
	}
	s.Path = path
	return s, nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns the named skill.
func (l *Library) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// All returns every skill in load order.
func (l *Library) All() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.order))
	for _, n := range l.order {
		out = append(out, l.skills[n])
	}
	return out
}

// Len returns the number of skills.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.skills)
}

// ByCategory returns the skills in category.
func (l *Library) ByCategory(category string) []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookup(l.byCategory[category])
}

// ByTag returns the skills carrying tag.
func (l *Library) ByTag(tag string) []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookup(l.byTag[tag])
}

func (l *Library) lookup(names []string) []*Skill {
	out := make([]*Skill, 0, len(names))
	for _, n := range names {
		if s, ok := l.skills[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Categories returns the sorted category names.
func (l *Library) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.byCategory)
}

// Tags returns the sorted tag names.
func (l *Library) Tags() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.byTag)
}

// Summaries returns the listing form of every skill.
func (l *Library) Summaries() []Summary {
	all := l.All()
	out := make([]Summary, len(all))
	for i, s := range all {
		out[i] = s.Summary()
	}
	return out
}

// Match implements Source. Skills scoring at least minScore are returned
// best first, ties in load order, at most max of them.
func (l *Library) Match(query string, max int, minScore float64) []*Skill {
	type scored struct {
		skill *Skill
		score float64
	}
	var hits []scored
	for _, s := range l.All() {
		if score := s.MatchScore(query); score >= minScore {
			hits = append(hits, scored{s, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if max > 0 && len(hits) > max {
		hits = hits[:max]
	}
	out := make([]*Skill, len(hits))
	for i, h := range hits {
		out[i] = h.skill
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
