// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer receives one callback per registry execution.
type Observer interface {
	ObserveTool(name string, success bool, duration time.Duration)
}

// Registry holds tools by name with category and tag indices.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Tools are read-mostly: Register
// and Unregister take the write lock, everything else the read lock.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*Tool
	order      []string
	byCategory map[Category][]string
	byTag      map[string][]string

	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver sets the execution observer (typically the metrics sink).
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:      make(map[string]*Tool),
		byCategory: make(map[Category][]string),
		byTag:      make(map[string][]string),
		logger:     slog.Default(),
		tracer:     otel.Tracer("care.tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Registering an existing name overwrites it and
// rebuilds its index entries.
//
// Outputs:
//
//	error - Non-nil if the tool has no name or no executor.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("tool must have a name")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %q has no executor", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("Overwriting registered tool", slog.String("tool", t.Name))
		r.removeLocked(t.Name)
	}

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	if t.Category != "" {
		r.byCategory[t.Category] = append(r.byCategory[t.Category], t.Name)
	}
	for _, tag := range t.Tags {
		r.byTag[tag] = append(r.byTag[tag], t.Name)
	}
	r.logger.Debug("Registered tool",
		slog.String("tool", t.Name),
		slog.String("category", string(t.Category)))
	return nil
}

// Unregister removes a tool. Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	r.removeLocked(name)
	return true
}

func (r *Registry) removeLocked(name string) {
	t := r.tools[name]
	delete(r.tools, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })

	if t.Category != "" {
		names := slices.DeleteFunc(r.byCategory[t.Category], func(n string) bool { return n == name })
		if len(names) == 0 {
			delete(r.byCategory, t.Category)
		} else {
			r.byCategory[t.Category] = names
		}
	}
	for _, tag := range t.Tags {
		names := slices.DeleteFunc(r.byTag[tag], func(n string) bool { return n == name })
		if len(names) == 0 {
			delete(r.byTag, tag)
		} else {
			r.byTag[tag] = names
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// All returns tools in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.order)
}

// ByCategory returns tools in the category, in registration order.
func (r *Registry) ByCategory(c Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byCategory[c])
}

// ByTags returns tools carrying any of tags, or all of them when matchAll.
func (r *Registry) ByTags(tags []string, matchAll bool) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Tool
	for _, name := range r.order {
		t := r.tools[name]
		matched := 0
		for _, tag := range tags {
			if t.hasTag(tag) {
				matched++
			}
		}
		if (matchAll && matched == len(tags) && len(tags) > 0) || (!matchAll && matched > 0) {
			out = append(out, t)
		}
	}
	return out
}

// Categories returns all categories in use, sorted.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Category, 0, len(r.byCategory))
	for c := range r.byCategory {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tags returns all tags in use, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) collectLocked(names []string) []*Tool {
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Execute runs the named tool.
//
// # Description
//
// Looks up the tool and delegates to Tool.Execute. An unknown name yields
// a failed Result wrapping ErrNotFound. Every call is traced and reported
// to the observer.
//
// # Outputs
//
//   - *Result: Always non-nil.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	ctx, span := r.tracer.Start(ctx, "tools.Registry.Execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	t, ok := r.Get(name)
	var res *Result
	if !ok {
		res = failed(name, newToolError(ErrNotFound, "Tool '%s' not found", name), time.Now())
	} else {
		res = t.Execute(ctx, args)
	}

	span.SetAttributes(
		attribute.Bool("tool.success", res.Success),
		attribute.Int64("tool.duration_ms", res.Duration.Milliseconds()))
	if !res.Success {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
		r.logger.Warn("Tool execution failed",
			slog.String("tool", name),
			slog.String("error", res.Error))
	} else {
		r.logger.Info("Tool executed",
			slog.String("tool", name),
			slog.Duration("duration", res.Duration))
	}
	if r.observer != nil {
		r.observer.ObserveTool(name, res.Success, res.Duration)
	}
	return res
}
