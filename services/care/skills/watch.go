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
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for a burst of edits to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the library whenever a skill file under its directory
// changes, until ctx is cancelled.
//
// # Description
//
// The root and every category directory are watched. New category
// directories are picked up as they appear. Bursts of events are collapsed
// into a single reload after debounce of quiet.
//
// # Inputs
//
//   - ctx: Stops the watcher when cancelled.
//   - debounce: Quiet period before reloading. Zero uses DefaultDebounce.
//
// # Outputs
//
//   - error: Non-nil when the watcher cannot start. Returns nil after ctx
//     is cancelled.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if l.dir == "" {
		return fmt.Errorf("library has no directory to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read skills directory %s: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(l.dir, e.Name())); err != nil {
				return fmt.Errorf("watch %s: %w", e.Name(), err)
			}
		}
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
					timer.Reset(debounce)
					continue
				}
			}
			if strings.HasSuffix(ev.Name, ".md") {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Skills watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if err := l.Reload(ctx); err != nil {
				l.logger.Error("Skill reload failed", slog.String("error", err.Error()))
			}
		}
	}
}
