// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	// DefaultDebounceWindow is how long to wait for further events
	// before applying a batch. Editors fire several events per save.
	DefaultDebounceWindow = 500 * time.Millisecond

	// watcherBufferSize is the change channel capacity.
	watcherBufferSize = 1000
)

// fileChange is one debounced filesystem event.
type fileChange struct {
	path    string
	removed bool
}

// FileDeleter removes a file's stored entities. *store.Store
// satisfies it.
type FileDeleter interface {
	DeleteByFile(ctx context.Context, filePath string) (int, error)
}

// Watcher keeps the store in sync with a live source tree.
//
// Description:
//
//	Watches root recursively via fsnotify. Write and create events on
//	Python files are debounced and applied as UpdateFile; remove and
//	rename events delete the file's stored entities. Ignore rules are
//	the same gitignore-derived ones the bulk indexer uses, so the
//	watcher never resurrects entities for excluded paths.
//
// Thread Safety: Safe for concurrent use. Changes are applied from a
// single goroutine, in batch order.
type Watcher struct {
	root     string
	indexer  Indexer
	deleter  FileDeleter
	filter   *IgnoreFilter
	debounce time.Duration
	logger   *slog.Logger

	fsw      *fsnotify.Watcher
	changes  chan fileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceWindow overrides the debounce window.
func WithDebounceWindow(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher for the given root directory.
func NewWatcher(root string, indexer Indexer, deleter FileDeleter, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		indexer:  indexer,
		deleter:  deleter,
		debounce: DefaultDebounceWindow,
		logger:   slog.Default(),
		fsw:      fsw,
		changes:  make(chan fileChange, watcherBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "index.watcher"))
	w.filter = NewIgnoreFilter(root, WithIgnoreLogger(w.logger))
	return w, nil
}

// Start begins watching. Spawns the event processor and the debounce
// loop; both exit on Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching for changes", slog.String("root", w.root))
	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers root and every non-ignored subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.filter.ShouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// processEvents converts fsnotify events into debounced changes.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.filter.ShouldIgnore(event.Name) {
		return
	}

	// New directories join the watch set.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("dir", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".py") {
		return
	}

	change := fileChange{path: event.Name}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		change.removed = true
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		// reindex
	default:
		return // chmod etc.
	}

	select {
	case w.changes <- change:
	default:
		w.logger.Warn("change buffer full, dropping event",
			slog.String("file", event.Name))
	}
}

// debounceLoop batches changes and applies them once the window
// expires without new events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []fileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			w.applyChanges(ctx, batch)
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// applyChanges deduplicates a batch (last event per path wins) and
// applies updates and deletions in path order.
func (w *Watcher) applyChanges(ctx context.Context, batch []fileChange) {
	latest := make(map[string]fileChange, len(batch))
	var order []string
	for _, change := range batch {
		if _, seen := latest[change.path]; !seen {
			order = append(order, change.path)
		}
		latest[change.path] = change
	}

	for _, path := range order {
		change := latest[path]
		if change.removed {
			deleted, err := w.deleter.DeleteByFile(ctx, path)
			if err != nil {
				w.logger.Error("failed to delete entities for removed file",
					slog.String("file", path),
					slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("file removed",
				slog.String("file", path),
				slog.Int("deleted", deleted))
			continue
		}

		stored, err := w.indexer.UpdateFile(ctx, path)
		if err != nil {
			w.logger.Error("failed to update file",
				slog.String("file", path),
				slog.String("error", err.Error()))
			continue
		}
		w.logger.Info("file reindexed",
			slog.String("file", path),
			slog.Int("entities", stored))
	}
}
