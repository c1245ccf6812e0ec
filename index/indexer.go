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
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/codegraph/ast"
	"github.com/AleutianAI/codegraph/entity"
)

// DefaultMaxInFlight bounds how many files the concurrent strategy
// processes at once. Each in-flight file holds a parser and an open
// embedding request, so this is a memory and rate-limit bound.
const DefaultMaxInFlight = 10

// progressLogInterval is how many indexed files pass between progress
// log lines.
const progressLogInterval = 50

// EntityStore is the slice of the store the indexer drives.
// *store.Store satisfies it.
type EntityStore interface {
	EnsureCollection(ctx context.Context, force bool) (bool, error)
	StoreEntities(ctx context.Context, entities []*entity.Entity) (int, error)
	DeleteByFile(ctx context.Context, filePath string) (int, error)
}

// Stats summarizes one indexing run.
type Stats struct {
	// Files is how many files produced stored entities.
	Files int

	// Entities is the total stored entity count.
	Entities int

	// Failed is how many files could not be read or stored.
	Failed int

	// Duration is the wall-clock time of the run.
	Duration time.Duration
}

// Indexer walks a source tree and keeps the store in sync with it.
//
// Description:
//
//	IndexTree discovers Python files under root, honors ignore rules,
//	and indexes each file: read, extract, embed, store. UpdateFile
//	refreshes a single file by deleting its stored entities first and
//	reinserting the current extraction, so the store never holds a mix
//	of old and new entities for one file.
//
// Thread Safety: Implementations are safe for concurrent use.
type Indexer interface {
	IndexTree(ctx context.Context, root string, forceRecreate bool) (*Stats, error)
	UpdateFile(ctx context.Context, path string) (int, error)
}

// indexCore is the strategy-independent machinery shared by both
// indexers: discovery, per-file processing, and the update path.
type indexCore struct {
	extractor *ast.Extractor
	store     EntityStore
	estimator *TimingEstimator
	logger    *slog.Logger
}

// IndexerOption configures either indexer strategy.
type IndexerOption func(*indexerConfig)

type indexerConfig struct {
	logger      *slog.Logger
	maxInFlight int64
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) IndexerOption {
	return func(c *indexerConfig) {
		c.logger = logger
	}
}

// WithMaxInFlight bounds concurrent file processing. Only the
// concurrent strategy reads it. Non-positive values select the default.
func WithMaxInFlight(n int) IndexerOption {
	return func(c *indexerConfig) {
		if n > 0 {
			c.maxInFlight = int64(n)
		}
	}
}

func newIndexerConfig(opts []IndexerOption) indexerConfig {
	cfg := indexerConfig{
		logger:      slog.Default(),
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// discoverFiles lists the Python files under root that survive the
// ignore rules, sorted for deterministic processing order.
func (c *indexCore) discoverFiles(root string) ([]string, error) {
	filter := NewIgnoreFilter(root, WithIgnoreLogger(c.logger))

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if d.IsDir() {
			if path != root && filter.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".py") {
			return nil
		}
		if filter.ShouldIgnore(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// indexFile processes one file end to end and feeds the estimator.
// The returned count is the stored entity count; ok is false when the
// file could not be read or stored.
func (c *indexCore) indexFile(ctx context.Context, path string) (int, bool) {
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		c.logger.Error("failed to read file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		recordFileMetrics(ctx, time.Since(start), false)
		return 0, false
	}

	entities := c.extractor.Extract(ctx, content, path)
	if len(entities) == 0 {
		recordFileMetrics(ctx, time.Since(start), true)
		return 0, true
	}

	stored, err := c.store.StoreEntities(ctx, entities)
	if err != nil {
		c.logger.Error("failed to store entities",
			slog.String("file", path),
			slog.String("error", err.Error()))
		recordFileMetrics(ctx, time.Since(start), false)
		return 0, false
	}

	elapsed := time.Since(start)
	if c.estimator != nil {
		c.estimator.Record(path, len(entities), elapsed)
	}
	recordFileMetrics(ctx, elapsed, true)
	return stored, true
}

// updateFile deletes the file's stored entities and reinserts the
// current extraction.
func (c *indexCore) updateFile(ctx context.Context, path string) (int, error) {
	deleted, err := c.store.DeleteByFile(ctx, path)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		c.logger.Debug("removed stale entities",
			slog.String("file", path),
			slog.Int("deleted", deleted))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	entities := c.extractor.Extract(ctx, content, path)
	if len(entities) == 0 {
		return 0, nil
	}
	return c.store.StoreEntities(ctx, entities)
}

// prepareRun handles the shared head of IndexTree: collection setup,
// discovery, and the estimate log line.
func (c *indexCore) prepareRun(ctx context.Context, root string, forceRecreate bool) ([]string, error) {
	if _, err := c.store.EnsureCollection(ctx, forceRecreate); err != nil {
		return nil, err
	}

	files, err := c.discoverFiles(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		c.logger.Warn("no python files found", slog.String("root", root))
		return nil, nil
	}

	if c.estimator != nil {
		c.logger.Info("indexing started",
			slog.String("root", root),
			slog.Int("files", len(files)),
			slog.Duration("estimate", c.estimator.Estimate(len(files))))
	}
	return files, nil
}

// finishRun stamps the estimator and logs the outcome.
func (c *indexCore) finishRun(stats *Stats, start time.Time) *Stats {
	stats.Duration = time.Since(start)
	if c.estimator != nil {
		c.estimator.CompleteRun()
	}
	c.logger.Info("indexing complete",
		slog.Int("files", stats.Files),
		slog.Int("entities", stats.Entities),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration))
	return stats
}

// =============================================================================
// Sequential strategy
// =============================================================================

// SequentialIndexer processes files one at a time. Useful for
// debugging and for backends that dislike concurrent writers.
type SequentialIndexer struct {
	core indexCore
}

var _ Indexer = (*SequentialIndexer)(nil)

// NewSequentialIndexer wires the sequential strategy.
func NewSequentialIndexer(extractor *ast.Extractor, store EntityStore, estimator *TimingEstimator, opts ...IndexerOption) *SequentialIndexer {
	cfg := newIndexerConfig(opts)
	return &SequentialIndexer{
		core: indexCore{
			extractor: extractor,
			store:     store,
			estimator: estimator,
			logger:    cfg.logger.With(slog.String("component", "index.sequential")),
		},
	}
}

// IndexTree indexes every Python file under root, one at a time.
func (s *SequentialIndexer) IndexTree(ctx context.Context, root string, forceRecreate bool) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "SequentialIndexer.IndexTree",
		trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	start := time.Now()
	files, err := s.core.prepareRun(ctx, root, forceRecreate)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		stored, ok := s.core.indexFile(ctx, path)
		if !ok {
			stats.Failed++
			continue
		}
		if stored > 0 {
			stats.Files++
			stats.Entities += stored
			if stats.Files%progressLogInterval == 0 {
				s.core.logger.Info("indexing progress",
					slog.Int("files", stats.Files),
					slog.Int("total", len(files)),
					slog.Int("entities", stats.Entities))
			}
		}
	}
	return s.core.finishRun(stats, start), nil
}

// UpdateFile refreshes one file: delete stored entities, reinsert.
func (s *SequentialIndexer) UpdateFile(ctx context.Context, path string) (int, error) {
	return s.core.updateFile(ctx, path)
}

// =============================================================================
// Concurrent strategy
// =============================================================================

// ConcurrentIndexer processes files in parallel with a weighted
// semaphore bounding how many are in flight.
type ConcurrentIndexer struct {
	core        indexCore
	maxInFlight int64
}

var _ Indexer = (*ConcurrentIndexer)(nil)

// NewConcurrentIndexer wires the concurrent strategy.
func NewConcurrentIndexer(extractor *ast.Extractor, store EntityStore, estimator *TimingEstimator, opts ...IndexerOption) *ConcurrentIndexer {
	cfg := newIndexerConfig(opts)
	return &ConcurrentIndexer{
		core: indexCore{
			extractor: extractor,
			store:     store,
			estimator: estimator,
			logger:    cfg.logger.With(slog.String("component", "index.concurrent")),
		},
		maxInFlight: cfg.maxInFlight,
	}
}

// IndexTree indexes every Python file under root with bounded
// parallelism.
//
// Description:
//
//	Files are dispatched as goroutines gated by a weighted semaphore,
//	so at most maxInFlight files are being read, parsed, embedded, and
//	stored at any moment. Failures are counted, never fatal; context
//	cancellation stops dispatching and waits for in-flight files.
//
// Outputs:
//   - *Stats: Aggregated counts. Never nil on a nil error.
//   - error: Non-nil only when collection setup or discovery fails.
func (ci *ConcurrentIndexer) IndexTree(ctx context.Context, root string, forceRecreate bool) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "ConcurrentIndexer.IndexTree",
		trace.WithAttributes(
			attribute.String("root", root),
			attribute.Int64("max_in_flight", ci.maxInFlight),
		))
	defer span.End()

	start := time.Now()
	files, err := ci.core.prepareRun(ctx, root, forceRecreate)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(ci.maxInFlight)
	var wg sync.WaitGroup
	var mu sync.Mutex
	stats := &Stats{}

	for _, path := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // context canceled
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			stored, ok := ci.core.indexFile(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if !ok {
				stats.Failed++
				return
			}
			if stored > 0 {
				stats.Files++
				stats.Entities += stored
			}
		}(path)
	}
	wg.Wait()

	return ci.core.finishRun(stats, start), nil
}

// UpdateFile refreshes one file: delete stored entities, reinsert.
func (ci *ConcurrentIndexer) UpdateFile(ctx context.Context, path string) (int, error) {
	return ci.core.updateFile(ctx, path)
}
