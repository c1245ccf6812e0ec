// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/entity"
)

// EntitySource is the slice of the store the engine depends on.
// *store.Store satisfies it.
type EntitySource interface {
	// AllEntities returns every stored entity, optionally one type.
	AllEntities(ctx context.Context, typeFilter entity.Type) ([]*entity.Entity, error)

	// QueryEntities returns entities most similar to a text query.
	QueryEntities(ctx context.Context, query string, limit int, typeFilter entity.Type) ([]*entity.Entity, error)

	// QueryNeighbors returns entities one edge away from id.
	QueryNeighbors(ctx context.Context, id string, relation entity.Relation, limit int) ([]*entity.Entity, error)

	// GetEntity returns one entity, nil if missing.
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
}

// Engine owns the current graph projection and answers structural
// queries against it.
//
// Description:
//
//	Build replaces the projection wholesale under a write lock; every
//	query reads a consistent snapshot under a read lock. Queries on an
//	empty engine trigger a lazy build first, so callers never have to
//	sequence Build themselves.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	source EntitySource
	logger *slog.Logger

	mu    sync.RWMutex
	graph *Graph
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine over the given entity source.
func NewEngine(source EntitySource, opts ...EngineOption) *Engine {
	e := &Engine{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "graph-engine"))
	return e
}

// Build projects the stored entities into a fresh graph.
//
// Description:
//
//	Loads every entity (paginated inside the source), adds one node
//	per entity and one edge per payload relation, and swaps the result
//	in wholesale. Relations pointing at entities the type filter
//	excluded are dropped. A degraded source yields an empty graph, not
//	an error.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - typeFilter: Restrict the projection to one entity type. Empty
//     projects everything.
//
// Outputs:
//   - int: Node count of the new projection.
//   - error: Non-nil only on context cancellation.
func (e *Engine) Build(ctx context.Context, typeFilter entity.Type) (int, error) {
	ctx, span := tracer.Start(ctx, "Engine.Build")
	defer span.End()
	start := time.Now()

	entities, err := e.source.AllEntities(ctx, typeFilter)
	if err != nil {
		return 0, err
	}

	g := NewGraph()
	for _, ent := range entities {
		g.AddNode(ent)
	}
	edges := 0
	for _, ent := range entities {
		for _, relation := range entity.Relations() {
			for _, targetID := range ent.Relations[relation] {
				if g.AddEdge(ent.ID, targetID, relation) {
					edges++
				}
			}
		}
	}
	edges += resolveDeferredCalls(g, entities)

	e.mu.Lock()
	e.graph = g
	e.mu.Unlock()

	e.logger.Info("graph built",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", edges),
		slog.Duration("elapsed", time.Since(start)))
	span.SetAttributes(
		attribute.Int("node_count", g.NodeCount()),
		attribute.Int("edge_count", edges),
	)
	recordBuildMetrics(ctx, time.Since(start), g.NodeCount(), edges)

	return g.NodeCount(), nil
}

// resolveDeferredCalls adds cross-file "calls" edges for callees the
// extractor could only bind by import name. A name is linked when
// exactly one function or class outside the caller's file carries it;
// ambiguous names are dropped rather than guessed.
func resolveDeferredCalls(g *Graph, entities []*entity.Entity) int {
	byName := make(map[string][]*entity.Entity)
	for _, ent := range entities {
		if ent.Type == entity.TypeFunction || ent.Type == entity.TypeClass {
			byName[ent.Name] = append(byName[ent.Name], ent)
		}
	}

	added := 0
	for _, ent := range entities {
		for _, callee := range ent.StringSliceProperty("calls_unresolved") {
			var target *entity.Entity
			matches := 0
			for _, cand := range byName[callee] {
				if cand.FilePath == ent.FilePath {
					continue
				}
				target = cand
				matches++
			}
			if matches != 1 {
				continue
			}
			if g.AddEdge(ent.ID, target.ID, entity.RelationCalls) {
				added++
			}
		}
	}
	return added
}

// snapshot returns the current projection, building lazily if none
// exists yet.
func (e *Engine) snapshot(ctx context.Context) *Graph {
	e.mu.RLock()
	g := e.graph
	e.mu.RUnlock()
	if g != nil {
		return g
	}

	if _, err := e.Build(ctx, ""); err != nil {
		e.logger.Warn("lazy graph build failed", slog.String("error", err.Error()))
		return NewGraph()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return NewGraph()
	}
	return e.graph
}

// NodeCount returns the size of the current projection without
// triggering a lazy build.
func (e *Engine) NodeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return 0
	}
	return e.graph.NodeCount()
}
