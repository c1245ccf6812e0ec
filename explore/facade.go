// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explore is the read-side facade over the store and the graph
// engine: entity lookup, neighborhood expansion, blast-radius impact
// analysis, and critical-path tracing.
package explore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codegraph/entity"
	"github.com/AleutianAI/codegraph/graph"
)

var tracer = otel.Tracer("codegraph.explore")

// Facade limits.
const (
	// MaxExpandHops caps neighborhood expansion depth.
	MaxExpandHops = 3

	// DirectNeighborLimit caps first-degree dependents per entity.
	DirectNeighborLimit = 50

	// IndirectNeighborLimit caps second-degree dependents per direct
	// dependent.
	IndirectNeighborLimit = 20

	// DefaultCriticalPaths is the path count when the caller passes none.
	DefaultCriticalPaths = 5
)

// Risk bands for impact reports.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Risk thresholds on the affected entity count (target included).
const (
	lowRiskBelow  = 10
	highRiskAbove = 50
)

// Source is the slice of the store the facade reads. *store.Store
// satisfies it.
type Source interface {
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
	QueryEntities(ctx context.Context, query string, limit int, typeFilter entity.Type) ([]*entity.Entity, error)
	QueryNeighbors(ctx context.Context, id string, relation entity.Relation, limit int) ([]*entity.Entity, error)
}

// Facade bundles the store and the graph engine behind the query
// operations callers actually ask for.
//
// Thread Safety: Safe for concurrent use.
type Facade struct {
	source Source
	engine *graph.Engine
	logger *slog.Logger
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FacadeOption {
	return func(f *Facade) {
		f.logger = logger
	}
}

// NewFacade creates a facade over a store and a graph engine.
func NewFacade(source Source, engine *graph.Engine, opts ...FacadeOption) *Facade {
	f := &Facade{
		source: source,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "explore"))
	return f
}

// FindEntity resolves a name or free-text query to the best-matching
// entity. Returns nil when nothing matches; that is a routine outcome,
// not an error.
func (f *Facade) FindEntity(ctx context.Context, nameOrQuery string) (*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Facade.FindEntity")
	defer span.End()

	matches, err := f.source.QueryEntities(ctx, nameOrQuery, 1, "")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// Expansion is a relation-grouped neighborhood around one entity.
type Expansion struct {
	// Root is the entity the expansion started from.
	Root *entity.Entity

	// Neighbors groups every reached entity by the relation that first
	// reached it. Each entity appears exactly once across all groups.
	Neighbors map[entity.Relation][]*entity.Entity

	// Hops is the depth actually expanded.
	Hops int
}

// Total returns the reached entity count across all relations.
func (x *Expansion) Total() int {
	total := 0
	for _, group := range x.Neighbors {
		total += len(group)
	}
	return total
}

// Expand walks the stored relations outward from id.
//
// Description:
//
//	Hop one groups the root's neighbors by relation. Deeper hops
//	re-expand the previous frontier with the same per-relation lookup,
//	deduplicating against everything already seen, so an entity
//	reachable along several routes is reported once, under the
//	relation that reached it first.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - id: Root entity ID.
//   - hops: Expansion depth, clamped to [1, 3].
//
// Outputs:
//   - *Expansion: nil when the root does not exist.
//   - error: Non-nil only on store errors.
func (f *Facade) Expand(ctx context.Context, id string, hops int) (*Expansion, error) {
	ctx, span := tracer.Start(ctx, "Facade.Expand",
		trace.WithAttributes(attribute.Int("hops", hops)))
	defer span.End()

	if hops < 1 {
		hops = 1
	}
	if hops > MaxExpandHops {
		hops = MaxExpandHops
	}

	root, err := f.source.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	result := &Expansion{
		Root:      root,
		Neighbors: make(map[entity.Relation][]*entity.Entity),
		Hops:      hops,
	}
	visited := map[string]bool{id: true}
	frontier := []*entity.Entity{root}

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []*entity.Entity
		for _, from := range frontier {
			for _, rel := range entity.Relations() {
				if len(from.RelatedIDs(rel)) == 0 {
					continue
				}
				neighbors, err := f.source.QueryNeighbors(ctx, from.ID, rel, 0)
				if err != nil {
					return nil, err
				}
				for _, n := range neighbors {
					if visited[n.ID] {
						continue
					}
					visited[n.ID] = true
					result.Neighbors[rel] = append(result.Neighbors[rel], n)
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	span.SetAttributes(attribute.Int("reached", result.Total()))
	return result, nil
}

// Impact is a blast-radius report for changing one entity.
type Impact struct {
	// Target is the entity under change.
	Target *entity.Entity

	// Direct holds first-degree dependents: entities with an edge into
	// the target.
	Direct []*graph.Node

	// Indirect holds second-degree dependents not already direct.
	Indirect []*graph.Node

	// Files is the distinct file count across target and dependents.
	Files int

	// Functions counts functions and methods among them.
	Functions int

	// Classes counts classes among them.
	Classes int

	// Risk is Low, Medium, or High.
	Risk string

	// Summary is a one-line description of the radius.
	Summary string
}

// BlastRadius reports everything plausibly affected by changing id.
//
// Description:
//
//	Dependents are the graph's inbound view: first-degree dependents
//	are entities with an edge into the target (up to 50); each of
//	those contributes up to 20 of its own dependents, with a visited
//	set keeping the union duplicate-free. The risk band is a simple
//	size heuristic: fewer than 10 affected entities is Low, more than
//	50 is High, anything between is Medium.
//
// Outputs:
//   - *Impact: nil when the target does not exist.
//   - error: Non-nil only on store errors.
func (f *Facade) BlastRadius(ctx context.Context, id string) (*Impact, error) {
	ctx, span := tracer.Start(ctx, "Facade.BlastRadius")
	defer span.End()

	target, err := f.source.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	direct := f.engine.Dependents(ctx, id, DirectNeighborLimit)

	visited := map[string]bool{id: true}
	for _, dep := range direct {
		visited[dep.ID] = true
	}
	var indirect []*graph.Node
	for _, dep := range direct {
		for _, dep2 := range f.engine.Dependents(ctx, dep.ID, IndirectNeighborLimit) {
			if visited[dep2.ID] {
				continue
			}
			visited[dep2.ID] = true
			indirect = append(indirect, dep2)
		}
	}

	impact := &Impact{
		Target:   target,
		Direct:   direct,
		Indirect: indirect,
	}

	files := map[string]bool{target.FilePath: true}
	affected := 1
	switch target.Type {
	case entity.TypeFunction, entity.TypeMethod:
		impact.Functions++
	case entity.TypeClass:
		impact.Classes++
	}
	for _, dep := range append(append([]*graph.Node{}, direct...), indirect...) {
		affected++
		files[dep.FilePath] = true
		switch dep.Type {
		case entity.TypeFunction, entity.TypeMethod:
			impact.Functions++
		case entity.TypeClass:
			impact.Classes++
		}
	}
	impact.Files = len(files)

	switch {
	case affected < lowRiskBelow:
		impact.Risk = RiskLow
	case affected > highRiskAbove:
		impact.Risk = RiskHigh
	default:
		impact.Risk = RiskMedium
	}
	impact.Summary = fmt.Sprintf("%d entities across %d files affected", affected, impact.Files)

	span.SetAttributes(
		attribute.Int("affected", affected),
		attribute.String("risk", impact.Risk),
	)
	return impact, nil
}

// CriticalPaths traces the shortest dependency path from source to each
// target and keeps the shortest few.
//
// Description:
//
//	One BFS shortest path per target; unreachable targets and trivial
//	single-node paths are dropped, duplicate paths collapse to one.
//	The survivors are sorted by length (ties by path content) and
//	truncated to topN.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - sourceID: Path origin.
//   - targetIDs: Path destinations.
//   - topN: Paths to keep. Non-positive selects 5.
//
// Outputs:
//   - [][]*graph.Node: Shortest paths, shortest first. Empty when
//     nothing is reachable.
func (f *Facade) CriticalPaths(ctx context.Context, sourceID string, targetIDs []string, topN int) [][]*graph.Node {
	ctx, span := tracer.Start(ctx, "Facade.CriticalPaths",
		trace.WithAttributes(attribute.Int("targets", len(targetIDs))))
	defer span.End()

	if topN <= 0 {
		topN = DefaultCriticalPaths
	}

	seen := make(map[string]bool)
	var paths [][]*graph.Node
	for _, targetID := range targetIDs {
		path := f.engine.ShortestPath(ctx, sourceID, targetID)
		if len(path) < 2 {
			continue
		}
		key := pathKey(path)
		if seen[key] {
			continue
		}
		seen[key] = true
		paths = append(paths, path)
	}

	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return pathKey(paths[i]) < pathKey(paths[j])
	})

	if topN > len(paths) {
		topN = len(paths)
	}
	return paths[:topN]
}

func pathKey(path []*graph.Node) string {
	ids := make([]string, len(path))
	for i, node := range path {
		ids[i] = node.ID
	}
	return strings.Join(ids, "\x00")
}
