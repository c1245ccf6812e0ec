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
	"strings"
)

// =============================================================================
// Cycle Detection
// =============================================================================

// Cycle detection defaults.
const (
	// DefaultMaxCycleLength bounds the DFS depth; longer cycles exist
	// in pathological graphs but are not actionable.
	DefaultMaxCycleLength = 10

	// DefaultMaxCycles caps the number of cycles reported per call.
	DefaultMaxCycles = 5

	// CycleTypeDependency is the classification of every detected
	// cycle today; the field exists so future cycle kinds (ownership,
	// inheritance) keep the same shape.
	CycleTypeDependency = "Dependency"
)

// Cycle is one circular dependency through the start node.
type Cycle struct {
	// Path holds the node IDs in traversal order. The first entry is
	// the start node; the cycle closes back to it implicitly.
	Path []string

	// Names holds the entity names matching Path.
	Names []string

	// Type classifies the cycle.
	Type string
}

// DetectCycles finds simple cycles passing through a start entity.
//
// Description:
//
//	Depth-first search over outgoing edges, bounded in both cycle
//	length and result count. Every cycle is anchored at startID, so
//	each simple cycle through it is reported once regardless of
//	rotation. A missing start node yields an empty result — traversal
//	never errors.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - startID: Entity the cycles must pass through.
//   - maxLength: Longest cycle to report. Non-positive selects 10.
//   - maxResults: Cap on reported cycles. Non-positive selects 5.
//
// Outputs:
//   - []Cycle: Detected cycles, each tagged "Dependency". Empty on any
//     failure.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) DetectCycles(ctx context.Context, startID string, maxLength, maxResults int) []Cycle {
	ctx, span := tracer.Start(ctx, "Engine.DetectCycles")
	defer span.End()

	if maxLength <= 0 {
		maxLength = DefaultMaxCycleLength
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxCycles
	}

	g := e.snapshot(ctx)
	start, ok := g.Node(startID)
	if !ok {
		return []Cycle{}
	}

	finder := &cycleFinder{
		graph:      g,
		startID:    startID,
		maxLength:  maxLength,
		maxResults: maxResults,
		onPath:     map[string]bool{startID: true},
		path:       []string{startID},
		seen:       make(map[string]bool),
	}
	finder.walk(ctx, start)

	cycles := make([]Cycle, 0, len(finder.cycles))
	for _, path := range finder.cycles {
		names := make([]string, len(path))
		for i, id := range path {
			if node, ok := g.Node(id); ok {
				names[i] = node.Name
			}
		}
		cycles = append(cycles, Cycle{Path: path, Names: names, Type: CycleTypeDependency})
	}
	return cycles
}

// cycleFinder carries the DFS state for one DetectCycles call.
type cycleFinder struct {
	graph      *Graph
	startID    string
	maxLength  int
	maxResults int

	onPath map[string]bool
	path   []string
	seen   map[string]bool
	cycles [][]string
}

// walk extends the current simple path from node.
func (f *cycleFinder) walk(ctx context.Context, node *Node) {
	if len(f.cycles) >= f.maxResults || ctx.Err() != nil {
		return
	}

	for _, edge := range node.Outgoing {
		if len(f.cycles) >= f.maxResults {
			return
		}

		if edge.ToID == f.startID {
			// Parallel edges (same target under two relations) would
			// report the same cycle twice; dedupe on the path.
			key := strings.Join(f.path, "\x00")
			if !f.seen[key] {
				f.seen[key] = true
				cycle := make([]string, len(f.path))
				copy(cycle, f.path)
				f.cycles = append(f.cycles, cycle)
			}
			continue
		}

		if f.onPath[edge.ToID] || len(f.path) >= f.maxLength {
			continue
		}

		next, ok := f.graph.Node(edge.ToID)
		if !ok {
			continue
		}

		f.onPath[edge.ToID] = true
		f.path = append(f.path, edge.ToID)
		f.walk(ctx, next)
		f.path = f.path[:len(f.path)-1]
		delete(f.onPath, edge.ToID)
	}
}
