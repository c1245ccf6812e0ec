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
)

// =============================================================================
// Shortest Path (BFS)
// =============================================================================

// ShortestPath finds the shortest directed path between two entities.
//
// Description:
//
//	Unweighted breadth-first search over outgoing edges. Edges are
//	unweighted, so the first path found is shortest by hop count.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - sourceID, targetID: Entity IDs.
//
// Outputs:
//   - []*Node: Nodes in path order, source and target included. Nil
//     when either endpoint is missing or no path exists — absence is a
//     routine result, never an error.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) ShortestPath(ctx context.Context, sourceID, targetID string) []*Node {
	ctx, span := tracer.Start(ctx, "Engine.ShortestPath")
	defer span.End()

	g := e.snapshot(ctx)
	ids := g.shortestPath(sourceID, targetID)
	if ids == nil {
		return nil
	}

	path := make([]*Node, 0, len(ids))
	for _, id := range ids {
		node, _ := g.Node(id)
		path = append(path, node)
	}
	return path
}

// =============================================================================
// Dependents (reverse adjacency)
// =============================================================================

// Dependents returns the entities with an edge INTO id: its callers,
// importers, and subclasses. Inbound relations are never stored on a
// point, so this is the computed reverse view off the projection.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - id: Target entity ID.
//   - limit: Max dependents. Non-positive means unlimited.
//
// Outputs:
//   - []*Node: Distinct source nodes in edge insertion order. Nil when
//     the entity is missing or nothing points at it.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Dependents(ctx context.Context, id string, limit int) []*Node {
	ctx, span := tracer.Start(ctx, "Engine.Dependents")
	defer span.End()

	g := e.snapshot(ctx)
	node, ok := g.Node(id)
	if !ok {
		return nil
	}

	seen := make(map[string]bool, len(node.Incoming))
	var dependents []*Node
	for _, edge := range node.Incoming {
		if seen[edge.FromID] {
			continue
		}
		seen[edge.FromID] = true
		if from, ok := g.Node(edge.FromID); ok {
			dependents = append(dependents, from)
		}
		if limit > 0 && len(dependents) >= limit {
			break
		}
	}
	return dependents
}

// shortestPath runs BFS and reconstructs the path from predecessors.
func (g *Graph) shortestPath(sourceID, targetID string) []string {
	if _, ok := g.nodes[sourceID]; !ok {
		return nil
	}
	if _, ok := g.nodes[targetID]; !ok {
		return nil
	}
	if sourceID == targetID {
		return []string{sourceID}
	}

	predecessor := map[string]string{sourceID: ""}
	queue := []string{sourceID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.nodes[current].Outgoing {
			if _, seen := predecessor[edge.ToID]; seen {
				continue
			}
			predecessor[edge.ToID] = current

			if edge.ToID == targetID {
				return reconstructPath(predecessor, sourceID, targetID)
			}
			queue = append(queue, edge.ToID)
		}
	}
	return nil
}

// reconstructPath walks predecessors back from target to source.
func reconstructPath(predecessor map[string]string, sourceID, targetID string) []string {
	path := []string{targetID}
	for current := predecessor[targetID]; current != ""; current = predecessor[current] {
		path = append(path, current)
	}
	// Reverse in place.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if path[0] != sourceID {
		return nil
	}
	return path
}
