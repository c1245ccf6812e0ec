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
	"sort"
)

// =============================================================================
// Community Detection
// =============================================================================

// maxClusterPasses bounds the local-moving iterations; real code graphs
// settle in a handful of passes.
const maxClusterPasses = 10

// Clusters groups the projection into communities by greedy modularity
// maximization on the undirected view.
//
// Description:
//
//	Edge direction is ignored and parallel edges collapse into one
//	weighted undirected edge. Each node starts in its own community;
//	nodes are then repeatedly moved (in sorted ID order, for
//	deterministic output) to the neighboring community with the best
//	modularity gain until a pass makes no move. The greedy algorithm
//	determines the cluster count itself; the hint is advisory and only
//	logged when the outcome diverges from it.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - countHint: Desired cluster count. Advisory only.
//
// Outputs:
//   - map[int][]string: Cluster ID to sorted entity IDs. Clusters are
//     numbered by size, largest first. Empty map for an empty graph.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Clusters(ctx context.Context, countHint int) map[int][]string {
	ctx, span := tracer.Start(ctx, "Engine.Clusters")
	defer span.End()

	g := e.snapshot(ctx)
	if g.NodeCount() == 0 {
		return map[int][]string{}
	}

	ids := make([]string, 0, g.NodeCount())
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Undirected weighted projection: self-loops dropped, parallel and
	// antiparallel edges merged.
	adjacency := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		adjacency[id] = make(map[string]float64)
	}
	totalWeight := 0.0
	for _, edge := range g.edges {
		if edge.FromID == edge.ToID {
			continue
		}
		adjacency[edge.FromID][edge.ToID]++
		adjacency[edge.ToID][edge.FromID]++
		totalWeight++
	}

	community := make(map[string]int, len(ids))
	degree := make(map[string]float64, len(ids))
	communityDegree := make(map[int]float64, len(ids))
	for i, id := range ids {
		community[id] = i
		for _, w := range adjacency[id] {
			degree[id] += w
		}
		communityDegree[i] = degree[id]
	}

	if totalWeight > 0 {
		m2 := 2 * totalWeight
		for pass := 0; pass < maxClusterPasses; pass++ {
			if ctx.Err() != nil {
				break
			}
			moved := false
			for _, id := range ids {
				current := community[id]
				ki := degree[id]
				communityDegree[current] -= ki

				// Weight from id into each adjacent community.
				weightTo := map[int]float64{current: 0}
				for neighbor, w := range adjacency[id] {
					weightTo[community[neighbor]] += w
				}

				best := current
				bestGain := weightTo[current] - ki*communityDegree[current]/m2
				for c, w := range weightTo {
					gain := w - ki*communityDegree[c]/m2
					if gain > bestGain || (gain == bestGain && c < best) {
						best = c
						bestGain = gain
					}
				}

				community[id] = best
				communityDegree[best] += ki
				if best != current {
					moved = true
				}
			}
			if !moved {
				break
			}
		}
	}

	// Renumber by size, largest first; ties by first member ID.
	groups := make(map[int][]string)
	for _, id := range ids {
		groups[community[id]] = append(groups[community[id]], id)
	}
	ordered := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		ordered = append(ordered, members)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i][0] < ordered[j][0]
	})

	clusters := make(map[int][]string, len(ordered))
	for i, members := range ordered {
		clusters[i] = members
	}

	if countHint > 0 && len(clusters) != countHint {
		e.logger.Debug("cluster count differs from hint",
			slog.Int("hint", countHint),
			slog.Int("detected", len(clusters)))
	}
	return clusters
}
