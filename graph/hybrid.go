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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codegraph/entity"
)

// =============================================================================
// Hybrid Query (similarity + personalized PageRank)
// =============================================================================

// Hybrid query defaults.
const (
	// DefaultTopK is the result count when the caller passes none.
	DefaultTopK = 10

	// DefaultCandidateCount is the similarity-search fan-out feeding
	// the subgraph.
	DefaultCandidateCount = 50

	// DefaultNeighborLimit caps the neighbors pulled per candidate
	// when the subgraph includes them.
	DefaultNeighborLimit = 20

	// HybridScoreScale lifts PageRank scores into a readable range.
	HybridScoreScale = 100.0
)

// ScoredEntity is one hybrid query result.
type ScoredEntity struct {
	// Entity is the matched entity.
	Entity *entity.Entity

	// Score is the combined ranking score (PageRank × scale, or the
	// similarity-rank fallback).
	Score float64

	// PageRank is the raw personalized PageRank score. Zero when the
	// induced subgraph had no edges.
	PageRank float64
}

// HybridQuery ranks similarity candidates by their structural weight.
//
// Description:
//
//	Similarity search retrieves candidateCount candidates, optionally
//	widened with each candidate's direct neighbors. Personalized
//	PageRank then runs on the induced subgraph with restart mass on
//	the candidates, and candidates are returned ranked by
//	pagerank × scale. Neighbors shape the ranking but are never
//	returned themselves.
//
//	An induced subgraph without edges carries no structural signal, so
//	the result falls back to similarity order with score 1/(rank) and
//	pagerank 0 — never an error.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - query: Free-text query.
//   - topK: Results to return. Non-positive selects 10.
//   - candidateCount: Similarity candidates. Non-positive selects 50.
//   - includeNeighbors: Widen the subgraph with direct neighbors.
//
// Outputs:
//   - []ScoredEntity: At most topK entries, best first. Empty when the
//     store is degraded or nothing matches.
//   - error: Non-nil only if embedding the query fails.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) HybridQuery(ctx context.Context, query string, topK, candidateCount int, includeNeighbors bool) ([]ScoredEntity, error) {
	ctx, span := tracer.Start(ctx, "Engine.HybridQuery",
		trace.WithAttributes(
			attribute.Int("top_k", topK),
			attribute.Int("candidate_count", candidateCount),
			attribute.Bool("include_neighbors", includeNeighbors),
		))
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	if candidateCount <= 0 {
		candidateCount = DefaultCandidateCount
	}

	candidates, err := e.source.QueryEntities(ctx, query, candidateCount, "")
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		e.logger.Debug("no candidates for hybrid query", slog.String("query", query))
		return nil, nil
	}

	subgraphIDs := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		subgraphIDs[c.ID] = true
	}
	if includeNeighbors {
		for _, c := range candidates {
			neighbors, err := e.source.QueryNeighbors(ctx, c.ID, "", DefaultNeighborLimit)
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				subgraphIDs[n.ID] = true
			}
		}
	}

	g := e.snapshot(ctx)
	induced := g.Subgraph(subgraphIDs)
	span.SetAttributes(
		attribute.Int("subgraph_nodes", induced.NodeCount()),
		attribute.Int("subgraph_edges", induced.EdgeCount()),
	)

	if induced.EdgeCount() == 0 {
		// No structural signal; similarity order is the ranking.
		if topK > len(candidates) {
			topK = len(candidates)
		}
		results := make([]ScoredEntity, topK)
		for i := 0; i < topK; i++ {
			results[i] = ScoredEntity{
				Entity: candidates[i],
				Score:  1.0 / float64(i+1),
			}
		}
		return results, nil
	}

	restart := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		restart[c.ID] = 1.0
	}
	ranked := pageRank(ctx, induced, nil, restart)

	results := make([]ScoredEntity, 0, len(candidates))
	for _, c := range candidates {
		pr, ok := ranked.Scores[c.ID]
		if !ok {
			continue
		}
		results = append(results, ScoredEntity{
			Entity:   c,
			Score:    pr * HybridScoreScale,
			PageRank: pr,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}
