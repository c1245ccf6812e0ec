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
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// PageRank
// =============================================================================

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link (vs
	// random jump). Standard value from the original PageRank paper.
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 100

	// DefaultConvergence is the threshold for convergence detection.
	DefaultConvergence = 1e-6

	// SmallGraphThreshold is the node count below which convergence
	// checks are skipped.
	SmallGraphThreshold = 10
)

// PageRankOptions configures the PageRank algorithm.
type PageRankOptions struct {
	// DampingFactor is the probability of following a link.
	// Must be in [0, 1]. Default: 0.85
	DampingFactor float64

	// MaxIterations is the maximum iterations before stopping.
	// Must be > 0. Default: 100
	MaxIterations int

	// Convergence is the threshold for convergence detection.
	// Must be > 0. Default: 1e-6
	Convergence float64
}

// Validate checks options and applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor < 0 || o.DampingFactor > 1 {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Convergence <= 0 {
		o.Convergence = DefaultConvergence
	}
}

// DefaultPageRankOptions returns sensible defaults.
func DefaultPageRankOptions() *PageRankOptions {
	return &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Convergence:   DefaultConvergence,
	}
}

// PageRankResult contains the output of a PageRank computation.
type PageRankResult struct {
	// Scores maps node ID to PageRank score. Scores sum to ~1.0.
	Scores map[string]float64

	// Iterations is the number of iterations performed.
	Iterations int

	// Converged indicates convergence before MaxIterations.
	Converged bool

	// MaxDiff is the final maximum score difference.
	MaxDiff float64
}

// RankedNode is one entry of a top-k ranking.
type RankedNode struct {
	// Node is the graph node.
	Node *Node

	// Score is the PageRank score.
	Score float64

	// Rank is the position in the ranking (1-indexed).
	Rank int
}

// pageRank runs power iteration over g.
//
// Description:
//
//	restart distributes the random-jump mass. A nil restart means
//	uniform (classic PageRank); a non-nil restart is normalized over
//	its entries and concentrates the jump on those nodes (personalized
//	PageRank). Sink mass is redistributed along the same vector so rank
//	never leaks out of the graph.
//
// Thread Safety: Safe on a published (read-only) graph.
//
// Complexity: O(k × E) where k = iterations to converge.
func pageRank(ctx context.Context, g *Graph, opts *PageRankOptions, restart map[string]float64) *PageRankResult {
	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		opts.Validate()
	}

	n := float64(g.NodeCount())
	if n == 0 {
		return &PageRankResult{Scores: make(map[string]float64), Converged: true}
	}

	// Normalize the restart vector; fall back to uniform when it has
	// no mass on any graph node.
	jump := make(map[string]float64, g.NodeCount())
	total := 0.0
	for id, weight := range restart {
		if _, ok := g.nodes[id]; ok && weight > 0 {
			jump[id] = weight
			total += weight
		}
	}
	if total > 0 {
		for id := range jump {
			jump[id] /= total
		}
	} else {
		uniform := 1.0 / n
		for id := range g.nodes {
			jump[id] = uniform
		}
	}

	d := opts.DampingFactor
	scores := make(map[string]float64, g.NodeCount())
	newScores := make(map[string]float64, g.NodeCount())

	initial := 1.0 / n
	for id := range g.nodes {
		scores[id] = initial
	}

	// Sink nodes redistribute their mass along the jump vector.
	sinkNodes := make([]string, 0)
	outDegree := make(map[string]int, g.NodeCount())
	for id, node := range g.nodes {
		deg := len(node.Outgoing)
		outDegree[id] = deg
		if deg == 0 {
			sinkNodes = append(sinkNodes, id)
		}
	}

	var iterations int
	var converged bool
	var maxDiff float64

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return &PageRankResult{
				Scores:     scores,
				Iterations: iter,
				Converged:  false,
				MaxDiff:    maxDiff,
			}
		}

		maxDiff = 0.0

		sinkMass := 0.0
		for _, sinkID := range sinkNodes {
			sinkMass += scores[sinkID]
		}

		for id, node := range g.nodes {
			newScore := (1-d+d*sinkMass) * jump[id]

			for _, edge := range node.Incoming {
				fromOutDegree := outDegree[edge.FromID]
				if fromOutDegree > 0 {
					newScore += d * scores[edge.FromID] / float64(fromOutDegree)
				}
			}

			newScores[id] = newScore

			diff := math.Abs(newScore - scores[id])
			if diff > maxDiff {
				maxDiff = diff
			}
		}

		// Swap maps instead of reallocating.
		scores, newScores = newScores, scores

		iterations = iter + 1

		if g.NodeCount() < SmallGraphThreshold || maxDiff < opts.Convergence {
			converged = true
			break
		}
	}

	return &PageRankResult{
		Scores:     scores,
		Iterations: iterations,
		Converged:  converged,
		MaxDiff:    maxDiff,
	}
}

// TopByPageRank returns the k highest-ranked nodes of the projection.
//
// Description:
//
//	Runs classic PageRank over the full graph and returns the top k
//	nodes sorted by score descending, ties broken by node ID for
//	deterministic output.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - k: Number of nodes to return. Non-positive returns empty.
//
// Outputs:
//   - []RankedNode: At most k entries, best first.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) TopByPageRank(ctx context.Context, k int) []RankedNode {
	ctx, span := tracer.Start(ctx, "Engine.TopByPageRank",
		trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	if k <= 0 {
		return []RankedNode{}
	}

	g := e.snapshot(ctx)
	result := pageRank(ctx, g, nil, nil)

	type scoredNode struct {
		ID    string
		Score float64
	}
	nodeList := make([]scoredNode, 0, len(result.Scores))
	for id, score := range result.Scores {
		nodeList = append(nodeList, scoredNode{ID: id, Score: score})
	}

	sort.Slice(nodeList, func(i, j int) bool {
		if nodeList[i].Score != nodeList[j].Score {
			return nodeList[i].Score > nodeList[j].Score
		}
		return nodeList[i].ID < nodeList[j].ID
	})

	if k > len(nodeList) {
		k = len(nodeList)
	}

	topK := make([]RankedNode, k)
	for i := 0; i < k; i++ {
		node, _ := g.Node(nodeList[i].ID)
		topK[i] = RankedNode{
			Node:  node,
			Score: nodeList[i].Score,
			Rank:  i + 1,
		}
	}

	span.SetAttributes(attribute.Int("returned", len(topK)))
	return topK
}
