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
	"testing"

	"github.com/AleutianAI/codegraph/entity"
)

func TestPageRankOptionsValidate(t *testing.T) {
	tests := []struct {
		name     string
		opts     PageRankOptions
		expected PageRankOptions
	}{
		{
			name:     "valid options unchanged",
			opts:     PageRankOptions{DampingFactor: 0.8, MaxIterations: 50, Convergence: 1e-5},
			expected: PageRankOptions{DampingFactor: 0.8, MaxIterations: 50, Convergence: 1e-5},
		},
		{
			name:     "negative damping replaced with default",
			opts:     PageRankOptions{DampingFactor: -0.5, MaxIterations: 50, Convergence: 1e-5},
			expected: PageRankOptions{DampingFactor: DefaultDampingFactor, MaxIterations: 50, Convergence: 1e-5},
		},
		{
			name:     "damping > 1 replaced with default",
			opts:     PageRankOptions{DampingFactor: 1.5, MaxIterations: 50, Convergence: 1e-5},
			expected: PageRankOptions{DampingFactor: DefaultDampingFactor, MaxIterations: 50, Convergence: 1e-5},
		},
		{
			name:     "zero iterations replaced with default",
			opts:     PageRankOptions{DampingFactor: 0.85, MaxIterations: 0, Convergence: 1e-5},
			expected: PageRankOptions{DampingFactor: 0.85, MaxIterations: DefaultMaxIterations, Convergence: 1e-5},
		},
		{
			name:     "negative convergence replaced with default",
			opts:     PageRankOptions{DampingFactor: 0.85, MaxIterations: 50, Convergence: -1e-5},
			expected: PageRankOptions{DampingFactor: 0.85, MaxIterations: 50, Convergence: DefaultConvergence},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Validate()
			if opts != tt.expected {
				t.Errorf("Validate() = %+v, want %+v", opts, tt.expected)
			}
		})
	}
}

func TestPageRankEmptyGraph(t *testing.T) {
	result := pageRank(context.Background(), NewGraph(), nil, nil)
	if len(result.Scores) != 0 {
		t.Errorf("scores = %d, want 0", len(result.Scores))
	}
	if !result.Converged {
		t.Error("empty graph must report converged")
	}
}

func TestPageRankScoresSumToOne(t *testing.T) {
	source := newFakeSource()
	var nodes [12]*entity.Entity
	for i := range nodes {
		nodes[i] = fn("n", 1+i*10)
		source.add(nodes[i])
	}
	for i := 0; i < 11; i++ {
		calls(nodes[i], nodes[i+1])
	}
	calls(nodes[11], nodes[0]) // close the ring so there is no sink

	engine := buildEngine(t, source)
	engine.mu.RLock()
	g := engine.graph
	engine.mu.RUnlock()

	result := pageRank(context.Background(), g, nil, nil)
	sum := 0.0
	for _, score := range result.Scores {
		sum += score
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("score sum = %f, want ~1.0", sum)
	}
	if !result.Converged {
		t.Error("ring graph must converge")
	}
}

func TestPageRankSinkRedistribution(t *testing.T) {
	// a -> sink: the sink's mass must flow back instead of leaking.
	source := newFakeSource()
	a := fn("a", 1)
	sink := fn("sink", 10)
	calls(a, sink)
	source.add(a)
	source.add(sink)

	engine := buildEngine(t, source)
	engine.mu.RLock()
	g := engine.graph
	engine.mu.RUnlock()

	result := pageRank(context.Background(), g, nil, nil)
	sum := 0.0
	for _, score := range result.Scores {
		sum += score
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("score sum = %f, want ~1.0 despite the sink", sum)
	}
	if result.Scores[sink.ID] <= result.Scores[a.ID] {
		t.Error("the sink receives a's mass and must outrank it")
	}
}

func TestTopByPageRankHub(t *testing.T) {
	source := newFakeSource()
	hub := fn("hub", 1)
	source.add(hub)
	for i := 0; i < 6; i++ {
		spoke := fn("spoke", 100+i*10)
		calls(spoke, hub)
		source.add(spoke)
	}

	engine := buildEngine(t, source)

	top := engine.TopByPageRank(context.Background(), 3)
	if len(top) != 3 {
		t.Fatalf("returned = %d, want 3", len(top))
	}
	if top[0].Node.ID != hub.ID {
		t.Errorf("top node = %s, want the hub", top[0].Node.Name)
	}
	if top[0].Rank != 1 || top[1].Rank != 2 {
		t.Error("ranks must be 1-indexed and sequential")
	}
	if top[0].Score <= top[1].Score {
		t.Error("scores must be descending")
	}
}

func TestTopByPageRankBounds(t *testing.T) {
	source := newFakeSource()
	source.add(fn("only", 1))
	engine := buildEngine(t, source)

	if top := engine.TopByPageRank(context.Background(), 0); len(top) != 0 {
		t.Errorf("k=0 returned %d nodes", len(top))
	}
	if top := engine.TopByPageRank(context.Background(), 10); len(top) != 1 {
		t.Errorf("k beyond node count returned %d nodes, want 1", len(top))
	}
}

func TestPersonalizedPageRankConcentratesOnSeeds(t *testing.T) {
	source := newFakeSource()
	seed := fn("seed", 1)
	next := fn("next", 10)
	far := fn("far", 20)
	calls(seed, next)
	calls(next, far)
	calls(far, seed)
	source.add(seed)
	source.add(next)
	source.add(far)

	engine := buildEngine(t, source)
	engine.mu.RLock()
	g := engine.graph
	engine.mu.RUnlock()

	uniform := pageRank(context.Background(), g, nil, nil)
	personalized := pageRank(context.Background(), g, nil, map[string]float64{seed.ID: 1.0})

	if personalized.Scores[seed.ID] <= uniform.Scores[seed.ID] {
		t.Error("restart mass on the seed must raise its score above the uniform run")
	}
}
