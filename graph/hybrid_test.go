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
	"testing"

	"github.com/AleutianAI/codegraph/entity"
)

func TestHybridQueryEdgelessFallback(t *testing.T) {
	source := newFakeSource()
	a := fn("alpha", 1)
	b := fn("beta", 10)
	c := fn("gamma", 20)
	source.add(a)
	source.add(b)
	source.add(c)
	source.setQueryResults(b, a, c) // similarity order

	engine := buildEngine(t, source)
	results, err := engine.HybridQuery(context.Background(), "anything", 2, 10, false)
	if err != nil {
		t.Fatalf("HybridQuery failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Entity.ID != b.ID || results[1].Entity.ID != a.ID {
		t.Error("edgeless fallback must preserve similarity order")
	}
	if results[0].Score != 1.0 || results[1].Score != 0.5 {
		t.Errorf("fallback scores = %f, %f; want 1.0, 0.5", results[0].Score, results[1].Score)
	}
	for _, r := range results {
		if r.PageRank != 0 {
			t.Error("fallback results must carry pagerank 0")
		}
	}
}

func TestHybridQueryRanksByStructure(t *testing.T) {
	source := newFakeSource()
	hub := fn("hub", 1)
	caller1 := fn("caller1", 10)
	caller2 := fn("caller2", 20)
	calls(caller1, hub)
	calls(caller2, hub)
	source.add(hub)
	source.add(caller1)
	source.add(caller2)
	// Similarity puts the hub last; structure must pull it first.
	source.setQueryResults(caller1, caller2, hub)

	engine := buildEngine(t, source)
	results, err := engine.HybridQuery(context.Background(), "anything", 3, 10, false)
	if err != nil {
		t.Fatalf("HybridQuery failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Entity.ID != hub.ID {
		t.Errorf("top result = %s, want the hub", results[0].Entity.Name)
	}
	if results[0].PageRank == 0 {
		t.Error("structural ranking must carry a nonzero pagerank")
	}
	if results[0].Score != results[0].PageRank*HybridScoreScale {
		t.Error("score must be pagerank scaled")
	}
}

func TestHybridQueryNeighborsShapeButNeverAppear(t *testing.T) {
	source := newFakeSource()
	candidate := fn("candidate", 1)
	neighbor := fn("neighbor", 10)
	calls(candidate, neighbor)
	calls(neighbor, candidate)
	source.add(candidate)
	source.add(neighbor)
	source.setQueryResults(candidate)

	engine := buildEngine(t, source)
	results, err := engine.HybridQuery(context.Background(), "anything", 10, 10, true)
	if err != nil {
		t.Fatalf("HybridQuery failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want only the candidate", len(results))
	}
	if results[0].Entity.ID != candidate.ID {
		t.Error("neighbors must never be returned")
	}
	if results[0].PageRank == 0 {
		t.Error("the neighbor edge must give the candidate structural signal")
	}
}

func TestHybridQueryNoCandidates(t *testing.T) {
	source := newFakeSource()
	source.add(fn("something", 1))
	source.setQueryResults() // store returns nothing

	engine := buildEngine(t, source)
	results, err := engine.HybridQuery(context.Background(), "nothing matches", 10, 10, true)
	if err != nil {
		t.Fatalf("HybridQuery failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestHybridQueryTopKTruncation(t *testing.T) {
	source := newFakeSource()
	entities := make([]*entity.Entity, 5)
	for i := range entities {
		entities[i] = fn("cand", 1+i*10)
		source.add(entities[i])
	}
	for i := 0; i < 4; i++ {
		calls(entities[i], entities[i+1])
	}
	source.setQueryResults(entities...)

	engine := buildEngine(t, source)
	results, err := engine.HybridQuery(context.Background(), "anything", 2, 10, false)
	if err != nil {
		t.Fatalf("HybridQuery failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if len(results) == 2 && results[0].Score < results[1].Score {
		t.Error("results must be sorted descending")
	}
}
