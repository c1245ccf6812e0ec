// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/entity"
	"github.com/AleutianAI/codegraph/graph"
)

// fakeSource serves a fixed entity set. It satisfies both the facade's
// Source and graph.EntitySource, so one fake backs the whole facade.
type fakeSource struct {
	entities     map[string]*entity.Entity
	order        []string
	queryResults []*entity.Entity
}

func newFakeSource() *fakeSource {
	return &fakeSource{entities: make(map[string]*entity.Entity)}
}

func (f *fakeSource) add(e *entity.Entity) {
	f.entities[e.ID] = e
	f.order = append(f.order, e.ID)
}

func (f *fakeSource) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	return f.entities[id], nil
}

func (f *fakeSource) AllEntities(ctx context.Context, typeFilter entity.Type) ([]*entity.Entity, error) {
	var result []*entity.Entity
	for _, id := range f.order {
		e := f.entities[id]
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (f *fakeSource) QueryEntities(ctx context.Context, query string, limit int, typeFilter entity.Type) ([]*entity.Entity, error) {
	results := f.queryResults
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeSource) QueryNeighbors(ctx context.Context, id string, relation entity.Relation, limit int) ([]*entity.Entity, error) {
	e, ok := f.entities[id]
	if !ok {
		return nil, nil
	}
	targetIDs := e.RelatedIDs(relation)
	if limit > 0 && len(targetIDs) > limit {
		targetIDs = targetIDs[:limit]
	}
	var neighbors []*entity.Entity
	for _, targetID := range targetIDs {
		if target, ok := f.entities[targetID]; ok {
			neighbors = append(neighbors, target)
		}
	}
	return neighbors, nil
}

func fn(name, file string, line int) *entity.Entity {
	return entity.New(entity.TypeFunction, name, "FUNCTION_"+name, file, line, line+5)
}

func class(name, file string, line int) *entity.Entity {
	return entity.New(entity.TypeClass, name, "CLASS_"+name, file, line, line+20)
}

func newFacade(t *testing.T, source *fakeSource) *Facade {
	t.Helper()
	engine := graph.NewEngine(source)
	if _, err := engine.Build(context.Background(), ""); err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	return NewFacade(source, engine)
}

func TestFindEntity(t *testing.T) {
	source := newFakeSource()
	target := fn("handler", "app.py", 1)
	source.add(target)
	source.queryResults = []*entity.Entity{target}

	facade := newFacade(t, source)

	found, err := facade.FindEntity(context.Background(), "handler")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, target.ID, found.ID)

	source.queryResults = nil
	missing, err := facade.FindEntity(context.Background(), "no such thing")
	require.NoError(t, err)
	assert.Nil(t, missing, "no match is a nil result, not an error")
}

func TestExpandGroupsByRelation(t *testing.T) {
	source := newFakeSource()
	root := fn("root", "a.py", 1)
	callee1 := fn("callee1", "a.py", 10)
	callee2 := fn("callee2", "b.py", 1)
	deep := fn("deep", "c.py", 1)
	base := class("Base", "d.py", 1)

	root.AddRelation(entity.RelationCalls, callee1.ID)
	root.AddRelation(entity.RelationCalls, callee2.ID)
	callee1.AddRelation(entity.RelationCalls, deep.ID)
	callee1.AddRelation(entity.RelationCalls, callee2.ID) // already reached via root
	root.AddRelation(entity.RelationInherits, base.ID)

	for _, e := range []*entity.Entity{root, callee1, callee2, deep, base} {
		source.add(e)
	}

	facade := newFacade(t, source)

	oneHop, err := facade.Expand(context.Background(), root.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, oneHop)
	assert.Len(t, oneHop.Neighbors[entity.RelationCalls], 2)
	assert.Len(t, oneHop.Neighbors[entity.RelationInherits], 1)
	assert.Equal(t, 3, oneHop.Total())

	twoHop, err := facade.Expand(context.Background(), root.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, twoHop.Total(), "second hop adds only the unseen entity")
	assert.Len(t, twoHop.Neighbors[entity.RelationCalls], 3,
		"callee2 must not be reported twice")
}

func TestExpandClampsHops(t *testing.T) {
	source := newFakeSource()
	root := fn("root", "a.py", 1)
	source.add(root)

	facade := newFacade(t, source)

	result, err := facade.Expand(context.Background(), root.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, MaxExpandHops, result.Hops)

	result, err = facade.Expand(context.Background(), root.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Hops)
}

func TestExpandMissingRoot(t *testing.T) {
	facade := newFacade(t, newFakeSource())

	result, err := facade.Expand(context.Background(), "absent", 2)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestBlastRadiusCountsAndRisk(t *testing.T) {
	source := newFakeSource()
	target := fn("target", "a.py", 1)
	direct1 := fn("direct1", "b.py", 1)
	direct2 := class("Direct2", "c.py", 1)
	indirect1 := entity.New(entity.TypeMethod, "indirect1", "METHOD_X_indirect1", "d.py", 1, 5)

	direct1.AddRelation(entity.RelationCalls, target.ID)
	direct2.AddRelation(entity.RelationCalls, target.ID)
	indirect1.AddRelation(entity.RelationCalls, direct1.ID)
	target.AddRelation(entity.RelationCalls, direct1.ID) // back-edge must not loop

	for _, e := range []*entity.Entity{target, direct1, direct2, indirect1} {
		source.add(e)
	}

	facade := newFacade(t, source)

	impact, err := facade.BlastRadius(context.Background(), target.ID)
	require.NoError(t, err)
	require.NotNil(t, impact)

	assert.Len(t, impact.Direct, 2)
	require.Len(t, impact.Indirect, 1)
	assert.Equal(t, indirect1.ID, impact.Indirect[0].ID)

	assert.Equal(t, 4, impact.Files)
	assert.Equal(t, 3, impact.Functions, "functions and methods count together")
	assert.Equal(t, 1, impact.Classes)
	assert.Equal(t, RiskLow, impact.Risk)
	assert.Contains(t, impact.Summary, "4 entities")
}

func TestBlastRadiusMediumRisk(t *testing.T) {
	source := newFakeSource()
	target := fn("target", "hub.py", 1)
	source.add(target)
	for i := 0; i < 12; i++ {
		dep := fn(fmt.Sprintf("dep%02d", i), fmt.Sprintf("dep%02d.py", i), 1)
		dep.AddRelation(entity.RelationCalls, target.ID)
		source.add(dep)
	}

	facade := newFacade(t, source)

	impact, err := facade.BlastRadius(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, impact.Risk, "13 affected entities sit between the bands")
	assert.Len(t, impact.Direct, 12)
}

func TestBlastRadiusMissingTarget(t *testing.T) {
	facade := newFacade(t, newFakeSource())

	impact, err := facade.BlastRadius(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, impact)
}

func TestCriticalPaths(t *testing.T) {
	source := newFakeSource()
	a := fn("a", "a.py", 1)
	b := fn("b", "b.py", 1)
	c := fn("c", "c.py", 1)
	d := fn("d", "d.py", 1)
	a.AddRelation(entity.RelationCalls, b.ID)
	b.AddRelation(entity.RelationCalls, c.ID)
	c.AddRelation(entity.RelationCalls, d.ID)
	for _, e := range []*entity.Entity{a, b, c, d} {
		source.add(e)
	}

	facade := newFacade(t, source)

	paths := facade.CriticalPaths(context.Background(), a.ID,
		[]string{d.ID, b.ID, a.ID, "absent", b.ID}, 0)

	// a→a is trivial, "absent" unreachable, the repeated b dedupes.
	require.Len(t, paths, 2)
	assert.Len(t, paths[0], 2, "shortest path first")
	assert.Len(t, paths[1], 4)
	assert.Equal(t, b.ID, paths[0][1].ID)
	assert.Equal(t, d.ID, paths[1][3].ID)
}

func TestCriticalPathsTopN(t *testing.T) {
	source := newFakeSource()
	root := fn("root", "root.py", 1)
	source.add(root)
	var targets []string
	for i := 0; i < 8; i++ {
		leaf := fn(fmt.Sprintf("leaf%d", i), fmt.Sprintf("leaf%d.py", i), 1)
		root.AddRelation(entity.RelationCalls, leaf.ID)
		source.add(leaf)
		targets = append(targets, leaf.ID)
	}

	facade := newFacade(t, source)

	paths := facade.CriticalPaths(context.Background(), root.ID, targets, 3)
	assert.Len(t, paths, 3)
}
