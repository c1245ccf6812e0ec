// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/entity"
)

// fakeBackend is an in-memory Backend. Setting down makes every call
// fail the way an unreachable instance would.
type fakeBackend struct {
	mu          sync.Mutex
	down        bool
	collections map[string]int
	points      map[string]Point
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		collections: make(map[string]int),
		points:      make(map[string]Point),
	}
}

func (f *fakeBackend) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeBackend) err() error {
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBackend) Ready(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, f.err()
	}
	return true, nil
}

func (f *fakeBackend) CollectionExists(ctx context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return false, err
	}
	_, ok := f.collections[collection]
	return ok, nil
}

func (f *fakeBackend) CreateCollection(ctx context.Context, collection string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	f.collections[collection] = dimension
	return nil
}

func (f *fakeBackend) DropCollection(ctx context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	delete(f.collections, collection)
	f.points = make(map[string]Point)
	return nil
}

func (f *fakeBackend) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeBackend) GetPoints(ctx context.Context, collection string, ids []string) ([]Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var result []Point
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (f *fakeBackend) SearchPoints(ctx context.Context, collection string, vector []float32, limit int, entityType string) ([]Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var result []Point
	for _, id := range f.sortedIDs() {
		p := f.points[id]
		if p.Payload.IsMetadata {
			continue
		}
		if entityType != "" && p.Payload.Type != entityType {
			continue
		}
		result = append(result, p)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (f *fakeBackend) ListPoints(ctx context.Context, collection string, filter ListFilter, offset, limit int) ([]Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var matching []Point
	for _, id := range f.sortedIDs() {
		p := f.points[id]
		if p.Payload.IsMetadata {
			continue
		}
		if filter.Type != "" && p.Payload.Type != filter.Type {
			continue
		}
		if filter.FilePath != "" && p.Payload.FilePath != filter.FilePath {
			continue
		}
		matching = append(matching, p)
	}
	if offset >= len(matching) {
		return nil, nil
	}
	matching = matching[offset:]
	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func (f *fakeBackend) DeleteByFile(ctx context.Context, collection string, filePath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return 0, err
	}
	count := 0
	for id, p := range f.points {
		if p.Payload.FilePath == filePath {
			delete(f.points, id)
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) sortedIDs() []string {
	ids := make([]string, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// staticProvider embeds everything to the same vector.
type staticProvider struct {
	dimension int
}

func (p *staticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)
	vec[0] = 1
	return vec, nil
}

func (p *staticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i], _ = p.Embed(ctx, texts[i])
	}
	return vectors, nil
}

func (p *staticProvider) Dimension() int { return p.dimension }
func (p *staticProvider) Model() string  { return "static-model" }
func (p *staticProvider) BatchSize() int { return 10 }

func newTestStore(t *testing.T, backend *fakeBackend, dimension int) *Store {
	t.Helper()
	s, err := NewStore(backend, &staticProvider{dimension: dimension}, "CodeEntity")
	require.NoError(t, err)
	return s
}

func testEntity(name, filePath string, line int) *entity.Entity {
	return entity.New(entity.TypeFunction, name, "FUNCTION_"+name, filePath, line, line+5)
}

func TestNewStoreRejectsInvalidCollection(t *testing.T) {
	backend := newFakeBackend()
	provider := &staticProvider{dimension: 4}

	for _, name := range []string{"", "lowercase", "Has Space", "Bad-Dash"} {
		_, err := NewStore(backend, provider, name)
		assert.ErrorIs(t, err, ErrInvalidCollection, "name %q", name)
	}

	_, err := NewStore(backend, provider, "Code_Entity2")
	assert.NoError(t, err)
}

func TestEnsureCollectionCreatesWithMetadata(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)

	ok, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, ok)

	meta, ok := backend.points[MetadataPointID]
	require.True(t, ok, "metadata point must be written")
	assert.True(t, meta.Payload.IsMetadata)
	assert.Equal(t, 4, meta.Payload.Dimension)
	assert.Equal(t, "static-model", meta.Payload.Model)
	assert.Len(t, meta.Vector, 4)

	// Second call is a no-op.
	ok, err = s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	backend := newFakeBackend()

	// Collection created by a provider with dimension 8.
	old := newTestStore(t, backend, 8)
	ok, err := old.EnsureCollection(context.Background(), false)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = old.StoreEntities(context.Background(), []*entity.Entity{
		testEntity("survivor", "app.py", 1),
	})
	require.NoError(t, err)

	// A provider with dimension 4 must be refused without force.
	s := newTestStore(t, backend, 4)
	ok, err = s.EnsureCollection(context.Background(), false)
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Len(t, backend.points, 2, "refusal must not touch the collection")

	// Force drops and recreates empty.
	ok, err = s.EnsureCollection(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, backend.points[MetadataPointID].Payload.Dimension)
	assert.Len(t, backend.points, 1, "only the fresh metadata point remains")
}

func TestStoreEntitiesRoundtrip(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	caller := testEntity("caller", "app.py", 10)
	callee := testEntity("callee", "app.py", 30)
	caller.AddRelation(entity.RelationCalls, callee.ID)
	caller.Properties["docstring"] = "Dispatches work."

	count, err := s.StoreEntities(context.Background(), []*entity.Entity{caller, callee})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := s.GetEntity(context.Background(), caller.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, caller.Name, got.Name)
	assert.Equal(t, entity.TypeFunction, got.Type)
	assert.Equal(t, "app.py", got.FilePath)
	assert.Equal(t, "Dispatches work.", got.Properties["docstring"])
	assert.Equal(t, []string{callee.ID}, got.Relations[entity.RelationCalls])

	missing, err := s.GetEntity(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueryNeighborsOrderAndLimit(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	source := testEntity("source", "app.py", 1)
	first := testEntity("first", "app.py", 20)
	second := testEntity("second", "app.py", 40)
	source.AddRelation(entity.RelationCalls, first.ID)
	source.AddRelation(entity.RelationCalls, second.ID)
	source.AddRelation(entity.RelationDefinedBy, "dangling-target")

	_, err = s.StoreEntities(context.Background(), []*entity.Entity{source, first, second})
	require.NoError(t, err)

	neighbors, err := s.QueryNeighbors(context.Background(), source.ID, entity.RelationCalls, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "first", neighbors[0].Name, "stored relation order must be preserved")
	assert.Equal(t, "second", neighbors[1].Name)

	limited, err := s.QueryNeighbors(context.Background(), source.ID, entity.RelationCalls, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "first", limited[0].Name)

	// Empty relation spans all relations; the unresolvable target is
	// silently omitted.
	all, err := s.QueryNeighbors(context.Background(), source.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScansExcludeMetadataAndPaginate(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	// Seed more than one page directly in the backend.
	total := AllEntitiesPageSize + 37
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("%016x", i)
		filePath := "a.py"
		if i%2 == 0 {
			filePath = "b.py"
		}
		backend.points[id] = Point{
			ID:     id,
			Vector: []float32{1, 0, 0, 0},
			Payload: Payload{
				Type:     string(entity.TypeFunction),
				Name:     fmt.Sprintf("fn_%d", i),
				FilePath: filePath,
			},
		}
	}

	all, err := s.AllEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, total, "metadata point must not appear in scans")
	for _, e := range all {
		assert.NotEqual(t, MetadataPointID, e.ID)
	}

	byFile, err := s.EntitiesByFile(context.Background(), "a.py")
	require.NoError(t, err)
	assert.Len(t, byFile, total/2)

	typed, err := s.AllEntities(context.Background(), entity.TypeClass)
	require.NoError(t, err)
	assert.Empty(t, typed)
}

func TestDeleteByFile(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	_, err = s.StoreEntities(context.Background(), []*entity.Entity{
		testEntity("keep", "keep.py", 1),
		testEntity("gone_a", "gone.py", 1),
		testEntity("gone_b", "gone.py", 10),
	})
	require.NoError(t, err)

	count, err := s.DeleteByFile(context.Background(), "gone.py")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := s.EntitiesByFile(context.Background(), "keep.py")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDegradationAndRecovery(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	handler := NewBaseDegradationHandler("graph-engine", nil)
	s.RegisterHandler(handler)
	assert.False(t, handler.IsDegraded(), "registration syncs to the available state")

	seeded := testEntity("seeded", "app.py", 1)
	_, err = s.StoreEntities(context.Background(), []*entity.Entity{seeded})
	require.NoError(t, err)

	backend.setDown(true)

	// First failing call flips the flag; no operation errors.
	got, err := s.GetEntity(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, s.IsAvailable())
	assert.True(t, handler.IsDegraded())

	count, err := s.StoreEntities(context.Background(), []*entity.Entity{testEntity("late", "app.py", 50)})
	require.NoError(t, err)
	assert.Zero(t, count)

	results, err := s.QueryEntities(context.Background(), "anything", 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	all, err := s.AllEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)

	deleted, err := s.DeleteByFile(context.Background(), "app.py")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Late registration sees the degraded state immediately.
	late := NewBaseDegradationHandler("explorer", nil)
	s.RegisterHandler(late)
	assert.True(t, late.IsDegraded())

	// Recovery restores both the store and the handlers.
	backend.setDown(false)
	assert.True(t, s.CheckAvailability(context.Background()))
	assert.True(t, s.IsAvailable())
	assert.False(t, handler.IsDegraded())
	assert.False(t, late.IsDegraded())

	got, err = s.GetEntity(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "seeded", got.Name)
}

func TestQueryEntitiesTypeFilter(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 4)
	_, err := s.EnsureCollection(context.Background(), false)
	require.NoError(t, err)

	fn := testEntity("a_function", "app.py", 1)
	cls := entity.New(entity.TypeClass, "AClass", "CLASS_AClass", "app.py", 20, 60)
	_, err = s.StoreEntities(context.Background(), []*entity.Entity{fn, cls})
	require.NoError(t, err)

	classes, err := s.QueryEntities(context.Background(), "anything", 10, entity.TypeClass)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "AClass", classes[0].Name)
}
