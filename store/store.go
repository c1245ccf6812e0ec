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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/AleutianAI/codegraph/embed"
	"github.com/AleutianAI/codegraph/entity"
)

// AllEntitiesPageSize is the page size for full-collection scans.
const AllEntitiesPageSize = 500

// Store persists entities in a vector collection and answers graph
// queries off the stored payloads.
//
// Description:
//
//	Store wires an embedding provider to a vector Backend. Writes embed
//	entity text in bulk and upsert one point per entity; relations ride
//	in the point payload, so a neighbor lookup is one point fetch plus
//	one batched get, no join.
//
//	When the backend becomes unreachable the store flips to degraded
//	mode: every operation returns empty/zero/false instead of an error,
//	and registered DegradationHandlers are notified. CheckAvailability
//	probes the backend and flips the store back on recovery.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	backend    Backend
	provider   embed.Provider
	embedder   *embed.BatchEmbedder
	collection string
	logger     *slog.Logger

	available atomic.Bool

	handlerMu sync.Mutex
	handlers  []DegradationHandler
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store over backend using provider for embeddings.
//
// Inputs:
//   - backend: Vector database implementation.
//   - provider: Embedding provider; its dimension pins the collection's
//     vector size.
//   - collection: Collection name. Must start with an uppercase letter
//     and contain only letters, digits and underscores.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Store: Store in the available state. Call EnsureCollection
//     before the first write.
//   - error: ErrInvalidCollection for a malformed name.
func NewStore(backend Backend, provider embed.Provider, collection string, opts ...StoreOption) (*Store, error) {
	if !validCollectionName(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}

	s := &Store{
		backend:    backend,
		provider:   provider,
		embedder:   embed.NewBatchEmbedder(provider),
		collection: collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "store"), slog.String("collection", collection))
	s.available.Store(true)
	return s, nil
}

// validCollectionName enforces the backend's class naming rules.
func validCollectionName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Collection returns the collection name this store writes to.
func (s *Store) Collection() string {
	return s.collection
}

// -----------------------------------------------------------------------------
// Availability
// -----------------------------------------------------------------------------

// IsAvailable reports whether the store is serving from the backend.
func (s *Store) IsAvailable() bool {
	return s.available.Load()
}

// RegisterHandler subscribes a handler to availability transitions.
// The handler is immediately synchronized to the current state.
func (s *Store) RegisterHandler(h DegradationHandler) {
	s.handlerMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlerMu.Unlock()

	if s.available.Load() {
		h.OnRecovered()
	} else {
		h.OnDegraded("vector store unavailable")
	}
}

// CheckAvailability probes the backend and updates the availability
// flag, notifying handlers on any transition. Returns the new state.
func (s *Store) CheckAvailability(ctx context.Context) bool {
	ready, err := s.backend.Ready(ctx)
	if err != nil || !ready {
		reason := "backend not ready"
		if err != nil {
			reason = err.Error()
		}
		s.markUnavailable(ctx, reason)
		return false
	}
	s.markAvailable()
	return true
}

// markUnavailable flips to degraded exactly once per outage.
func (s *Store) markUnavailable(ctx context.Context, reason string) {
	if !s.available.CompareAndSwap(true, false) {
		return
	}
	s.logger.Warn("vector store degraded", slog.String("reason", reason))
	recordDegradation(ctx)

	s.handlerMu.Lock()
	handlers := make([]DegradationHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerMu.Unlock()

	for _, h := range handlers {
		h.OnDegraded(reason)
	}
}

// markAvailable flips back to normal exactly once per recovery.
func (s *Store) markAvailable() {
	if !s.available.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("vector store recovered")

	s.handlerMu.Lock()
	handlers := make([]DegradationHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerMu.Unlock()

	for _, h := range handlers {
		h.OnRecovered()
	}
}

// -----------------------------------------------------------------------------
// Collection Lifecycle
// -----------------------------------------------------------------------------

// EnsureCollection creates the collection on first use and verifies the
// vector size on every subsequent use.
//
// Description:
//
//	If the collection does not exist it is created with the fixed HNSW
//	parameters and a metadata point recording the provider's dimension
//	and model. If it exists with a matching dimension this is a no-op.
//	If it exists with a different dimension the call refuses with
//	ErrDimensionMismatch unless force is set, in which case the
//	collection is dropped and recreated empty.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - force: Permit drop-and-recreate on dimension mismatch.
//
// Outputs:
//   - bool: True if the collection is usable. False with a nil error
//     means the store is degraded.
//   - error: ErrDimensionMismatch when the stored vector size differs
//     and force is false. Never set for plain unavailability.
func (s *Store) EnsureCollection(ctx context.Context, force bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.EnsureCollection")
	defer span.End()
	start := time.Now()

	if !s.CheckAvailability(ctx) {
		recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
		return false, nil
	}

	exists, err := s.backend.CollectionExists(ctx, s.collection)
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
		return false, nil
	}

	dimension := s.provider.Dimension()
	if exists {
		stored, err := s.storedDimension(ctx)
		if err != nil {
			s.markUnavailable(ctx, err.Error())
			recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
			return false, nil
		}

		switch {
		case stored == 0:
			// Pre-existing collection without a metadata point: stamp it.
			if err := s.writeMetadataPoint(ctx, dimension); err != nil {
				s.markUnavailable(ctx, err.Error())
				recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
				return false, nil
			}
			recordOpMetrics(ctx, "ensure_collection", time.Since(start), true)
			return true, nil

		case stored == dimension:
			recordOpMetrics(ctx, "ensure_collection", time.Since(start), true)
			return true, nil

		case !force:
			recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
			return false, fmt.Errorf("%w: collection %s has %d, provider %s produces %d",
				ErrDimensionMismatch, s.collection, stored, s.provider.Model(), dimension)

		default:
			s.logger.Warn("recreating collection with new vector size",
				slog.Int("old_dimension", stored),
				slog.Int("new_dimension", dimension))
			if err := s.backend.DropCollection(ctx, s.collection); err != nil {
				s.markUnavailable(ctx, err.Error())
				recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
				return false, nil
			}
		}
	}

	if err := s.backend.CreateCollection(ctx, s.collection, dimension); err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
		return false, nil
	}
	if err := s.writeMetadataPoint(ctx, dimension); err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "ensure_collection", time.Since(start), false)
		return false, nil
	}

	recordOpMetrics(ctx, "ensure_collection", time.Since(start), true)
	return true, nil
}

// storedDimension reads the dimension off the metadata point.
// Returns 0 when the collection has no metadata point.
func (s *Store) storedDimension(ctx context.Context) (int, error) {
	points, err := s.backend.GetPoints(ctx, s.collection, []string{MetadataPointID})
	if err != nil {
		return 0, fmt.Errorf("reading collection metadata: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}
	return points[0].Payload.Dimension, nil
}

// writeMetadataPoint stamps the collection with the provider's
// dimension and model. The vector is all zeros; the point only exists
// so the dimension survives restarts.
func (s *Store) writeMetadataPoint(ctx context.Context, dimension int) error {
	point := Point{
		ID:     MetadataPointID,
		Vector: make([]float32, dimension),
		Payload: Payload{
			IsMetadata: true,
			Dimension:  dimension,
			Model:      s.provider.Model(),
		},
	}
	if err := s.backend.UpsertPoints(ctx, s.collection, []Point{point}); err != nil {
		return fmt.Errorf("writing collection metadata: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// StoreEntities embeds and upserts entities in bulk.
//
// Description:
//
//	Embedding texts are built from each entity (type, name, docstring,
//	truncated source) and embedded through the BatchEmbedder; one point
//	per entity is then upserted with relations in the payload.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - entities: Entities to persist. Empty input is a no-op.
//
// Outputs:
//   - int: Number of entities stored. Zero when degraded.
//   - error: A BatchError if embedding fails; the upsert is not
//     attempted and nothing is stored. Backend failures degrade
//     silently instead of erroring.
func (s *Store) StoreEntities(ctx context.Context, entities []*entity.Entity) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.StoreEntities")
	defer span.End()
	start := time.Now()

	if len(entities) == 0 {
		return 0, nil
	}
	if !s.available.Load() {
		return 0, nil
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = e.EmbeddingText()
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		recordOpMetrics(ctx, "store_entities", time.Since(start), false)
		return 0, fmt.Errorf("embedding %d entities: %w", len(entities), err)
	}

	points := make([]Point, len(entities))
	for i, e := range entities {
		points[i] = pointFromEntity(e, vectors[i])
	}

	if err := s.backend.UpsertPoints(ctx, s.collection, points); err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "store_entities", time.Since(start), false)
		return 0, nil
	}

	s.logger.Debug("stored entities", slog.Int("count", len(entities)))
	recordOpMetrics(ctx, "store_entities", time.Since(start), true)
	return len(entities), nil
}

// DeleteByFile removes every entity defined in the given file.
//
// Outputs:
//   - int: Number of points removed. Zero when degraded.
//   - error: Always nil today; reserved for non-availability failures.
func (s *Store) DeleteByFile(ctx context.Context, filePath string) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteByFile")
	defer span.End()
	start := time.Now()

	if !s.available.Load() {
		return 0, nil
	}

	count, err := s.backend.DeleteByFile(ctx, s.collection, filePath)
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "delete_by_file", time.Since(start), false)
		return 0, nil
	}

	recordOpMetrics(ctx, "delete_by_file", time.Since(start), true)
	return count, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// GetEntity retrieves one entity by ID. A missing entity is (nil, nil).
func (s *Store) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Store.GetEntity")
	defer span.End()

	if !s.available.Load() {
		return nil, nil
	}

	points, err := s.backend.GetPoints(ctx, s.collection, []string{id})
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		return nil, nil
	}
	if len(points) == 0 || points[0].Payload.IsMetadata {
		return nil, nil
	}
	return entityFromPoint(points[0]), nil
}

// QueryEntities returns the entities most similar to a text query.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - query: Free text, embedded with the store's provider.
//   - limit: Maximum results; non-positive selects 10.
//   - typeFilter: Restrict to one entity type. Empty matches all.
//
// Outputs:
//   - []*entity.Entity: Best match first. Empty when degraded.
//   - error: Non-nil only if embedding the query fails.
func (s *Store) QueryEntities(ctx context.Context, query string, limit int, typeFilter entity.Type) ([]*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Store.QueryEntities")
	defer span.End()
	start := time.Now()

	if !s.available.Load() {
		return nil, nil
	}

	vector, err := s.provider.Embed(ctx, query)
	if err != nil {
		recordOpMetrics(ctx, "query_entities", time.Since(start), false)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := s.backend.SearchPoints(ctx, s.collection, vector, limit, string(typeFilter))
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		recordOpMetrics(ctx, "query_entities", time.Since(start), false)
		return nil, nil
	}

	recordOpMetrics(ctx, "query_entities", time.Since(start), true)
	return entitiesFromPoints(points), nil
}

// QueryNeighbors returns entities one edge away from id.
//
// Description:
//
//	Neighbors come straight off the retrieved point's relations, so
//	this is one point fetch plus one batched get regardless of graph
//	size. Targets that no longer exist are silently omitted.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - id: Source entity ID.
//   - relation: Restrict to one relation. Empty matches all relations.
//   - limit: Maximum neighbors; non-positive means no cap.
//
// Outputs:
//   - []*entity.Entity: Neighbors in stored relation order.
//   - error: Always nil today; degradation returns empty.
func (s *Store) QueryNeighbors(ctx context.Context, id string, relation entity.Relation, limit int) ([]*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Store.QueryNeighbors")
	defer span.End()

	if !s.available.Load() {
		return nil, nil
	}

	points, err := s.backend.GetPoints(ctx, s.collection, []string{id})
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		return nil, nil
	}
	if len(points) == 0 {
		return nil, nil
	}

	source := entityFromPoint(points[0])
	targetIDs := source.RelatedIDs(relation)
	if limit > 0 && len(targetIDs) > limit {
		targetIDs = targetIDs[:limit]
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	neighborPoints, err := s.backend.GetPoints(ctx, s.collection, targetIDs)
	if err != nil {
		s.markUnavailable(ctx, err.Error())
		return nil, nil
	}

	// Restore the stored relation order; GetPoints order is undefined.
	byID := make(map[string]Point, len(neighborPoints))
	for _, p := range neighborPoints {
		byID[p.ID] = p
	}
	neighbors := make([]*entity.Entity, 0, len(targetIDs))
	for _, targetID := range targetIDs {
		if p, ok := byID[targetID]; ok && !p.Payload.IsMetadata {
			neighbors = append(neighbors, entityFromPoint(p))
		}
	}
	return neighbors, nil
}

// AllEntities scans the whole collection page by page.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - typeFilter: Restrict to one entity type. Empty matches all.
//
// Outputs:
//   - []*entity.Entity: Every stored entity. Empty when degraded.
//   - error: Always nil today; degradation returns empty.
//
// Limitations:
//   - Materializes the full result. Intended for graph snapshot builds,
//     not ad-hoc queries.
func (s *Store) AllEntities(ctx context.Context, typeFilter entity.Type) ([]*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Store.AllEntities")
	defer span.End()

	return s.scan(ctx, ListFilter{Type: string(typeFilter)})
}

// EntitiesByFile returns every entity defined in the given file.
func (s *Store) EntitiesByFile(ctx context.Context, filePath string) ([]*entity.Entity, error) {
	ctx, span := tracer.Start(ctx, "Store.EntitiesByFile")
	defer span.End()

	return s.scan(ctx, ListFilter{FilePath: filePath})
}

// scan pages through ListPoints until a short page.
func (s *Store) scan(ctx context.Context, filter ListFilter) ([]*entity.Entity, error) {
	if !s.available.Load() {
		return nil, nil
	}

	var entities []*entity.Entity
	for offset := 0; ; offset += AllEntitiesPageSize {
		if err := ctx.Err(); err != nil {
			return entities, err
		}

		points, err := s.backend.ListPoints(ctx, s.collection, filter, offset, AllEntitiesPageSize)
		if err != nil {
			s.markUnavailable(ctx, err.Error())
			return nil, nil
		}
		entities = append(entities, entitiesFromPoints(points)...)

		if len(points) < AllEntitiesPageSize {
			return entities, nil
		}
	}
}

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

// pointFromEntity converts an entity to its stored point.
func pointFromEntity(e *entity.Entity, vector []float32) Point {
	relations := make(map[string][]string, len(e.Relations))
	for rel, targets := range e.Relations {
		relations[string(rel)] = targets
	}
	return Point{
		ID:     e.ID,
		Vector: vector,
		Payload: Payload{
			Type:       string(e.Type),
			Name:       e.Name,
			FilePath:   e.FilePath,
			LineStart:  e.LineStart,
			LineEnd:    e.LineEnd,
			Properties: e.Properties,
			Relations:  relations,
		},
	}
}

// entityFromPoint converts a stored point back to an entity.
func entityFromPoint(p Point) *entity.Entity {
	relations := make(map[entity.Relation][]string, len(p.Payload.Relations))
	for rel, targets := range p.Payload.Relations {
		relations[entity.Relation(rel)] = targets
	}
	return &entity.Entity{
		ID:         p.ID,
		Type:       entity.Type(p.Payload.Type),
		Name:       p.Payload.Name,
		FilePath:   p.Payload.FilePath,
		LineStart:  p.Payload.LineStart,
		LineEnd:    p.Payload.LineEnd,
		Properties: p.Payload.Properties,
		Relations:  relations,
	}
}

// entitiesFromPoints converts points, dropping any metadata point.
func entitiesFromPoints(points []Point) []*entity.Entity {
	entities := make([]*entity.Entity, 0, len(points))
	for _, p := range points {
		if p.Payload.IsMetadata {
			continue
		}
		entities = append(entities, entityFromPoint(p))
	}
	return entities
}
