// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists code entities as vector points with relations
// embedded in the point payload.
//
// The Store type implements the graph-store contract: upsert with bulk
// embedding, similarity search, O(1) neighbor lookup off a single point
// retrieval, paginated full scans, and per-file delete. The Backend
// interface isolates the concrete vector database; WeaviateBackend is
// the production implementation.
//
// When the backend is unreachable the store flips to degraded mode:
// reads return empty results, writes report zero stored, and registered
// DegradationHandlers are notified on every transition.
package store

import (
	"context"
)

// MetadataPointID is the reserved ID of the collection metadata point.
// It records the embedding dimension and model the collection was
// created with, pinning vector_size for the collection's lifetime.
const MetadataPointID = "00000000-0000-0000-0000-000000000000"

// HNSW index parameters, fixed for all collections.
const (
	// HNSWMaxConnections is the edges-per-node budget.
	HNSWMaxConnections = 16
	// HNSWEfConstruction trades build time for recall.
	HNSWEfConstruction = 100
	// HNSWFlatSearchCutoff is the point count below which brute force
	// beats the index.
	HNSWFlatSearchCutoff = 10000
)

// Point is one stored object: a vector plus its payload.
type Point struct {
	// ID is the entity ID (16 hex chars) or MetadataPointID.
	ID string

	// Vector is the embedding. May be nil on reads that skip vectors.
	Vector []float32

	// Payload carries the entity fields or, for the metadata point,
	// the collection metadata.
	Payload Payload
}

// Payload is the structured content of a point.
type Payload struct {
	Type       string              `json:"type,omitempty"`
	Name       string              `json:"name,omitempty"`
	FilePath   string              `json:"file_path,omitempty"`
	LineStart  int                 `json:"line_start,omitempty"`
	LineEnd    int                 `json:"line_end,omitempty"`
	Properties map[string]any      `json:"properties,omitempty"`
	Relations  map[string][]string `json:"relations,omitempty"`

	// Metadata point fields.
	IsMetadata bool   `json:"is_metadata,omitempty"`
	Dimension  int    `json:"dimension,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ListFilter narrows ListPoints scans. Zero-value fields match all.
type ListFilter struct {
	// Type matches the entity type payload field.
	Type string
	// FilePath matches the defining file.
	FilePath string
}

// Backend is the vector database abstraction the Store runs on.
//
// Implementations must be safe for concurrent use. All methods take a
// collection name so one backend serves multiple collections.
type Backend interface {
	// Ready reports whether the backend is reachable and serving.
	Ready(ctx context.Context) (bool, error)

	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// CreateCollection creates the collection for vectors of the given
	// dimension. A concurrent "already exists" outcome must be treated
	// as success by the implementation.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// DropCollection removes the collection and all its points.
	DropCollection(ctx context.Context, collection string) error

	// UpsertPoints inserts or replaces points by ID.
	UpsertPoints(ctx context.Context, collection string, points []Point) error

	// GetPoints retrieves points by ID. Missing IDs are silently
	// omitted from the result.
	GetPoints(ctx context.Context, collection string, ids []string) ([]Point, error)

	// SearchPoints returns up to limit points nearest to vector,
	// optionally restricted to one entity type. The metadata point is
	// never returned.
	SearchPoints(ctx context.Context, collection string, vector []float32, limit int, entityType string) ([]Point, error)

	// ListPoints returns a stable page of points matching the filter,
	// ordered by ID. The metadata point is never returned.
	ListPoints(ctx context.Context, collection string, filter ListFilter, offset, limit int) ([]Point, error)

	// DeleteByFile removes every point whose file_path matches and
	// returns the number removed.
	DeleteByFile(ctx context.Context, collection string, filePath string) (int, error)
}
