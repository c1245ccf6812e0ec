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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// -----------------------------------------------------------------------------
// Client Construction
// -----------------------------------------------------------------------------

// WeaviateBackend implements Backend on a Weaviate instance.
//
// Entity points map to objects of a per-collection class. Relations and
// free-form properties travel as JSON text fields so a point read is a
// single object fetch with no joins. Object UUIDs are derived
// deterministically from entity IDs, making upserts idempotent.
//
// Thread Safety: Safe for concurrent use; the underlying client is.
type WeaviateBackend struct {
	client *weaviate.Client
	logger *slog.Logger
}

var _ Backend = (*WeaviateBackend)(nil)

// NewWeaviateBackend connects to the Weaviate instance at url.
//
// Inputs:
//   - url: Instance URL, e.g. "http://localhost:8080". A missing scheme
//     defaults to http.
//   - logger: Destination for backend logs. Nil selects slog.Default().
//
// Outputs:
//   - *WeaviateBackend: Ready-to-use backend. Connectivity is not
//     verified here; call Ready.
//   - error: Non-nil if the URL is malformed.
func NewWeaviateBackend(url string, logger *slog.Logger) (*WeaviateBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scheme := "http"
	host := url
	if after, ok := strings.CutPrefix(url, "https://"); ok {
		scheme = "https"
		host = after
	} else if after, ok := strings.CutPrefix(url, "http://"); ok {
		host = after
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", url)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}

	return &WeaviateBackend{client: client, logger: logger}, nil
}

// Ready reports whether the instance answers its readiness check.
func (b *WeaviateBackend) Ready(ctx context.Context) (bool, error) {
	ready, err := b.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return false, fmt.Errorf("readiness check: %w", err)
	}
	return ready, nil
}

// -----------------------------------------------------------------------------
// Schema
// -----------------------------------------------------------------------------

// collectionSchema builds the class definition for one collection.
// Vectorizer is "none": vectors are computed by the embedding provider
// and supplied on upsert.
func collectionSchema(collection string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       collection,
		Description: "Code entities with relations embedded in the payload",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance":         "cosine",
			"maxConnections":   HNSWMaxConnections,
			"efConstruction":   HNSWEfConstruction,
			"flatSearchCutoff": HNSWFlatSearchCutoff,
		},
		Properties: []*models.Property{
			{
				Name:            "entity_id",
				DataType:        []string{"text"},
				Description:     "Deterministic entity ID (16 hex chars) or the metadata sentinel",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "entity_type",
				DataType:        []string{"text"},
				Description:     "Entity type: module, class, function, method, import",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "name",
				DataType:     []string{"text"},
				Description:  "Entity name, methods qualified as Class.method",
				Tokenization: "word",
			},
			{
				Name:            "file_path",
				DataType:        []string{"text"},
				Description:     "Path of the defining source file",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "line_start",
				DataType:    []string{"int"},
				Description: "First line of the definition (1-based)",
			},
			{
				Name:        "line_end",
				DataType:    []string{"int"},
				Description: "Last line of the definition",
			},
			{
				Name:         "properties_json",
				DataType:     []string{"text"},
				Description:  "Free-form entity properties as a JSON object",
				Tokenization: "word",
			},
			{
				Name:         "relations_json",
				DataType:     []string{"text"},
				Description:  "Outgoing relations as JSON: relation name to target entity IDs",
				Tokenization: "word",
			},
			{
				Name:            "is_metadata",
				DataType:        []string{"boolean"},
				Description:     "True only for the collection metadata point",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "dimension",
				DataType:    []string{"int"},
				Description: "Embedding dimension, set on the metadata point",
			},
			{
				Name:         "model",
				DataType:     []string{"text"},
				Description:  "Embedding model, set on the metadata point",
				Tokenization: "field",
			},
		},
	}
}

// CollectionExists reports whether the class exists.
func (b *WeaviateBackend) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := b.client.Schema().ClassExistenceChecker().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("checking class %s: %w", collection, err)
	}
	return exists, nil
}

// CreateCollection creates the class. A concurrent creator winning the
// race is treated as success.
func (b *WeaviateBackend) CreateCollection(ctx context.Context, collection string, dimension int) error {
	err := b.client.Schema().ClassCreator().
		WithClass(collectionSchema(collection)).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			b.logger.Debug("class already exists", slog.String("collection", collection))
			return nil
		}
		return fmt.Errorf("creating class %s: %w", collection, err)
	}

	b.logger.Info("created collection",
		slog.String("collection", collection),
		slog.Int("dimension", dimension))
	return nil
}

// DropCollection removes the class and every object in it.
func (b *WeaviateBackend) DropCollection(ctx context.Context, collection string) error {
	err := b.client.Schema().ClassDeleter().
		WithClassName(collection).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting class %s: %w", collection, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// objectUUID derives the stable Weaviate object UUID for an entity ID.
// The metadata point gets the nil UUID so it can never collide with a
// derived one.
func objectUUID(entityID string) string {
	if entityID == MetadataPointID {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(entityID)).String()
}

// UpsertPoints inserts or replaces points in one batch call.
func (b *WeaviateBackend) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(points))
	for _, point := range points {
		properties, err := pointProperties(point)
		if err != nil {
			return fmt.Errorf("encoding point %s: %w", point.ID, err)
		}
		objects = append(objects, &models.Object{
			Class:      collection,
			ID:         strfmt.UUID(objectUUID(point.ID)),
			Properties: properties,
			Vector:     models.C11yVector(point.Vector),
		})
	}

	result, err := b.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// pointProperties flattens a point into the class property map.
// Properties and relations are carried as JSON text.
func pointProperties(point Point) (map[string]interface{}, error) {
	propertiesJSON, err := json.Marshal(point.Payload.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshaling properties: %w", err)
	}
	relationsJSON, err := json.Marshal(point.Payload.Relations)
	if err != nil {
		return nil, fmt.Errorf("marshaling relations: %w", err)
	}

	return map[string]interface{}{
		"entity_id":       point.ID,
		"entity_type":     point.Payload.Type,
		"name":            point.Payload.Name,
		"file_path":       point.Payload.FilePath,
		"line_start":      point.Payload.LineStart,
		"line_end":        point.Payload.LineEnd,
		"properties_json": string(propertiesJSON),
		"relations_json":  string(relationsJSON),
		"is_metadata":     point.Payload.IsMetadata,
		"dimension":       point.Payload.Dimension,
		"model":           point.Payload.Model,
	}, nil
}

// DeleteByFile removes every object whose file_path matches and returns
// the number deleted.
func (b *WeaviateBackend) DeleteByFile(ctx context.Context, collection string, filePath string) (int, error) {
	where := filters.Where().
		WithPath([]string{"file_path"}).
		WithOperator(filters.Equal).
		WithValueText(filePath)

	resp, err := b.client.Batch().ObjectsBatchDeleter().
		WithClassName(collection).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch delete for %s: %w", filePath, err)
	}

	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// pointFields is the GraphQL field list for point reads.
var pointFields = []graphql.Field{
	{Name: "entity_id"},
	{Name: "entity_type"},
	{Name: "name"},
	{Name: "file_path"},
	{Name: "line_start"},
	{Name: "line_end"},
	{Name: "properties_json"},
	{Name: "relations_json"},
	{Name: "is_metadata"},
	{Name: "dimension"},
	{Name: "model"},
}

// GetPoints retrieves points by entity ID. IDs with no stored point are
// silently omitted; the order of the result is not defined.
func (b *WeaviateBackend) GetPoints(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	where := filters.Where().
		WithPath([]string{"entity_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)

	result, err := b.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(pointFields...).
		WithWhere(where).
		WithLimit(len(ids)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching points: %w", err)
	}

	return b.parsePoints(result, collection)
}

// SearchPoints returns the points nearest to vector, best match first.
// The metadata point is filtered out server-side.
func (b *WeaviateBackend) SearchPoints(ctx context.Context, collection string, vector []float32, limit int, entityType string) ([]Point, error) {
	if limit <= 0 {
		limit = 10
	}

	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"is_metadata"}).
			WithOperator(filters.Equal).
			WithValueBoolean(false),
	}
	if entityType != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"entity_type"}).
			WithOperator(filters.Equal).
			WithValueString(entityType))
	}
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)

	nearVector := b.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := b.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(pointFields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return b.parsePoints(result, collection)
}

// ListPoints returns a stable page ordered by entity_id ascending.
func (b *WeaviateBackend) ListPoints(ctx context.Context, collection string, filter ListFilter, offset, limit int) ([]Point, error) {
	if limit <= 0 {
		return nil, nil
	}

	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"is_metadata"}).
			WithOperator(filters.Equal).
			WithValueBoolean(false),
	}
	if filter.Type != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"entity_type"}).
			WithOperator(filters.Equal).
			WithValueString(filter.Type))
	}
	if filter.FilePath != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"file_path"}).
			WithOperator(filters.Equal).
			WithValueString(filter.FilePath))
	}
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)

	sortBy := graphql.Sort{
		Path:  []string{"entity_id"},
		Order: graphql.Asc,
	}

	result, err := b.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(pointFields...).
		WithWhere(where).
		WithSort(sortBy).
		WithOffset(offset).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing points: %w", err)
	}

	return b.parsePoints(result, collection)
}

// -----------------------------------------------------------------------------
// Result Parsing
// -----------------------------------------------------------------------------

// parsePoints converts a GraphQL Get response into points.
func (b *WeaviateBackend) parsePoints(result *models.GraphQLResponse, collection string) ([]Point, error) {
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Point{}, nil
	}
	objects, ok := data[collection].([]interface{})
	if !ok {
		return []Point{}, nil
	}

	points := make([]Point, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}

		point := Point{
			ID: getString(m, "entity_id"),
			Payload: Payload{
				Type:       getString(m, "entity_type"),
				Name:       getString(m, "name"),
				FilePath:   getString(m, "file_path"),
				LineStart:  getInt(m, "line_start"),
				LineEnd:    getInt(m, "line_end"),
				IsMetadata: getBool(m, "is_metadata"),
				Dimension:  getInt(m, "dimension"),
				Model:      getString(m, "model"),
			},
		}

		if raw := getString(m, "properties_json"); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &point.Payload.Properties); err != nil {
				b.logger.Warn("skipping point with malformed properties",
					slog.String("entity_id", point.ID),
					slog.String("error", err.Error()))
				continue
			}
		}
		if raw := getString(m, "relations_json"); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &point.Payload.Relations); err != nil {
				b.logger.Warn("skipping point with malformed relations",
					slog.String("entity_id", point.ID),
					slog.String("error", err.Error()))
				continue
			}
		}

		points = append(points, point)
	}

	return points, nil
}

// getString safely extracts a string from a result map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getInt extracts an int; GraphQL numbers decode as float64.
func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}

// getBool safely extracts a bool from a result map.
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
