// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entity defines the code entity model shared by extraction,
// storage, and graph analysis.
//
// An Entity is a node in the code knowledge graph: a module, class,
// function, method, or import. Relations to other entities are embedded
// on the entity itself rather than stored as a separate edge collection,
// so a single point retrieval yields the full neighborhood.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// =============================================================================
// Entity Types
// =============================================================================

// Type classifies a code entity.
type Type string

const (
	// TypeModule is a source file as a whole.
	TypeModule Type = "Module"
	// TypeClass is a class definition.
	TypeClass Type = "Class"
	// TypeFunction is a top-level function definition.
	TypeFunction Type = "Function"
	// TypeMethod is a function defined inside a class body.
	TypeMethod Type = "Method"
	// TypeImport is an import statement.
	TypeImport Type = "Import"
)

// Valid returns true for one of the five known entity types.
func (t Type) Valid() bool {
	switch t {
	case TypeModule, TypeClass, TypeFunction, TypeMethod, TypeImport:
		return true
	}
	return false
}

// =============================================================================
// Relation Types
// =============================================================================

// Relation names a directed edge class between entities.
type Relation string

const (
	// RelationCalls links a function or method to a callee in the same file.
	RelationCalls Relation = "calls"
	// RelationImports links a module to its import entities.
	RelationImports Relation = "imports"
	// RelationInherits links a class to its base classes.
	RelationInherits Relation = "inherits"
	// RelationDefines links a class to its methods.
	RelationDefines Relation = "defines"
	// RelationDefinedBy links a method back to its defining class.
	RelationDefinedBy Relation = "defined_by"
)

// Relations lists all known relation types in a stable order.
func Relations() []Relation {
	return []Relation{
		RelationCalls,
		RelationImports,
		RelationInherits,
		RelationDefines,
		RelationDefinedBy,
	}
}

// =============================================================================
// Entity
// =============================================================================

// Entity is a node in the code knowledge graph.
//
// Entities are persisted as vector-store points with the embedding
// computed from EmbeddingText() and relations carried in the payload.
type Entity struct {
	// ID is the deterministic content-addressed identifier.
	// See GenerateID for the construction.
	ID string `json:"id"`

	// Type is one of the Type* constants.
	Type Type `json:"type"`

	// Name is the entity name (function name, class name, import path,
	// module basename).
	Name string `json:"name"`

	// FilePath is the path of the defining source file, as given to the
	// extractor.
	FilePath string `json:"file_path"`

	// LineStart is the 1-based line where the entity begins.
	LineStart int `json:"line_start"`

	// LineEnd is the 1-based line where the entity ends.
	LineEnd int `json:"line_end"`

	// Properties holds type-specific attributes: docstring, signature,
	// decorators, is_async, returns, source_code, alias, import_type,
	// level, bases, methods, class_name, size_lines, calls_unresolved.
	Properties map[string]any `json:"properties"`

	// Relations maps a relation type to resolved target entity IDs.
	// Targets that could not be resolved to an entity in the same file
	// are never recorded.
	Relations map[Relation][]string `json:"relations"`
}

// New creates an Entity with allocated property and relation maps and a
// deterministic ID derived from (filePath, discriminator, lineStart).
func New(typ Type, name, discriminator, filePath string, lineStart, lineEnd int) *Entity {
	return &Entity{
		ID:         GenerateID(filePath, discriminator, lineStart),
		Type:       typ,
		Name:       name,
		FilePath:   filePath,
		LineStart:  lineStart,
		LineEnd:    lineEnd,
		Properties: make(map[string]any),
		Relations:  make(map[Relation][]string),
	}
}

// AddRelation appends a target entity ID under the given relation type,
// skipping empty targets and exact duplicates.
func (e *Entity) AddRelation(rel Relation, targetID string) {
	if targetID == "" {
		return
	}
	for _, existing := range e.Relations[rel] {
		if existing == targetID {
			return
		}
	}
	if e.Relations == nil {
		e.Relations = make(map[Relation][]string)
	}
	e.Relations[rel] = append(e.Relations[rel], targetID)
}

// RelatedIDs returns the targets of one relation type, or all targets
// across every relation type when rel is empty. Order within a relation
// type is preserved.
func (e *Entity) RelatedIDs(rel Relation) []string {
	if rel != "" {
		return e.Relations[rel]
	}
	var all []string
	for _, r := range Relations() {
		all = append(all, e.Relations[r]...)
	}
	return all
}

// StringProperty returns a string-typed property, or "" when absent or
// of another type.
func (e *Entity) StringProperty(key string) string {
	if v, ok := e.Properties[key].(string); ok {
		return v
	}
	return ""
}

// StringSliceProperty returns a string-list property. Freshly extracted
// entities carry []string; entities deserialized from a stored payload
// carry []any, so both shapes are accepted.
func (e *Entity) StringSliceProperty(key string) []string {
	switch v := e.Properties[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// EmbeddingText builds the text representation used for the entity's
// vector embedding: type and name, then docstring, then a source
// snippet truncated to maxEmbedSource bytes.
func (e *Entity) EmbeddingText() string {
	text := fmt.Sprintf("%s: %s", e.Type, e.Name)

	if doc := e.StringProperty("docstring"); doc != "" {
		text += "\n" + doc
	}
	if src := e.StringProperty("source_code"); src != "" {
		if len(src) > maxEmbedSource {
			src = src[:maxEmbedSource] + "..."
		}
		text += "\n" + src
	}
	return text
}

// maxEmbedSource caps the source snippet included in embedding text.
const maxEmbedSource = 2000

// =============================================================================
// ID Generation
// =============================================================================

// GenerateID derives the deterministic entity ID: the first 16 hex
// characters of sha256("filepath::name::line").
//
// The name argument is a discriminator, not the display name: extractors
// pass "MODULE", "FUNCTION_<name>", "CLASS_<name>", "METHOD_<class>.<name>"
// or "IMPORT_<path>" so that same-named entities on the same line of
// different kinds never collide. Re-running extraction over unchanged
// source always reproduces the same IDs.
func GenerateID(filePath, name string, line int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s::%s::%d", filePath, name, line)))
	return hex.EncodeToString(sum[:])[:16]
}
