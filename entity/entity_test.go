// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import (
	"strings"
	"testing"
)

func TestGenerateIDDeterministic(t *testing.T) {
	a := GenerateID("pkg/app.py", "FUNCTION_main", 10)
	b := GenerateID("pkg/app.py", "FUNCTION_main", 10)
	if a != b {
		t.Errorf("same inputs produced different IDs: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("ID length = %d, want 16", len(a))
	}
}

func TestGenerateIDDistinguishesInputs(t *testing.T) {
	base := GenerateID("pkg/app.py", "FUNCTION_main", 10)

	tests := []struct {
		name string
		id   string
	}{
		{"different file", GenerateID("pkg/other.py", "FUNCTION_main", 10)},
		{"different discriminator", GenerateID("pkg/app.py", "CLASS_main", 10)},
		{"different line", GenerateID("pkg/app.py", "FUNCTION_main", 11)},
	}
	for _, tt := range tests {
		if tt.id == base {
			t.Errorf("%s: ID collision with base", tt.name)
		}
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeModule, TypeClass, TypeFunction, TypeMethod, TypeImport} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if Type("Struct").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestAddRelationDeduplicates(t *testing.T) {
	e := New(TypeFunction, "main", "FUNCTION_main", "app.py", 1, 5)

	e.AddRelation(RelationCalls, "abc123")
	e.AddRelation(RelationCalls, "abc123")
	e.AddRelation(RelationCalls, "def456")
	e.AddRelation(RelationCalls, "")

	got := e.Relations[RelationCalls]
	if len(got) != 2 {
		t.Fatalf("len(calls) = %d, want 2: %v", len(got), got)
	}
	if got[0] != "abc123" || got[1] != "def456" {
		t.Errorf("relation order not preserved: %v", got)
	}
}

func TestRelatedIDs(t *testing.T) {
	e := New(TypeClass, "Widget", "CLASS_Widget", "ui.py", 3, 40)
	e.AddRelation(RelationDefines, "m1")
	e.AddRelation(RelationDefines, "m2")
	e.AddRelation(RelationInherits, "base1")

	if got := e.RelatedIDs(RelationDefines); len(got) != 2 {
		t.Errorf("RelatedIDs(defines) = %v, want 2 entries", got)
	}
	if got := e.RelatedIDs(""); len(got) != 3 {
		t.Errorf("RelatedIDs(all) = %v, want 3 entries", got)
	}
	if got := e.RelatedIDs(RelationCalls); len(got) != 0 {
		t.Errorf("RelatedIDs(calls) = %v, want empty", got)
	}
}

func TestEmbeddingText(t *testing.T) {
	e := New(TypeFunction, "fetch", "FUNCTION_fetch", "net.py", 1, 10)
	e.Properties["docstring"] = "Fetch a URL."
	e.Properties["source_code"] = "def fetch(url):\n    return get(url)"

	text := e.EmbeddingText()
	if !strings.HasPrefix(text, "Function: fetch") {
		t.Errorf("text should start with type and name, got %q", text)
	}
	if !strings.Contains(text, "Fetch a URL.") {
		t.Error("text should include docstring")
	}
	if !strings.Contains(text, "def fetch") {
		t.Error("text should include source")
	}
}

func TestEmbeddingTextTruncatesSource(t *testing.T) {
	e := New(TypeFunction, "big", "FUNCTION_big", "big.py", 1, 500)
	e.Properties["source_code"] = strings.Repeat("x", 5000)

	text := e.EmbeddingText()
	if len(text) > maxEmbedSource+100 {
		t.Errorf("text length = %d, expected truncation near %d", len(text), maxEmbedSource)
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("truncated source should end with ellipsis")
	}
}
