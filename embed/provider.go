// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed provides embedding providers and a batching pipeline
// for turning entity text into vectors.
//
// The Provider interface abstracts over OpenAI-compatible endpoints
// (OpenAI itself, Ollama, vLLM). BatchEmbedder wraps a Provider with
// order-preserving parallel batch dispatch, and Registry caches
// constructed providers process-wide so concurrent indexers share one
// client per (provider, model) pair.
package embed

import (
	"context"
	"fmt"
)

// Provider generates embedding vectors for text.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for a group of texts in one provider
	// request, in input order. len(result) == len(texts) on success.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector size this provider produces. Must be
	// stable for the provider's lifetime.
	Dimension() int

	// Model is the embedding model identifier.
	Model() string

	// BatchSize is the provider's preferred texts-per-request count,
	// used by BatchEmbedder when no explicit size is configured.
	BatchSize() int
}

// BatchError reports a failed embedding group, carrying the input index
// range so callers can identify which texts were lost.
type BatchError struct {
	// First and Last bound the failed input indices, inclusive.
	First int
	Last  int
	// Err is the underlying provider error.
	Err error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch [%d..%d] failed: %v", e.First, e.Last, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *BatchError) Unwrap() error {
	return e.Err
}
