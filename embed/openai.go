// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Default batch sizes per endpoint family. Local endpoints tolerate
// larger requests than rate-limited hosted APIs.
const (
	DefaultBatchSizeHosted = 30
	DefaultBatchSizeLocal  = 50
)

var (
	// ErrEmptyModel indicates no embedding model was configured.
	ErrEmptyModel = errors.New("embedding model must not be empty")

	// ErrInvalidDimension indicates a non-positive vector dimension.
	ErrInvalidDimension = errors.New("embedding dimension must be positive")
)

// OpenAIConfig configures an OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	// BaseURL is the API endpoint. Empty selects the OpenAI default.
	// For Ollama use "http://localhost:11434/v1".
	BaseURL string

	// APIKey authenticates requests. Local endpoints accept any value.
	APIKey string

	// Model is the embedding model identifier, e.g.
	// "text-embedding-3-small" or "nomic-embed-text".
	Model string

	// Dimension is the vector size the model produces. The collection's
	// vector_size is pinned to this value on first creation.
	Dimension int

	// BatchSize overrides the endpoint-family default when positive.
	BatchSize int
}

// Validate checks required fields.
func (c *OpenAIConfig) Validate() error {
	if c.Model == "" {
		return ErrEmptyModel
	}
	if c.Dimension <= 0 {
		return ErrInvalidDimension
	}
	return nil
}

// OpenAIProvider implements Provider against any OpenAI-compatible
// embeddings endpoint.
//
// Thread Safety: Safe for concurrent use; the underlying client is
// stateless per request.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

// NewOpenAIProvider creates a provider from config.
//
// Inputs:
//   - cfg: Endpoint, model, and dimension configuration.
//
// Outputs:
//   - *OpenAIProvider: Ready provider.
//   - error: ErrEmptyModel or ErrInvalidDimension on bad config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	batchSize := DefaultBatchSizeHosted
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
		batchSize = DefaultBatchSizeLocal
	}
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
	}, nil
}

// Embed returns the vector for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends all texts in one request and returns vectors in
// input order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	// Response order is not guaranteed by all compatible servers; the
	// Index field is.
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimension returns the configured vector size.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Model returns the embedding model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

// BatchSize returns the preferred texts-per-request count.
func (p *OpenAIProvider) BatchSize() int { return p.batchSize }

// Compile-time interface compliance check.
var _ Provider = (*OpenAIProvider)(nil)
