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
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelBatches is the number of embedding requests in flight
// at once. Enough to saturate a local provider without overwhelming it.
const DefaultParallelBatches = 3

// BatchEmbedderOption configures a BatchEmbedder.
type BatchEmbedderOption func(*BatchEmbedder)

// WithBatchSize overrides the provider's preferred batch size.
func WithBatchSize(n int) BatchEmbedderOption {
	return func(b *BatchEmbedder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithParallelBatches sets the number of concurrent embedding requests.
func WithParallelBatches(n int) BatchEmbedderOption {
	return func(b *BatchEmbedder) {
		if n > 0 {
			b.parallel = n
		}
	}
}

// WithBatchLogger sets the logger for batch progress.
func WithBatchLogger(logger *slog.Logger) BatchEmbedderOption {
	return func(b *BatchEmbedder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// BatchEmbedder embeds many texts by splitting them into fixed-size
// groups dispatched in parallel.
//
// Description:
//
//	Groups are dispatched with bounded concurrency and each group is one
//	provider request. Results always come back in input order: position
//	i of the output is the vector for texts[i]. Any group failure aborts
//	the whole call (fail fast) with a BatchError naming the failed index
//	range, so a partial result is never returned.
//
// Thread Safety: Safe for concurrent use.
type BatchEmbedder struct {
	provider  Provider
	batchSize int
	parallel  int
	logger    *slog.Logger
}

// NewBatchEmbedder creates a BatchEmbedder around a provider. The batch
// size defaults to the provider's preference.
func NewBatchEmbedder(provider Provider, opts ...BatchEmbedderOption) *BatchEmbedder {
	b := &BatchEmbedder{
		provider:  provider,
		batchSize: provider.BatchSize(),
		parallel:  DefaultParallelBatches,
		logger:    slog.Default(),
	}
	if b.batchSize <= 0 {
		b.batchSize = DefaultBatchSizeHosted
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EmbedTexts embeds all texts, preserving input order.
//
// Inputs:
//   - ctx: Context for cancellation, passed to every provider request.
//   - texts: Texts to embed. May be empty.
//
// Outputs:
//   - [][]float32: One vector per input text, in input order.
//   - error: *BatchError wrapping the first group failure, or nil.
//
// Thread Safety: Safe for concurrent use.
func (b *BatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Single text bypasses the batching machinery entirely.
	if len(texts) == 1 {
		vector, err := b.provider.Embed(ctx, texts[0])
		if err != nil {
			return nil, &BatchError{First: 0, Last: 0, Err: err}
		}
		return [][]float32{vector}, nil
	}

	batchCount := (len(texts) + b.batchSize - 1) / b.batchSize
	b.logger.Info("embedding texts in batches",
		slog.Int("texts", len(texts)),
		slog.Int("batches", batchCount),
		slog.Int("batch_size", b.batchSize),
		slog.Int("parallel", b.parallel))

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			batchVectors, err := b.provider.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				b.logger.Error("embedding batch failed",
					slog.Int("first", start),
					slog.Int("last", end-1),
					slog.String("error", err.Error()))
				return &BatchError{First: start, Last: end - 1, Err: err}
			}
			// Each goroutine writes a disjoint slice range.
			copy(vectors[start:end], batchVectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
