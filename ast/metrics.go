// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for entity extraction.
var (
	tracer = otel.Tracer("codegraph.ast")
	meter  = otel.Meter("codegraph.ast")
)

// Metrics for extraction operations.
var (
	extractLatency    metric.Float64Histogram
	extractTotal      metric.Int64Counter
	entitiesExtracted metric.Int64Histogram
	extractFailures   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		extractLatency, err = meter.Float64Histogram(
			"codegraph_extract_duration_seconds",
			metric.WithDescription("Duration of entity extraction per file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractTotal, err = meter.Int64Counter(
			"codegraph_extract_total",
			metric.WithDescription("Total number of extraction operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entitiesExtracted, err = meter.Int64Histogram(
			"codegraph_entities_extracted",
			metric.WithDescription("Number of entities extracted per file"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractFailures, err = meter.Int64Counter(
			"codegraph_extract_failures_total",
			metric.WithDescription("Total number of files that failed extraction"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordExtractMetrics records metrics for one extraction operation.
func recordExtractMetrics(ctx context.Context, duration time.Duration, entityCount int, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("language", "python"),
		attribute.Bool("success", success),
	)

	extractLatency.Record(ctx, duration.Seconds(), attrs)
	extractTotal.Add(ctx, 1, attrs)

	if success {
		entitiesExtracted.Record(ctx, int64(entityCount),
			metric.WithAttributes(attribute.String("language", "python")),
		)
	} else {
		extractFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("language", "python")),
		)
	}
}

// startExtractSpan creates a span for an extraction operation.
func startExtractSpan(ctx context.Context, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Extractor.Extract",
		trace.WithAttributes(
			attribute.String("ast.file", filePath),
			attribute.Int("ast.content_size", contentSize),
		),
	)
}
