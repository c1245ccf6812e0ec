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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for store operations.
var (
	tracer = otel.Tracer("codegraph.store")
	meter  = otel.Meter("codegraph.store")
)

// Metrics for store operations.
var (
	opLatency     metric.Float64Histogram
	opTotal       metric.Int64Counter
	degradedTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opLatency, err = meter.Float64Histogram(
			"codegraph_store_op_duration_seconds",
			metric.WithDescription("Duration of vector store operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opTotal, err = meter.Int64Counter(
			"codegraph_store_ops_total",
			metric.WithDescription("Total number of vector store operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		degradedTotal, err = meter.Int64Counter(
			"codegraph_store_degradations_total",
			metric.WithDescription("Total number of transitions into degraded mode"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordOpMetrics records metrics for one store operation.
func recordOpMetrics(ctx context.Context, op string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", success),
	)
	opLatency.Record(ctx, duration.Seconds(), attrs)
	opTotal.Add(ctx, 1, attrs)
}

// recordDegradation counts one availability transition into degraded mode.
func recordDegradation(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	degradedTotal.Add(ctx, 1)
}
