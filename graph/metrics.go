// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("codegraph.graph")
	meter  = otel.Meter("codegraph.graph")
)

// Metrics for graph builds.
var (
	buildLatency metric.Float64Histogram
	buildNodes   metric.Int64Histogram
	buildEdges   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"codegraph_graph_build_duration_seconds",
			metric.WithDescription("Duration of full graph projection builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildNodes, err = meter.Int64Histogram(
			"codegraph_graph_build_nodes",
			metric.WithDescription("Nodes per graph projection build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildEdges, err = meter.Int64Histogram(
			"codegraph_graph_build_edges",
			metric.WithDescription("Edges per graph projection build"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for one projection build.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodes, edges int) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}
	buildLatency.Record(ctx, duration.Seconds())
	buildNodes.Record(ctx, int64(nodes))
	buildEdges.Record(ctx, int64(edges))
}
