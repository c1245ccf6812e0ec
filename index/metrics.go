// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for indexing.
var (
	tracer = otel.Tracer("codegraph.index")
	meter  = otel.Meter("codegraph.index")
)

var (
	fileLatency metric.Float64Histogram
	filesTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		fileLatency, err = meter.Float64Histogram(
			"codegraph_index_file_duration_seconds",
			metric.WithDescription("End-to-end duration of indexing one file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesTotal, err = meter.Int64Counter(
			"codegraph_index_files_total",
			metric.WithDescription("Total files processed by the indexer"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordFileMetrics records metrics for one indexed file.
func recordFileMetrics(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	fileLatency.Record(ctx, duration.Seconds(), attrs)
	filesTotal.Add(ctx, 1, attrs)
}
