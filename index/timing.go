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
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Timing estimator defaults.
const (
	// DefaultPerFileMs is the conservative per-file estimate used
	// before any run has recorded real timings. Extraction plus
	// embedding plus storage lands around this on a warm backend.
	DefaultPerFileMs = 1200.0

	// timingSaveInterval is how many records pass between cache writes.
	timingSaveInterval = 10
)

// timingData is the persisted shape of the cache file.
type timingData struct {
	PerFileMs         float64 `json:"per_file_ms"`
	TotalRuns         int     `json:"total_runs"`
	TotalFilesIndexed int     `json:"total_files_indexed"`
	TotalTimeMs       float64 `json:"total_time_ms"`
	LastUpdated       string  `json:"last_updated,omitempty"`
}

func defaultTimingData() timingData {
	return timingData{PerFileMs: DefaultPerFileMs}
}

// TimingEstimator predicts indexing duration from past runs.
//
// Description:
//
//	Keeps a running mean of per-file wall-clock milliseconds across
//	runs, persisted as JSON so estimates survive restarts. Estimates
//	are advisory: they feed progress reporting, never control flow.
//
// Thread Safety: Safe for concurrent use.
type TimingEstimator struct {
	cachePath string
	logger    *slog.Logger

	mu   sync.Mutex
	data timingData
}

// NewTimingEstimator loads (or initializes) the cache at cachePath.
// An unreadable or corrupt cache falls back to defaults.
func NewTimingEstimator(cachePath string, logger *slog.Logger) *TimingEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &TimingEstimator{
		cachePath: cachePath,
		logger:    logger.With(slog.String("component", "index.timing")),
		data:      defaultTimingData(),
	}
	e.load()
	return e
}

func (e *TimingEstimator) load() {
	raw, err := os.ReadFile(e.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("failed to load timing cache", slog.String("error", err.Error()))
		}
		return
	}
	var data timingData
	if err := json.Unmarshal(raw, &data); err != nil {
		e.logger.Warn("corrupt timing cache, using defaults", slog.String("error", err.Error()))
		return
	}
	if data.PerFileMs <= 0 {
		data.PerFileMs = DefaultPerFileMs
	}
	e.data = data
}

func (e *TimingEstimator) save() {
	raw, err := json.MarshalIndent(e.data, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.cachePath), 0o755); err != nil {
		e.logger.Error("failed to create timing cache dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(e.cachePath, raw, 0o644); err != nil {
		e.logger.Error("failed to save timing cache", slog.String("error", err.Error()))
	}
}

// Record folds one file's indexing time into the running mean. The
// cache is persisted every few records rather than on every call.
func (e *TimingEstimator) Record(filePath string, entityCount int, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.TotalFilesIndexed++
	e.data.TotalTimeMs += float64(elapsed) / float64(time.Millisecond)
	e.data.PerFileMs = e.data.TotalTimeMs / float64(e.data.TotalFilesIndexed)

	if e.data.TotalFilesIndexed%timingSaveInterval == 0 {
		e.save()
	}
}

// CompleteRun stamps the run counter and persists the cache.
func (e *TimingEstimator) CompleteRun() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data.TotalRuns++
	e.data.LastUpdated = time.Now().Format(time.RFC3339)
	e.save()

	e.logger.Info("timing cache updated",
		slog.Float64("per_file_ms", e.data.PerFileMs),
		slog.Int("total_files", e.data.TotalFilesIndexed))
}

// Estimate predicts how long indexing fileCount files will take.
func (e *TimingEstimator) Estimate(fileCount int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fileCount <= 0 {
		return 0
	}
	ms := e.data.PerFileMs * float64(fileCount)
	return time.Duration(ms * float64(time.Millisecond))
}

// PerFileMs returns the current per-file mean in milliseconds.
func (e *TimingEstimator) PerFileMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.PerFileMs
}

// TotalRuns returns how many complete runs fed the cache.
func (e *TimingEstimator) TotalRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.TotalRuns
}

// Reset discards learned timings and persists the defaults.
func (e *TimingEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = defaultTimingData()
	e.save()
}
