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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempCachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cache", "timing.json")
}

func TestTimingEstimatorDefaults(t *testing.T) {
	e := NewTimingEstimator(tempCachePath(t), nil)

	assert.Equal(t, DefaultPerFileMs, e.PerFileMs())
	assert.Equal(t, 0, e.TotalRuns())

	// 10 files at the conservative default.
	want := time.Duration(10 * DefaultPerFileMs * float64(time.Millisecond))
	assert.Equal(t, want, e.Estimate(10))
	assert.Equal(t, time.Duration(0), e.Estimate(0))
	assert.Equal(t, time.Duration(0), e.Estimate(-3))
}

func TestTimingEstimatorLearnsMean(t *testing.T) {
	e := NewTimingEstimator(tempCachePath(t), nil)

	e.Record("a.py", 5, 100*time.Millisecond)
	e.Record("b.py", 3, 300*time.Millisecond)

	assert.InDelta(t, 200.0, e.PerFileMs(), 0.01,
		"mean replaces the default once real timings arrive")
	assert.Equal(t, 400*time.Millisecond, e.Estimate(2))
}

func TestTimingEstimatorPeriodicSave(t *testing.T) {
	path := tempCachePath(t)
	e := NewTimingEstimator(path, nil)

	for i := 0; i < timingSaveInterval-1; i++ {
		e.Record("x.py", 1, 10*time.Millisecond)
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cache must not be written before the interval")

	e.Record("x.py", 1, 10*time.Millisecond)
	_, err = os.Stat(path)
	assert.NoError(t, err, "the Nth record must persist the cache")
}

func TestTimingEstimatorCompleteRunPersists(t *testing.T) {
	path := tempCachePath(t)

	e := NewTimingEstimator(path, nil)
	e.Record("a.py", 2, 50*time.Millisecond)
	e.CompleteRun()

	reloaded := NewTimingEstimator(path, nil)
	assert.Equal(t, 1, reloaded.TotalRuns())
	assert.InDelta(t, 50.0, reloaded.PerFileMs(), 0.01,
		"learned mean must survive a restart")
}

func TestTimingEstimatorReset(t *testing.T) {
	path := tempCachePath(t)

	e := NewTimingEstimator(path, nil)
	e.Record("a.py", 2, 3*time.Second)
	e.CompleteRun()
	e.Reset()

	assert.Equal(t, DefaultPerFileMs, e.PerFileMs())
	assert.Equal(t, 0, e.TotalRuns())

	reloaded := NewTimingEstimator(path, nil)
	assert.Equal(t, DefaultPerFileMs, reloaded.PerFileMs(), "reset must persist")
}

func TestTimingEstimatorCorruptCache(t *testing.T) {
	path := tempCachePath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	e := NewTimingEstimator(path, nil)
	assert.Equal(t, DefaultPerFileMs, e.PerFileMs(), "corrupt cache falls back to defaults")
}
