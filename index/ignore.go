// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index walks source trees, extracts entities, and keeps the
// store current: bulk indexing with a concurrent and a sequential
// strategy, incremental file updates, filesystem watching, and timing
// estimation.
package index

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultForceInclude lists directory names indexed even when the
// ignore rules exclude them. Tooling state directories carry entities
// worth querying.
var DefaultForceInclude = []string{".ce", ".claude", ".qwen"}

// IgnoreFilter applies gitignore-style rules rooted at one directory.
//
// Description:
//
//	Patterns come from the root's .gitignore, one per line, comments
//	and blanks skipped, trailing slashes trimmed. A pattern matches a
//	path when any path component equals it or when the relative path
//	starts with it. Force-included directory names override every
//	pattern.
//
// Thread Safety: Safe for concurrent use after construction.
type IgnoreFilter struct {
	root         string
	patterns     []string
	forceInclude map[string]bool
	logger       *slog.Logger
}

// IgnoreOption configures an IgnoreFilter.
type IgnoreOption func(*IgnoreFilter)

// WithForceInclude replaces the default force-include directory names.
func WithForceInclude(names ...string) IgnoreOption {
	return func(f *IgnoreFilter) {
		f.forceInclude = make(map[string]bool, len(names))
		for _, n := range names {
			f.forceInclude[n] = true
		}
	}
}

// WithIgnoreLogger sets the logger.
func WithIgnoreLogger(logger *slog.Logger) IgnoreOption {
	return func(f *IgnoreFilter) {
		f.logger = logger
	}
}

// NewIgnoreFilter loads ignore rules for the given root directory.
// A missing or unreadable .gitignore yields a filter that ignores
// nothing.
func NewIgnoreFilter(root string, opts ...IgnoreOption) *IgnoreFilter {
	f := &IgnoreFilter{
		root:         root,
		forceInclude: make(map[string]bool, len(DefaultForceInclude)),
		logger:       slog.Default(),
	}
	for _, n := range DefaultForceInclude {
		f.forceInclude[n] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "index.ignore"))

	f.patterns = loadGitignore(filepath.Join(root, ".gitignore"), f.logger)
	return f
}

// loadGitignore reads one pattern per line, skipping comments and
// blanks and trimming trailing slashes.
func loadGitignore(path string, logger *slog.Logger) []string {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to load .gitignore", slog.String("error", err.Error()))
		}
		return nil
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read .gitignore", slog.String("error", err.Error()))
	}
	return patterns
}

// ShouldIgnore reports whether the path is excluded. The path may be
// absolute (it is made relative to the root) or already relative.
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		if r, err := filepath.Rel(f.root, path); err == nil {
			rel = r
		}
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	// Force-include wins over every pattern.
	for _, part := range parts {
		if f.forceInclude[part] {
			return false
		}
	}

	for _, pattern := range f.patterns {
		for _, part := range parts {
			if part == pattern || strings.HasPrefix(part, pattern+"/") {
				return true
			}
		}
		if strings.HasPrefix(filepath.ToSlash(rel), pattern) {
			return true
		}
	}
	return false
}

// FilterFiles returns the paths that survive the ignore rules, in the
// order given.
func (f *IgnoreFilter) FilterFiles(paths []string) []string {
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		if !f.ShouldIgnore(p) {
			result = append(result, p)
		}
	}
	return result
}
