// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/codegraph/ast"
	"github.com/AleutianAI/codegraph/config"
	"github.com/AleutianAI/codegraph/embed"
	"github.com/AleutianAI/codegraph/explore"
	"github.com/AleutianAI/codegraph/graph"
	"github.com/AleutianAI/codegraph/index"
	"github.com/AleutianAI/codegraph/pkg/logging"
	"github.com/AleutianAI/codegraph/store"
)

// app bundles the wired components behind every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     *store.Store
	engine    *graph.Engine
	facade    *explore.Facade
	estimator *index.TimingEstimator
	extractor *ast.Extractor
}

// newApp wires the full stack from configuration. The store's
// availability is probed once so commands can distinguish "nothing
// found" from "backend unreachable".
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   parseLogLevel(cfg.Logging.Level),
		Service: "codegraph",
		Quiet:   quietLogs,
	})
	slogger := logger.Slog()

	providerKey := fmt.Sprintf("openai|%s|%s", cfg.Embedding.BaseURL, cfg.Embedding.Model)
	provider, err := embed.DefaultRegistry().GetOrCreate(providerKey, func() (embed.Provider, error) {
		return embed.NewOpenAIProvider(embed.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BatchSize: cfg.Embedding.BatchSize,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	backend, err := store.NewWeaviateBackend(cfg.Store.URL, slogger)
	if err != nil {
		return nil, fmt.Errorf("weaviate backend: %w", err)
	}

	st, err := store.NewStore(backend, provider, cfg.Store.Collection, store.WithLogger(slogger))
	if err != nil {
		return nil, err
	}
	if !st.CheckAvailability(ctx) {
		slogger.Warn("store backend unreachable, queries will return empty results")
	}

	engine := graph.NewEngine(st, graph.WithLogger(slogger))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		engine:    engine,
		facade:    explore.NewFacade(st, engine, explore.WithLogger(slogger)),
		estimator: index.NewTimingEstimator(expandHome(cfg.Index.TimingCachePath), slogger),
		extractor: ast.NewExtractor(ast.WithLogger(slogger)),
	}, nil
}

// close releases the logger's file handle, if any.
func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// indexer picks the strategy for bulk indexing.
func (a *app) indexer(sequential bool) index.Indexer {
	slogger := a.logger.Slog()
	if sequential {
		return index.NewSequentialIndexer(a.extractor, a.store, a.estimator,
			index.WithLogger(slogger))
	}
	return index.NewConcurrentIndexer(a.extractor, a.store, a.estimator,
		index.WithLogger(slogger),
		index.WithMaxInFlight(a.cfg.Index.MaxInFlight))
}

// resolveEntity turns a name, free-text query, or raw entity ID into a
// stored entity.
func (a *app) resolveEntity(ctx context.Context, nameOrID string) (*entityRef, error) {
	if e, err := a.store.GetEntity(ctx, nameOrID); err == nil && e != nil {
		return &entityRef{ID: e.ID, Name: e.Name}, nil
	}
	e, err := a.facade.FindEntity(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("entity %q not found", nameOrID)
	}
	return &entityRef{ID: e.ID, Name: e.Name}, nil
}

// entityRef is the resolved identity a command works with.
type entityRef struct {
	ID   string
	Name string
}

// loadConfig reads the --config file when given, otherwise the default
// path if it exists, otherwise built-in defaults.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	defaultPath := expandHome("~/.codegraph/codegraph.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func parseLogLevel(level string) logging.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
