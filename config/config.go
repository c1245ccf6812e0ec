// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML configuration for the
// codegraph toolchain.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps config reads. Prevents memory issues from a
// mistaken path pointing at a large file.
const MaxConfigFileSize = 1024 * 1024

// Defaults applied by Load when fields are unset.
const (
	DefaultStoreURL        = "http://localhost:8080"
	DefaultCollection      = "CodeEntity"
	DefaultEmbedModel      = "nomic-embed-text"
	DefaultEmbedBaseURL    = "http://localhost:11434/v1"
	DefaultEmbedDimension  = 768
	DefaultMaxInFlight     = 10
	DefaultTimingCachePath = "~/.codegraph/timing.json"
	DefaultMetricsAddr     = ":9464"
	DefaultLogLevel        = "info"
)

var (
	// ErrMissingStoreURL indicates an empty store URL after defaults.
	ErrMissingStoreURL = errors.New("store.url must not be empty")

	// ErrMissingModel indicates an empty embedding model.
	ErrMissingModel = errors.New("embedding.model must not be empty")

	// ErrInvalidDimension indicates a non-positive embedding dimension.
	ErrInvalidDimension = errors.New("embedding.dimension must be positive")
)

// StoreConfig selects the vector store.
type StoreConfig struct {
	// URL is the Weaviate endpoint.
	URL string `yaml:"url"`

	// Collection is the class name. Must start with an uppercase letter.
	Collection string `yaml:"collection"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// BaseURL is the OpenAI-compatible endpoint. Empty selects the
	// hosted OpenAI API.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Environment references like
	// ${OPENAI_API_KEY} are expanded at load time.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// Dimension is the vector size the model produces.
	Dimension int `yaml:"dimension"`

	// BatchSize overrides the endpoint-family default when positive.
	BatchSize int `yaml:"batch_size"`
}

// IndexConfig tunes the indexing pipeline.
type IndexConfig struct {
	// MaxInFlight bounds concurrent file processing.
	MaxInFlight int `yaml:"max_in_flight"`

	// TimingCachePath is where the timing estimator persists.
	TimingCachePath string `yaml:"timing_cache_path"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// File is an optional JSON log file path.
	File string `yaml:"file"`
}

// TelemetryConfig tunes the metrics endpoint.
type TelemetryConfig struct {
	// MetricsAddr is the listen address for /metrics. Empty disables
	// the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given: a
// local Weaviate plus a local Ollama embedding endpoint.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, expands, defaults, and validates a YAML config file.
//
// Inputs:
//   - path: Config file location.
//
// Outputs:
//   - *Config: Validated configuration.
//   - error: Non-nil on read, parse, or validation failure.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Embedding.APIKey = os.ExpandEnv(cfg.Embedding.APIKey)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.URL == "" {
		c.Store.URL = DefaultStoreURL
	}
	if c.Store.Collection == "" {
		c.Store.Collection = DefaultCollection
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbedModel
		if c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = DefaultEmbedBaseURL
		}
		if c.Embedding.Dimension == 0 {
			c.Embedding.Dimension = DefaultEmbedDimension
		}
	}
	if c.Index.MaxInFlight <= 0 {
		c.Index.MaxInFlight = DefaultMaxInFlight
	}
	if c.Index.TimingCachePath == "" {
		c.Index.TimingCachePath = DefaultTimingCachePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = DefaultMetricsAddr
	}
}

// Validate checks required fields after defaulting.
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return ErrMissingStoreURL
	}
	if c.Embedding.Model == "" {
		return ErrMissingModel
	}
	if c.Embedding.Dimension <= 0 {
		return ErrInvalidDimension
	}
	return nil
}
