// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the process-wide OpenTelemetry meter provider
// to a Prometheus /metrics endpoint. Every package-level meter in this
// module records through it once Init has run; without Init the meters
// fall back to the no-op provider and recording is free.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName identifies this service in exported metrics.
const ServiceName = "codegraph"

// readHeaderTimeout bounds slow-header clients on the metrics listener.
const readHeaderTimeout = 5 * time.Second

// ErrNilContext indicates Init was called without a context.
var ErrNilContext = errors.New("telemetry: nil context")

// Config controls telemetry behavior.
type Config struct {
	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// MetricsAddr is the listen address for the /metrics endpoint.
	// Empty installs the meter provider without serving HTTP.
	MetricsAddr string
}

// Init installs a Prometheus-backed meter provider and, when an
// address is configured, serves /metrics on it.
//
// Outputs:
//   - shutdown: Must be called on exit; stops the listener and flushes
//     the provider.
//   - error: Non-nil if the exporter could not be built.
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// The process keeps running; metrics are optional.
				otel.Handle(err)
			}
		}()
	}

	return func(ctx context.Context) error {
		var errs []error
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}, nil
}
