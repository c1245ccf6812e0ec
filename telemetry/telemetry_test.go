// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitNilContext(t *testing.T) {
	//nolint:staticcheck // the nil context is the case under test
	_, err := Init(nil, Config{})
	require.ErrorIs(t, err, ErrNilContext)
}

func TestInitWithoutListener(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, shutdown(context.Background()))
	}()

	// Recording through the global meter must work once installed.
	meter := otel.Meter("codegraph.telemetry.test")
	counter, err := meter.Int64Counter("codegraph_test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestInitServesMetrics(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	shutdown, err := Init(context.Background(), Config{MetricsAddr: addr})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, shutdown(ctx))
	}()

	meter := otel.Meter("codegraph.telemetry.test")
	counter, err := meter.Int64Counter("codegraph_scrape_probe_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(raw)
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond, "metrics endpoint must come up")

	assert.True(t, strings.Contains(body, "codegraph_scrape_probe"),
		"recorded counter must be exported")
}
