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
	"log/slog"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Degradation Mode
// -----------------------------------------------------------------------------

// DegradationMode represents the operational mode of a component that
// depends on the vector store.
type DegradationMode int32

const (
	// ModeNormal indicates full functionality.
	ModeNormal DegradationMode = iota
	// ModeDegraded indicates the store is unreachable and queries
	// return empty results.
	ModeDegraded
)

// String returns the string representation of DegradationMode.
func (m DegradationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Degradation Handler Interface
// -----------------------------------------------------------------------------

// DegradationHandler is notified of store availability changes.
//
// Components that answer queries from the store (the graph engine, the
// exploration facade, the indexer) register a handler so they can
// switch to empty-result behavior the moment the store goes away.
//
// Thread Safety: Implementations must be safe for concurrent use.
type DegradationHandler interface {
	// OnDegraded is called when the store becomes unavailable.
	OnDegraded(reason string)

	// OnRecovered is called when the store becomes available again.
	OnRecovered()

	// GetMode returns the current degradation mode.
	GetMode() DegradationMode
}

// -----------------------------------------------------------------------------
// Base Degradation Handler
// -----------------------------------------------------------------------------

// BaseDegradationHandler tracks degradation state and provides logging.
// Embed this in component-specific handlers.
//
// Thread Safety: Safe for concurrent use.
type BaseDegradationHandler struct {
	name   string
	mode   atomic.Int32
	logger *slog.Logger
}

// NewBaseDegradationHandler creates a new base handler. A nil logger
// selects slog.Default().
func NewBaseDegradationHandler(name string, logger *slog.Logger) *BaseDegradationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseDegradationHandler{
		name:   name,
		logger: logger.With(slog.String("component", name)),
	}
}

// OnDegraded marks the handler as degraded.
func (h *BaseDegradationHandler) OnDegraded(reason string) {
	h.mode.Store(int32(ModeDegraded))
	h.logger.Warn("component degraded, vector store unavailable",
		slog.String("reason", reason))
}

// OnRecovered marks the handler as normal.
func (h *BaseDegradationHandler) OnRecovered() {
	h.mode.Store(int32(ModeNormal))
	h.logger.Info("component recovered, vector store available")
}

// GetMode returns the current mode.
func (h *BaseDegradationHandler) GetMode() DegradationMode {
	return DegradationMode(h.mode.Load())
}

// IsDegraded returns true if operating with reduced functionality.
func (h *BaseDegradationHandler) IsDegraded() bool {
	return h.GetMode() == ModeDegraded
}
