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

import "errors"

var (
	// ErrUnavailable is returned when the vector store backend is not
	// reachable and the operation cannot degrade silently.
	ErrUnavailable = errors.New("vector store is not available")

	// ErrDimensionMismatch is returned when an existing collection was
	// created with a different vector size than the configured embedding
	// provider produces. The collection is never touched; recreate it
	// explicitly with force to proceed.
	ErrDimensionMismatch = errors.New("collection vector size differs from provider dimension")

	// ErrInvalidCollection is returned for an empty or malformed
	// collection name.
	ErrInvalidCollection = errors.New("invalid collection name")
)
