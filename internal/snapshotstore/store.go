// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package snapshotstore persists committed ranking snapshots so the engine
// can seed itself after a restart and retain a bounded history per
// (window, category). Writes are best-effort: persistence failures are
// logged and counted, never propagated into the refresh path.
package snapshotstore

import (
	"context"
	"errors"

	"github.com/tomtom215/viewrank/internal/models"
)

// ErrUnavailable is returned for transient persistence failures.
var ErrUnavailable = errors.New("snapshot storage unavailable")

// ErrNotFound is returned when no snapshot exists for a pair.
var ErrNotFound = errors.New("snapshot not found")

// Store persists snapshots keyed by (window, category, generation).
type Store interface {
	// Persist writes one snapshot and prunes history beyond the
	// configured retention.
	Persist(ctx context.Context, snap *models.Snapshot) error

	// Latest returns the highest-generation snapshot for a pair, or
	// ErrNotFound.
	Latest(ctx context.Context, window string, category models.Category) (*models.Snapshot, error)

	// Close releases the underlying storage.
	Close() error
}
