// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package snapshotstore

import (
	"context"
	"sync"

	"github.com/tomtom215/viewrank/internal/models"
)

type pairKey struct {
	window   string
	category models.Category
}

// MemoryStore is an in-memory Store for tests and for running without a
// persistence volume.
type MemoryStore struct {
	mu        sync.Mutex
	snaps     map[pairKey][]*models.Snapshot // ascending generation
	retention int
	failWith  error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(retention int) *MemoryStore {
	if retention < 1 {
		retention = 1
	}
	return &MemoryStore{snaps: make(map[pairKey][]*models.Snapshot), retention: retention}
}

// FailWith makes subsequent operations return err (nil restores normal
// operation). Test hook.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Persist implements Store.
func (s *MemoryStore) Persist(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	key := pairKey{window: snap.Window, category: snap.Category}
	history := append(s.snaps[key], snap)
	if len(history) > s.retention {
		history = history[len(history)-s.retention:]
	}
	s.snaps[key] = history
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(ctx context.Context, window string, category models.Category) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	history := s.snaps[pairKey{window: window, category: category}]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history[len(history)-1], nil
}

// History returns all retained generations for a pair, oldest first.
// Test helper.
func (s *MemoryStore) History(window string, category models.Category) []*models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.snaps[pairKey{window: window, category: category}]
	out := make([]*models.Snapshot, len(history))
	copy(out, history)
	return out
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
