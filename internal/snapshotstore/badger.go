// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package snapshotstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
)

// Key layout:
//
//	snapshot:<window>:<category>:<generation, 20-digit zero-padded>
//
// Zero-padding makes lexicographic key order equal generation order, so
// Latest is a single reverse prefix scan and pruning walks forward.
const snapshotKeyPrefix = "snapshot:"

// BadgerStore implements Store on BadgerDB. Suitable for production use
// with persistence across restarts.
type BadgerStore struct {
	db         *badger.DB
	serializer *models.Serializer
	retention  int
}

// NewBadgerStore opens (or creates) a badger database at path. retention
// bounds how many generations are kept per (window, category).
func NewBadgerStore(path string, retention int) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil) // badger's own logger is noisy; failures surface through ours
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store at %s: %w", path, err)
	}
	if retention < 1 {
		retention = 1
	}
	return &BadgerStore{db: db, serializer: models.NewSerializer(), retention: retention}, nil
}

func pairPrefix(window string, category models.Category) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", snapshotKeyPrefix, window, category))
}

func snapshotKey(snap *models.Snapshot) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", snapshotKeyPrefix, snap.Window, snap.Category, snap.Generation))
}

// Persist implements Store.
func (s *BadgerStore) Persist(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}

	data, err := s.serializer.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.prune(snap.Window, snap.Category); err != nil {
		// Pruning failure is not a persistence failure; the write landed.
		logging.Warn().Err(err).
			Str("window", snap.Window).
			Str("category", string(snap.Category)).
			Msg("snapshot history pruning failed")
	}
	return nil
}

// Latest implements Store.
func (s *BadgerStore) Latest(ctx context.Context, window string, category models.Category) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}

	prefix := pairPrefix(window, category)
	var snap *models.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode, seek to just past the prefix range to land on
		// the highest generation.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		return it.Item().Value(func(val []byte) error {
			decoded, err := s.serializer.UnmarshalSnapshot(val)
			if err != nil {
				return err
			}
			snap = decoded
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return snap, nil
}

// prune deletes generations beyond the retention bound for one pair.
func (s *BadgerStore) prune(window string, category models.Category) error {
	prefix := pairPrefix(window, category)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		if len(keys) <= s.retention {
			return nil
		}
		for _, key := range keys[:len(keys)-s.retention] {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// countKeys reports how many generations are stored for a pair.
func (s *BadgerStore) countKeys(window string, category models.Category) (int, error) {
	prefix := pairPrefix(window, category)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
