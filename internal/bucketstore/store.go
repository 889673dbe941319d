// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package bucketstore holds the windowed counting substrate: sparse
// per-(video, category, bucket) view counters, summed across the N most
// recent buckets to produce window scores.
//
// The store is many-writer (ingest workers) and single-scanner (the
// refresh runner); it shards rows by (video, category) hash so increments
// on different videos do not contend.
package bucketstore

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tomtom215/viewrank/internal/clock"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
)

// ErrStorageUnavailable is returned for transient storage failures.
// Increment callers may retry.
var ErrStorageUnavailable = errors.New("bucket storage unavailable")

// ErrNonPositiveDelta is returned when Increment is called with delta 0.
var ErrNonPositiveDelta = errors.New("increment delta must be positive")

// shardCount is a power of two so the hash can be masked.
const shardCount = 64

// Store is the BucketStore interface the engine and ingest pipeline
// consume. The in-memory implementation below is authoritative; an
// external store may back it as long as ordering stays in-process.
type Store interface {
	// Increment atomically adds delta to the (video, category, bucket)
	// counter, creating the row if needed, and returns the post-value.
	Increment(ctx context.Context, video models.VideoID, category models.Category, bucketStart time.Time, delta uint64) (uint64, error)

	// BucketCounts returns the per-bucket counts for a video across the
	// window ending at the bucket containing now, oldest bucket first.
	// Absent buckets read as zero. The slice always has window.Buckets()
	// elements.
	BucketCounts(ctx context.Context, video models.VideoID, category models.Category, window models.WindowDef, now time.Time) ([]uint64, error)

	// VideosInWindow returns a lazy, finite, non-restartable iterator over
	// the videos with any non-zero bucket inside the window for the given
	// category, together with their summed counts. Order is unspecified.
	VideosInWindow(ctx context.Context, category models.Category, window models.WindowDef, now time.Time) (*Iterator, error)

	// EvictOlderThan drops bucket columns whose end is at or before
	// cutoff, and rows left empty. Returns the number of buckets dropped.
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// rowKey identifies one (video, category) counter row.
type rowKey struct {
	video    models.VideoID
	category models.Category
}

// row is a sparse bucket map for one (video, category).
type row map[int64]uint64 // bucket start (unix seconds) -> count

type shard struct {
	mu   sync.RWMutex
	rows map[rowKey]row
}

// MemoryStore is the in-process sharded implementation of Store.
type MemoryStore struct {
	shards      [shardCount]*shard
	bucketWidth time.Duration
}

// NewMemoryStore creates an empty store for the given bucket width.
func NewMemoryStore(bucketWidth time.Duration) *MemoryStore {
	s := &MemoryStore{bucketWidth: bucketWidth}
	for i := range s.shards {
		s.shards[i] = &shard{rows: make(map[rowKey]row)}
	}
	return s
}

func (s *MemoryStore) shardFor(key rowKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.video))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.category))
	return s.shards[h.Sum32()&(shardCount-1)]
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, video models.VideoID, category models.Category, bucketStart time.Time, delta uint64) (uint64, error) {
	if delta == 0 {
		return 0, ErrNonPositiveDelta
	}
	if err := ctx.Err(); err != nil {
		return 0, ErrStorageUnavailable
	}

	key := rowKey{video: video, category: category}
	bucket := clock.BucketOf(bucketStart, s.bucketWidth).Unix()

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.rows[key]
	if !ok {
		r = make(row, 4)
		sh.rows[key] = r
	}
	if _, existed := r[bucket]; !existed {
		metrics.BucketEntries.Inc()
	}
	r[bucket] += delta
	return r[bucket], nil
}

// BucketCounts implements Store.
func (s *MemoryStore) BucketCounts(ctx context.Context, video models.VideoID, category models.Category, window models.WindowDef, now time.Time) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrStorageUnavailable
	}

	counts := make([]uint64, window.Buckets())
	start := window.Start(now)

	key := rowKey{video: video, category: category}
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	r, ok := sh.rows[key]
	if !ok {
		return counts, nil
	}
	for i := range counts {
		bucket := start.Add(time.Duration(i) * window.BucketWidth).Unix()
		counts[i] = r[bucket]
	}
	return counts, nil
}

// VideosInWindow implements Store. The iterator walks one shard at a time,
// holding only that shard's read lock while it copies the shard's matches.
func (s *MemoryStore) VideosInWindow(ctx context.Context, category models.Category, window models.WindowDef, now time.Time) (*Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrStorageUnavailable
	}
	return &Iterator{
		store:       s,
		ctx:         ctx,
		category:    category,
		windowStart: window.Start(now).Unix(),
		windowEnd:   clock.BucketOf(now, window.BucketWidth).Unix(),
		bucketWidth: int64(window.BucketWidth / time.Second),
	}, nil
}

// EvictOlderThan implements Store.
func (s *MemoryStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrStorageUnavailable
	}

	// A bucket's end is its start + width.
	cutoffStart := cutoff.Add(-s.bucketWidth).Unix()
	evicted := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, r := range sh.rows {
			for bucket := range r {
				if bucket <= cutoffStart {
					delete(r, bucket)
					evicted++
				}
			}
			if len(r) == 0 {
				delete(sh.rows, key)
			}
		}
		sh.mu.Unlock()
	}

	if evicted > 0 {
		metrics.BucketEntries.Sub(float64(evicted))
		metrics.BucketEvictionsTotal.Add(float64(evicted))
	}
	return evicted, nil
}

// Len returns the number of live (video, category) rows, for tests and
// introspection.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.rows)
		sh.mu.RUnlock()
	}
	return n
}

// VideoCount is one element yielded by Iterator.
type VideoCount struct {
	VideoID models.VideoID
	Count   uint64
}

// Iterator is a lazy, finite, non-restartable sequence of videos with
// non-zero counts inside a window. It buffers one shard's matches at a
// time; concurrent increments while iterating may or may not be observed,
// which is acceptable because the refresh tick re-scores at the next tick.
type Iterator struct {
	store       *MemoryStore
	ctx         context.Context
	category    models.Category
	windowStart int64
	windowEnd   int64
	bucketWidth int64

	shardIdx int
	buf      []VideoCount
	bufIdx   int
	done     bool
}

// Next returns the next element. The third return is false once the
// sequence is exhausted or the iterator failed; check Err afterwards.
func (it *Iterator) Next() (VideoCount, bool, error) {
	if it.done {
		return VideoCount{}, false, nil
	}
	for it.bufIdx >= len(it.buf) {
		if err := it.ctx.Err(); err != nil {
			it.done = true
			return VideoCount{}, false, ErrStorageUnavailable
		}
		if it.shardIdx >= shardCount {
			it.done = true
			return VideoCount{}, false, nil
		}
		it.fillFromShard(it.store.shards[it.shardIdx])
		it.shardIdx++
	}
	vc := it.buf[it.bufIdx]
	it.bufIdx++
	return vc, true, nil
}

// fillFromShard copies the shard's in-window matches into the buffer.
func (it *Iterator) fillFromShard(sh *shard) {
	it.buf = it.buf[:0]
	it.bufIdx = 0

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	for key, r := range sh.rows {
		if key.category != it.category {
			continue
		}
		var total uint64
		for bucket, count := range r {
			if bucket >= it.windowStart && bucket <= it.windowEnd {
				total += count
			}
		}
		if total > 0 {
			it.buf = append(it.buf, VideoCount{VideoID: key.video, Count: total})
		}
	}
}
