// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package engine owns the ranking state of ViewRank: one bounded Top-K
// heap and one committed snapshot per (window, category) pair. A single
// refresh runner re-scores candidates from the bucket store on a timer,
// rebuilds the heaps, commits immutable snapshots with strictly monotone
// generations, and hands old/new snapshot pairs to the broadcaster.
//
// The refresh runner is the sole writer of heaps and snapshots. Readers
// never block: the current snapshot per pair is an atomic pointer swapped
// at commit, so GetTopK returns a stable immutable reference.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/clock"
	"github.com/tomtom215/viewrank/internal/idempotency"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
	"github.com/tomtom215/viewrank/internal/snapshotstore"
	"github.com/tomtom215/viewrank/internal/topk"
)

// ErrUnknownWindow is returned by GetTopK for a window name that was not
// configured.
var ErrUnknownWindow = errors.New("unknown window")

// ErrUnknownCategory is returned by GetTopK for a category that was not
// configured.
var ErrUnknownCategory = errors.New("unknown category")

// ErrSnapshotBuildFailed is returned when a refresh could not produce a
// valid snapshot for a pair. The previous snapshot stays committed.
var ErrSnapshotBuildFailed = errors.New("snapshot build failed")

// DeltaSink receives every committed snapshot transition. The broadcaster
// implements it; Publish must not block the refresh runner.
type DeltaSink interface {
	Publish(oldSnap, newSnap *models.Snapshot)
}

// Options configures an Engine.
type Options struct {
	Windows    []models.WindowDef
	Categories []models.Category // concrete categories plus the ALL aggregate
	K          int

	RefreshInterval time.Duration
	Grace           time.Duration
	MaxWindow       time.Duration

	// PersistEveryNTicks throttles snapshot persistence. 1 persists on
	// every tick.
	PersistEveryNTicks int
}

// pair identifies one (window, category) ranking.
type pair struct {
	window   string
	category models.Category
}

// Engine is the TrendingEngine: it owns the heaps and snapshots for every
// configured (window, category) pair and drives the periodic refresh.
type Engine struct {
	opts    Options
	windows map[string]models.WindowDef

	store  bucketstore.Store
	guard  *idempotency.Guard
	agg    *Aggregator
	snaps  snapshotstore.Store // nil when persistence is disabled
	clk    clock.Clock
	sink   DeltaSink

	pairs       []pair
	heaps       map[pair]*topk.Heap
	current     map[pair]*atomic.Pointer[models.Snapshot]
	generations map[pair]uint64

	lastPersisted map[pair]uint64
	tick          uint64
	ready         atomic.Bool
}

// New builds an engine for the configured pairs. snaps may be nil to
// disable persistence; sink may be nil to disable delta publication.
func New(opts Options, store bucketstore.Store, guard *idempotency.Guard, snaps snapshotstore.Store, clk clock.Clock, scorer topk.Scorer) *Engine {
	if opts.K < 1 {
		opts.K = 1
	}
	if opts.PersistEveryNTicks < 1 {
		opts.PersistEveryNTicks = 1
	}
	if scorer == nil {
		scorer = topk.SumScorer{}
	}

	e := &Engine{
		opts:          opts,
		windows:       make(map[string]models.WindowDef, len(opts.Windows)),
		store:         store,
		guard:         guard,
		agg:           NewAggregator(store, scorer),
		snaps:         snaps,
		clk:           clk,
		heaps:         make(map[pair]*topk.Heap),
		current:       make(map[pair]*atomic.Pointer[models.Snapshot]),
		generations:   make(map[pair]uint64),
		lastPersisted: make(map[pair]uint64),
	}

	for _, w := range opts.Windows {
		e.windows[w.Name] = w
		for _, cat := range opts.Categories {
			p := pair{window: w.Name, category: cat}
			e.pairs = append(e.pairs, p)
			e.heaps[p] = topk.NewHeap(opts.K)

			ptr := &atomic.Pointer[models.Snapshot]{}
			ptr.Store(models.EmptySnapshot(w.Name, cat))
			e.current[p] = ptr
		}
	}
	return e
}

// SetSink installs the delta sink. Must be called before Serve.
func (e *Engine) SetSink(sink DeltaSink) {
	e.sink = sink
}

// Ready reports whether the engine has committed at least one refresh or
// seeded snapshots from storage. The readiness probe uses it.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Seed loads the most recent persisted snapshot per pair so reads have
// data before the first refresh commits. Missing pairs stay empty; storage
// failures are logged and skipped.
func (e *Engine) Seed(ctx context.Context) {
	if e.snaps == nil {
		return
	}
	seeded := 0
	for _, p := range e.pairs {
		snap, err := e.snaps.Latest(ctx, p.window, p.category)
		if err != nil {
			if !errors.Is(err, snapshotstore.ErrNotFound) {
				logging.Warn().Err(err).
					Str("window", p.window).
					Str("category", string(p.category)).
					Msg("snapshot seed failed")
			}
			continue
		}
		e.current[p].Store(snap)
		e.generations[p] = snap.Generation
		e.lastPersisted[p] = snap.Generation
		metrics.SnapshotGeneration.WithLabelValues(p.window, string(p.category)).Set(float64(snap.Generation))
		seeded++
	}
	if seeded > 0 {
		e.ready.Store(true)
		logging.Info().Int("pairs", seeded).Msg("seeded snapshots from storage")
	}
}

// GetTopK returns the most recently committed snapshot for the pair,
// clipped to at most k entries. k <= 0 means the full snapshot. Never
// blocks on refresh.
func (e *Engine) GetTopK(window string, category models.Category, k int) (*models.Snapshot, error) {
	if _, ok := e.windows[window]; !ok {
		return nil, ErrUnknownWindow
	}
	ptr, ok := e.current[pair{window: window, category: category}]
	if !ok {
		return nil, ErrUnknownCategory
	}
	return ptr.Load().Clip(k), nil
}

// Current returns the committed snapshot for a pair without clipping, or
// nil for an unconfigured pair. The broadcaster uses it for resyncs.
func (e *Engine) Current(window string, category models.Category) *models.Snapshot {
	ptr, ok := e.current[pair{window: window, category: category}]
	if !ok {
		return nil
	}
	return ptr.Load()
}

// PairKey names one configured (window, category) combination.
type PairKey struct {
	Window   string
	Category models.Category
}

// Pairs returns every configured (window, category) combination.
func (e *Engine) Pairs() []PairKey {
	out := make([]PairKey, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, PairKey{Window: p.window, Category: p.category})
	}
	return out
}

// RefreshOnce runs one full refresh tick: re-score and commit every pair,
// then evict expired buckets and sweep the idempotency guard. Per-pair
// failures abort only that pair; its previous snapshot stays committed and
// the pair is retried next tick.
func (e *Engine) RefreshOnce(ctx context.Context) {
	now := e.clk.Now()
	e.tick++

	for _, w := range e.opts.Windows {
		windowStart := time.Now()
		for _, cat := range e.opts.Categories {
			p := pair{window: w.Name, category: cat}
			if err := e.refreshPair(ctx, p, now); err != nil {
				reason := "storage"
				if errors.Is(err, ErrSnapshotBuildFailed) {
					reason = "snapshot_build"
				}
				metrics.RefreshFailures.WithLabelValues(p.window, string(p.category), reason).Inc()
				logging.Error().Err(err).
					Str("window", p.window).
					Str("category", string(p.category)).
					Msg("pair refresh failed, keeping previous snapshot")
			}
		}
		metrics.RefreshDuration.WithLabelValues(w.Name).Observe(time.Since(windowStart).Seconds())
	}

	e.ready.Store(true)

	cutoff := now.Add(-e.opts.MaxWindow - e.opts.Grace)
	if _, err := e.store.EvictOlderThan(ctx, cutoff); err != nil {
		logging.Warn().Err(err).Msg("bucket eviction failed")
	}
	if e.guard != nil {
		e.guard.Sweep(now)
	}

	if e.snaps != nil && e.tick%uint64(e.opts.PersistEveryNTicks) == 0 {
		e.persistAll(ctx)
	}
}

// refreshPair re-scores the candidate set for one pair and commits a new
// snapshot. Candidates are the union of videos with non-zero counts in the
// window and videos currently ranked, so entries whose buckets slid out
// are re-scored and evicted.
func (e *Engine) refreshPair(ctx context.Context, p pair, now time.Time) error {
	h := e.heaps[p]
	w := e.windows[p.window]

	it, err := e.store.VideosInWindow(ctx, p.category, w, now)
	if err != nil {
		return fmt.Errorf("enumerate window %s/%s: %w", p.window, p.category, err)
	}

	seen := make(map[models.VideoID]struct{})
	candidates := 0
	for {
		vc, ok, iterErr := it.Next()
		if iterErr != nil {
			return fmt.Errorf("enumerate window %s/%s: %w", p.window, p.category, iterErr)
		}
		if !ok {
			break
		}
		seen[vc.VideoID] = struct{}{}
		candidates++

		score, scoreErr := e.agg.Score(ctx, vc.VideoID, p.category, w, now)
		if scoreErr != nil {
			return fmt.Errorf("score %s in %s/%s: %w", vc.VideoID, p.window, p.category, scoreErr)
		}
		switch {
		case score == 0:
			h.Remove(vc.VideoID)
		case h.Contains(vc.VideoID):
			h.Update(vc.VideoID, score)
		default:
			h.Offer(vc.VideoID, score)
		}
	}

	// Ranked videos the scan no longer yields have no live buckets left.
	for _, video := range h.Videos() {
		if _, ok := seen[video]; ok {
			continue
		}
		candidates++
		score, scoreErr := e.agg.Score(ctx, video, p.category, w, now)
		if scoreErr != nil {
			return fmt.Errorf("re-score %s in %s/%s: %w", video, p.window, p.category, scoreErr)
		}
		if score == 0 {
			h.Remove(video)
		} else {
			h.Update(video, score)
		}
	}

	metrics.RefreshCandidates.WithLabelValues(p.window, string(p.category)).Observe(float64(candidates))

	if !h.CheckIndex() {
		return fmt.Errorf("%w: heap index corrupt for %s/%s", ErrSnapshotBuildFailed, p.window, p.category)
	}

	gen := e.generations[p] + 1
	snap := &models.Snapshot{
		Window:     p.window,
		Category:   p.category,
		Generation: gen,
		Entries:    h.Snapshot(),
		CreatedAt:  now,
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotBuildFailed, err)
	}

	oldSnap := e.current[p].Load()
	e.generations[p] = gen
	e.current[p].Store(snap)

	metrics.HeapSize.WithLabelValues(p.window, string(p.category)).Set(float64(h.Len()))
	metrics.SnapshotGeneration.WithLabelValues(p.window, string(p.category)).Set(float64(gen))

	if e.sink != nil {
		e.sink.Publish(oldSnap, snap)
	}
	return nil
}

// persistAll writes the current snapshot of every pair whose generation
// advanced since its last persist. Best-effort: failures are counted and
// logged, never propagated into the refresh path.
func (e *Engine) persistAll(ctx context.Context) {
	for _, p := range e.pairs {
		gen := e.generations[p]
		if gen == 0 || gen == e.lastPersisted[p] {
			continue
		}
		snap := e.current[p].Load()
		if err := e.snaps.Persist(ctx, snap); err != nil {
			metrics.SnapshotPersistTotal.WithLabelValues("error").Inc()
			logging.Warn().Err(err).
				Str("window", p.window).
				Str("category", string(p.category)).
				Uint64("generation", gen).
				Msg("snapshot persist failed")
			continue
		}
		metrics.SnapshotPersistTotal.WithLabelValues("ok").Inc()
		e.lastPersisted[p] = gen
	}
}

// Serve implements suture.Service: it refreshes immediately, then on every
// tick until the context is canceled. The in-progress tick always finishes
// before shutdown.
func (e *Engine) Serve(ctx context.Context) error {
	logging.Info().
		Int("pairs", len(e.pairs)).
		Int("k", e.opts.K).
		Dur("interval", e.opts.RefreshInterval).
		Msg("refresh runner started")

	e.RefreshOnce(ctx)

	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("refresh runner stopping")
			return ctx.Err()
		case <-ticker.C:
			e.RefreshOnce(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (e *Engine) String() string {
	return "trending-engine"
}
