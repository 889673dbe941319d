// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/clock"
	"github.com/tomtom215/viewrank/internal/idempotency"
	"github.com/tomtom215/viewrank/internal/models"
	"github.com/tomtom215/viewrank/internal/snapshotstore"
	"github.com/tomtom215/viewrank/internal/topk"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type capturedDelta struct {
	old *models.Snapshot
	new *models.Snapshot
}

type captureSink struct {
	deltas []capturedDelta
}

func (s *captureSink) Publish(oldSnap, newSnap *models.Snapshot) {
	s.deltas = append(s.deltas, capturedDelta{old: oldSnap, new: newSnap})
}

type testRig struct {
	engine *Engine
	store  *bucketstore.MemoryStore
	clk    *clock.Fake
	sink   *captureSink
	snaps  *snapshotstore.MemoryStore
}

func newTestRig(t *testing.T, windowDur, bucketWidth time.Duration, k int) *testRig {
	t.Helper()

	window, err := models.NewWindowDef("test", windowDur, bucketWidth)
	if err != nil {
		t.Fatalf("NewWindowDef failed: %v", err)
	}

	store := bucketstore.NewMemoryStore(bucketWidth)
	clk := clock.NewFake(testStart)
	guard := idempotency.NewGuard(windowDur)
	snaps := snapshotstore.NewMemoryStore(10)
	sink := &captureSink{}

	eng := New(Options{
		Windows:            []models.WindowDef{window},
		Categories:         []models.Category{models.CategoryAll, "music"},
		K:                  k,
		RefreshInterval:    time.Second,
		Grace:              5 * time.Minute,
		MaxWindow:          windowDur,
		PersistEveryNTicks: 1,
	}, store, guard, snaps, clk, topk.SumScorer{})
	eng.SetSink(sink)

	return &testRig{engine: eng, store: store, clk: clk, sink: sink, snaps: snaps}
}

// addViews increments the category row and the ALL aggregate, the way the
// ingest pipeline does.
func (r *testRig) addViews(t *testing.T, video models.VideoID, category models.Category, at time.Time, n uint64) {
	t.Helper()
	ctx := context.Background()
	if _, err := r.store.Increment(ctx, video, category, at, n); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if _, err := r.store.Increment(ctx, video, models.CategoryAll, at, n); err != nil {
		t.Fatalf("Increment ALL failed: %v", err)
	}
}

func TestEngine_RanksByViewCount(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)

	rig.addViews(t, "vA", "music", testStart, 5)
	rig.addViews(t, "vB", "music", testStart, 9)
	rig.addViews(t, "vC", "music", testStart, 2)
	rig.addViews(t, "vD", "music", testStart, 1)

	rig.engine.RefreshOnce(context.Background())

	snap, err := rig.engine.GetTopK("test", "music", 0)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	want := []struct {
		video models.VideoID
		score uint64
	}{{"vB", 9}, {"vA", 5}, {"vC", 2}}
	if len(snap.Entries) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(snap.Entries))
	}
	for i, w := range want {
		got := snap.Entries[i]
		if got.VideoID != w.video || got.Score != w.score || got.Rank != i+1 {
			t.Errorf("Entry %d = {%s %d rank %d}, want {%s %d rank %d}",
				i, got.VideoID, got.Score, got.Rank, w.video, w.score, i+1)
		}
	}
	if snap.Generation != 1 {
		t.Errorf("Expected generation 1 after first refresh, got %d", snap.Generation)
	}
}

func TestEngine_TiesResolveToSmallerVideoID(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)

	rig.addViews(t, "v9", "music", testStart, 7)
	rig.addViews(t, "v1", "music", testStart, 7)
	rig.addViews(t, "v5", "music", testStart, 7)

	rig.engine.RefreshOnce(context.Background())

	snap, err := rig.engine.GetTopK("test", "music", 0)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	order := []models.VideoID{"v1", "v5", "v9"}
	for i, want := range order {
		if snap.Entries[i].VideoID != want {
			t.Errorf("Rank %d = %s, want %s", i+1, snap.Entries[i].VideoID, want)
		}
	}
}

func TestEngine_SlidingWindowExpiry(t *testing.T) {
	rig := newTestRig(t, 5*time.Minute, time.Minute, 10)
	ctx := context.Background()

	rig.addViews(t, "vOld", "music", testStart, 10)
	rig.engine.RefreshOnce(ctx)

	snap, _ := rig.engine.GetTopK("test", "music", 0)
	if len(snap.Entries) != 1 || snap.Entries[0].VideoID != "vOld" {
		t.Fatalf("Expected vOld ranked after first refresh, got %+v", snap.Entries)
	}

	// Six minutes later vOld's only bucket is outside the 5-minute window;
	// vNew has fresh views.
	rig.clk.Advance(6 * time.Minute)
	rig.addViews(t, "vNew", "music", rig.clk.Now(), 3)
	rig.engine.RefreshOnce(ctx)

	snap, _ = rig.engine.GetTopK("test", "music", 0)
	if len(snap.Entries) != 1 {
		t.Fatalf("Expected only vNew ranked, got %+v", snap.Entries)
	}
	if snap.Entries[0].VideoID != "vNew" {
		t.Errorf("Expected vNew at rank 1, got %s", snap.Entries[0].VideoID)
	}
}

func TestEngine_GenerationsStrictlyIncrease(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)
	ctx := context.Background()

	rig.addViews(t, "vA", "music", testStart, 1)

	var lastGen uint64
	for i := 0; i < 5; i++ {
		rig.engine.RefreshOnce(ctx)
		snap, err := rig.engine.GetTopK("test", "music", 0)
		if err != nil {
			t.Fatalf("GetTopK failed: %v", err)
		}
		if snap.Generation <= lastGen {
			t.Fatalf("Generation did not increase: %d after %d", snap.Generation, lastGen)
		}
		lastGen = snap.Generation
	}
}

func TestEngine_AllAggregateSpansCategories(t *testing.T) {
	window, err := models.NewWindowDef("test", time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("NewWindowDef failed: %v", err)
	}
	store := bucketstore.NewMemoryStore(time.Minute)
	clk := clock.NewFake(testStart)
	eng := New(Options{
		Windows:         []models.WindowDef{window},
		Categories:      []models.Category{models.CategoryAll, "music", "gaming"},
		K:               10,
		RefreshInterval: time.Second,
		MaxWindow:       time.Hour,
	}, store, nil, nil, clk, topk.SumScorer{})

	ctx := context.Background()
	inc := func(video models.VideoID, cat models.Category, n uint64) {
		if _, err := store.Increment(ctx, video, cat, testStart, n); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if _, err := store.Increment(ctx, video, models.CategoryAll, testStart, n); err != nil {
			t.Fatalf("Increment ALL failed: %v", err)
		}
	}
	inc("vMusic", "music", 4)
	inc("vGame", "gaming", 6)

	eng.RefreshOnce(ctx)

	music, _ := eng.GetTopK("test", "music", 0)
	if len(music.Entries) != 1 || music.Entries[0].VideoID != "vMusic" {
		t.Errorf("music ranking wrong: %+v", music.Entries)
	}
	all, _ := eng.GetTopK("test", models.CategoryAll, 0)
	if len(all.Entries) != 2 {
		t.Fatalf("Expected 2 entries under ALL, got %d", len(all.Entries))
	}
	if all.Entries[0].VideoID != "vGame" || all.Entries[1].VideoID != "vMusic" {
		t.Errorf("ALL order wrong: %+v", all.Entries)
	}
}

func TestEngine_DeltaPublication(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)
	ctx := context.Background()

	rig.addViews(t, "v1", "music", testStart, 10)
	rig.addViews(t, "v2", "music", testStart, 8)
	rig.addViews(t, "v3", "music", testStart, 9)
	rig.engine.RefreshOnce(ctx)

	// First refresh: every entry entered.
	var musicDeltas []capturedDelta
	for _, d := range rig.sink.deltas {
		if d.new.Category == "music" {
			musicDeltas = append(musicDeltas, d)
		}
	}
	if len(musicDeltas) != 1 {
		t.Fatalf("Expected 1 music delta, got %d", len(musicDeltas))
	}
	first := models.DiffSnapshots(musicDeltas[0].old, musicDeltas[0].new)
	if len(first.Entered) != 3 || len(first.Moved) != 0 || len(first.Left) != 0 {
		t.Errorf("First delta should be all-entered: %+v", first)
	}

	// v2 surges past v3 and v1.
	rig.clk.Advance(time.Minute)
	rig.addViews(t, "v2", "music", rig.clk.Now(), 5)
	rig.sink.deltas = nil
	rig.engine.RefreshOnce(ctx)

	for _, d := range rig.sink.deltas {
		if d.new.Category != "music" {
			continue
		}
		delta := models.DiffSnapshots(d.old, d.new)
		if len(delta.Entered) != 0 || len(delta.Left) != 0 {
			t.Errorf("Expected only moves, got %+v", delta)
		}
		// v2 3->1, v1 1->2, v3 2->3.
		if len(delta.Moved) != 3 {
			t.Fatalf("Expected 3 moves, got %d", len(delta.Moved))
		}
	}
}

func TestEngine_SnapshotPersistenceAndSeed(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)
	ctx := context.Background()

	rig.addViews(t, "vA", "music", testStart, 5)
	rig.engine.RefreshOnce(ctx)

	persisted, err := rig.snaps.Latest(ctx, "test", "music")
	if err != nil {
		t.Fatalf("Expected a persisted snapshot: %v", err)
	}
	if persisted.Generation != 1 {
		t.Errorf("Persisted generation = %d, want 1", persisted.Generation)
	}

	// A fresh engine over the same store seeds from the persisted state.
	window, _ := models.NewWindowDef("test", time.Hour, time.Minute)
	fresh := New(Options{
		Windows:         []models.WindowDef{window},
		Categories:      []models.Category{models.CategoryAll, "music"},
		K:               3,
		RefreshInterval: time.Second,
		MaxWindow:       time.Hour,
	}, bucketstore.NewMemoryStore(time.Minute), nil, rig.snaps, rig.clk, topk.SumScorer{})

	if fresh.Ready() {
		t.Errorf("Engine should not be ready before seeding")
	}
	fresh.Seed(ctx)
	if !fresh.Ready() {
		t.Errorf("Engine should be ready after seeding")
	}

	snap, err := fresh.GetTopK("test", "music", 0)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	if snap.Generation != 1 || len(snap.Entries) != 1 || snap.Entries[0].VideoID != "vA" {
		t.Errorf("Seeded snapshot wrong: gen=%d entries=%+v", snap.Generation, snap.Entries)
	}
}

func TestEngine_SeededGenerationKeepsClimbing(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)
	ctx := context.Background()

	rig.addViews(t, "vA", "music", testStart, 5)
	for i := 0; i < 3; i++ {
		rig.engine.RefreshOnce(ctx)
	}

	window, _ := models.NewWindowDef("test", time.Hour, time.Minute)
	store := bucketstore.NewMemoryStore(time.Minute)
	fresh := New(Options{
		Windows:         []models.WindowDef{window},
		Categories:      []models.Category{models.CategoryAll, "music"},
		K:               3,
		RefreshInterval: time.Second,
		MaxWindow:       time.Hour,
	}, store, nil, rig.snaps, rig.clk, topk.SumScorer{})
	fresh.Seed(ctx)

	seeded, _ := fresh.GetTopK("test", "music", 0)
	fresh.RefreshOnce(ctx)
	after, _ := fresh.GetTopK("test", "music", 0)
	if after.Generation <= seeded.Generation {
		t.Errorf("Generation after seed+refresh = %d, want > %d", after.Generation, seeded.Generation)
	}
}

func TestEngine_GetTopKClipsAndValidates(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 10)
	ctx := context.Background()

	for i, video := range []models.VideoID{"v1", "v2", "v3", "v4", "v5"} {
		rig.addViews(t, video, "music", testStart, uint64(10-i))
	}
	rig.engine.RefreshOnce(ctx)

	snap, err := rig.engine.GetTopK("test", "music", 2)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Errorf("Expected clip to 2 entries, got %d", len(snap.Entries))
	}

	if _, err := rig.engine.GetTopK("nope", "music", 0); !errors.Is(err, ErrUnknownWindow) {
		t.Errorf("Expected ErrUnknownWindow, got %v", err)
	}
	if _, err := rig.engine.GetTopK("test", "podcasts", 0); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Expected ErrUnknownCategory, got %v", err)
	}
}

func TestEngine_EmptySnapshotBeforeFirstRefresh(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)

	snap, err := rig.engine.GetTopK("test", "music", 0)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	if snap.Generation != 0 || len(snap.Entries) != 0 {
		t.Errorf("Expected empty generation-0 snapshot, got gen=%d entries=%d",
			snap.Generation, len(snap.Entries))
	}
	if rig.engine.Ready() {
		t.Errorf("Engine should not report ready before first refresh")
	}
}

func TestEngine_EvictsExpiredBuckets(t *testing.T) {
	rig := newTestRig(t, 5*time.Minute, time.Minute, 10)
	ctx := context.Background()

	rig.addViews(t, "vOld", "music", testStart, 3)
	rig.engine.RefreshOnce(ctx)
	if rig.store.Len() == 0 {
		t.Fatalf("Expected live rows after first refresh")
	}

	// Past window + grace the rows are evicted by the tick.
	rig.clk.Advance(5*time.Minute + 5*time.Minute + time.Minute)
	rig.engine.RefreshOnce(ctx)
	if rig.store.Len() != 0 {
		t.Errorf("Expected all rows evicted, %d remain", rig.store.Len())
	}
}

func TestEngine_PersistFailureDoesNotBlockRefresh(t *testing.T) {
	rig := newTestRig(t, time.Hour, time.Minute, 3)
	ctx := context.Background()

	rig.snaps.FailWith(snapshotstore.ErrUnavailable)
	rig.addViews(t, "vA", "music", testStart, 5)
	rig.engine.RefreshOnce(ctx)

	snap, err := rig.engine.GetTopK("test", "music", 0)
	if err != nil {
		t.Fatalf("GetTopK failed: %v", err)
	}
	if snap.Generation != 1 || len(snap.Entries) != 1 {
		t.Errorf("Refresh should commit despite persist failure: gen=%d entries=%d",
			snap.Generation, len(snap.Entries))
	}

	// Once storage recovers, the next tick catches up.
	rig.snaps.FailWith(nil)
	rig.engine.RefreshOnce(ctx)
	persisted, err := rig.snaps.Latest(ctx, "test", "music")
	if err != nil {
		t.Fatalf("Expected persisted snapshot after recovery: %v", err)
	}
	if persisted.Generation != 2 {
		t.Errorf("Persisted generation = %d, want 2", persisted.Generation)
	}
}

func TestAggregator_ScoresWindowCounts(t *testing.T) {
	store := bucketstore.NewMemoryStore(time.Minute)
	agg := NewAggregator(store, topk.SumScorer{})
	window, _ := models.NewWindowDef("test", 5*time.Minute, time.Minute)
	ctx := context.Background()

	if _, err := store.Increment(ctx, "v1", "music", testStart.Add(-2*time.Minute), 3); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if _, err := store.Increment(ctx, "v1", "music", testStart, 4); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	score, err := agg.Score(ctx, "v1", "music", window, testStart)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 7 {
		t.Errorf("Score = %d, want 7", score)
	}

	// Outside the window nothing counts.
	score, err = agg.Score(ctx, "v1", "music", window, testStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 0 {
		t.Errorf("Score = %d, want 0 outside the window", score)
	}
}
