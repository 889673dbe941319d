// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package topk

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/tomtom215/viewrank/internal/models"
)

func rankedIDs(entries []models.RankedEntry) []models.VideoID {
	out := make([]models.VideoID, len(entries))
	for i, e := range entries {
		out[i] = e.VideoID
	}
	return out
}

func expectOrder(t *testing.T, h *Heap, want ...models.VideoID) {
	t.Helper()
	got := rankedIDs(h.Snapshot())
	if len(got) != len(want) {
		t.Fatalf("Snapshot has %d entries, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot order = %v, want %v", got, want)
		}
	}
}

func TestHeap_TopKSelection(t *testing.T) {
	// The simple top-3 scenario: four videos, lowest dropped.
	h := NewHeap(3)
	h.Offer("v1", 5)
	h.Offer("v2", 3)
	h.Offer("v3", 4)
	h.Offer("v4", 1)

	if h.Len() != 3 {
		t.Fatalf("Expected size 3, got %d", h.Len())
	}
	if h.Contains("v4") {
		t.Error("v4 should have been dropped")
	}
	expectOrder(t, h, "v1", "v3", "v2")
}

func TestHeap_TieBreakSmallerVideoWins(t *testing.T) {
	h := NewHeap(3)
	h.Offer("v2", 2)
	h.Offer("v1", 2)
	h.Offer("v3", 5)

	expectOrder(t, h, "v3", "v1", "v2")

	snap := h.Snapshot()
	for i, e := range snap {
		if e.Rank != i+1 {
			t.Errorf("Rank at index %d = %d, want %d", i, e.Rank, i+1)
		}
	}
}

func TestHeap_OfferAtCapacity(t *testing.T) {
	h := NewHeap(2)
	h.Offer("v1", 10)
	h.Offer("v2", 5)

	// Weaker than root: dropped.
	if h.Offer("v3", 4) {
		t.Error("Offer below root score should be dropped")
	}
	// Equal score, larger id than root: dropped.
	if h.Offer("v9", 5) {
		t.Error("Offer with equal score and larger id should be dropped")
	}
	// Equal score, smaller id than root: replaces root.
	if !h.Offer("v0", 5) {
		t.Error("Offer with equal score and smaller id should replace root")
	}
	if h.Contains("v2") {
		t.Error("v2 should have been displaced")
	}
	expectOrder(t, h, "v1", "v0")
}

func TestHeap_K1IsArgmax(t *testing.T) {
	h := NewHeap(1)
	h.Offer("v5", 3)
	h.Offer("v2", 7)
	h.Offer("v9", 7) // tie, larger id, dropped
	h.Offer("v1", 7) // tie, smaller id, wins

	expectOrder(t, h, "v1")
}

func TestHeap_UpdateMovesBothWays(t *testing.T) {
	h := NewHeap(4)
	h.Offer("a", 10)
	h.Offer("b", 20)
	h.Offer("c", 30)
	h.Offer("d", 40)

	// Push the weakest to the top.
	if !h.Update("a", 100) {
		t.Fatal("Update of ranked video should succeed")
	}
	expectOrder(t, h, "a", "d", "c", "b")

	// Drop the strongest to the bottom.
	h.Update("a", 1)
	expectOrder(t, h, "d", "c", "b", "a")

	if h.Update("zz", 5) {
		t.Error("Update of unranked video should return false")
	}
	if !h.CheckIndex() {
		t.Error("Index bijection broken after updates")
	}
}

func TestHeap_Remove(t *testing.T) {
	h := NewHeap(4)
	h.Offer("a", 10)
	h.Offer("b", 20)
	h.Offer("c", 30)

	if !h.Remove("b") {
		t.Fatal("Remove of ranked video should succeed")
	}
	if h.Remove("b") {
		t.Error("Second remove should return false")
	}
	expectOrder(t, h, "c", "a")
	if !h.CheckIndex() {
		t.Error("Index bijection broken after remove")
	}

	// Freed capacity is usable again.
	h.Offer("d", 5)
	h.Offer("e", 6)
	if h.Len() != 4 {
		t.Errorf("Expected heap refilled to 4, got %d", h.Len())
	}
}

func TestHeap_SnapshotDoesNotMutate(t *testing.T) {
	h := NewHeap(3)
	h.Offer("a", 1)
	h.Offer("b", 2)

	s1 := h.Snapshot()
	s2 := h.Snapshot()
	if len(s1) != len(s2) {
		t.Fatal("Repeated snapshots differ in length")
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Errorf("Repeated snapshots differ at %d: %v vs %v", i, s1[i], s2[i])
		}
	}
	if !h.CheckIndex() {
		t.Error("Snapshot must not disturb the heap")
	}
}

// TestHeap_AgainstReference drives the heap with random offers/updates/
// removes and compares every snapshot to a brute-force reference ranking.
func TestHeap_AgainstReference(t *testing.T) {
	const k = 8
	rng := rand.New(rand.NewSource(42))

	h := NewHeap(k)
	ref := make(map[models.VideoID]uint64) // scores the heap has been shown, for ranked videos

	for step := 0; step < 2000; step++ {
		video := models.VideoID(fmt.Sprintf("v%02d", rng.Intn(40)))
		switch rng.Intn(10) {
		case 0: // remove
			h.Remove(video)
			delete(ref, video)
		default:
			score := uint64(rng.Intn(100))
			h.Offer(video, score)
			// Mirror the heap's own admission rules in the reference.
			if h.Contains(video) {
				ref[video] = score
			}
			// Anything displaced must be forgotten.
			for v := range ref {
				if !h.Contains(v) {
					delete(ref, v)
				}
			}
		}

		if !h.CheckIndex() {
			t.Fatalf("step %d: index bijection broken", step)
		}
		if h.Len() > k {
			t.Fatalf("step %d: heap size %d exceeds K", step, h.Len())
		}

		snap := h.Snapshot()
		if len(snap) != len(ref) {
			t.Fatalf("step %d: snapshot size %d, reference %d", step, len(snap), len(ref))
		}
		for i, e := range snap {
			if ref[e.VideoID] != e.Score {
				t.Fatalf("step %d: score mismatch for %s: %d vs %d", step, e.VideoID, e.Score, ref[e.VideoID])
			}
			if i > 0 {
				prev := snap[i-1]
				if e.Score > prev.Score || (e.Score == prev.Score && e.VideoID < prev.VideoID) {
					t.Fatalf("step %d: snapshot out of order at %d", step, i)
				}
			}
		}
	}
}

// TestHeap_RootIsWeakest verifies the heap safety invariant: every ranked
// entry scores at least as high as any rejected candidate.
func TestHeap_RootIsWeakest(t *testing.T) {
	h := NewHeap(5)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		video := models.VideoID(fmt.Sprintf("v%03d", i))
		score := uint64(rng.Intn(1000))
		accepted := h.Offer(video, score)

		if !accepted && h.Len() == 5 {
			for _, e := range h.Snapshot() {
				if e.Score < score {
					t.Fatalf("rejected score %d but ranked entry %s has %d", score, e.VideoID, e.Score)
				}
			}
		}
	}
}
