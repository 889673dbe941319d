// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package topk implements the bounded ranking structure at the heart of
// the engine: a min-heap of at most K entries keyed by (score, -VideoID)
// with an auxiliary position index for O(log K) updates.
package topk

import (
	"sort"

	"github.com/tomtom215/viewrank/internal/models"
)

// entry is one heap element. index is its position in the heap array,
// maintained on every swap so Update and Remove stay O(log K).
type entry struct {
	video models.VideoID
	score uint64
	index int
}

// Heap is a bounded min-heap: the weakest entry sits at the root and is
// the one displaced when a stronger candidate arrives. "Weaker" means a
// lower score, or on equal scores a larger VideoID, mirroring the snapshot
// tie-break where the smaller VideoID ranks higher.
//
// The heap is single-writer (the refresh runner); it carries no lock.
// Concurrent readers must go through Snapshot, which emits an immutable
// sorted copy.
type Heap struct {
	k       int
	heap    []*entry
	byVideo map[models.VideoID]*entry
}

// NewHeap creates an empty heap bounded to k entries. k must be positive.
func NewHeap(k int) *Heap {
	if k < 1 {
		k = 1
	}
	return &Heap{
		k:       k,
		heap:    make([]*entry, 0, k),
		byVideo: make(map[models.VideoID]*entry, k),
	}
}

// weaker reports whether a is weaker than b (a should sit below b toward
// the root of the min-heap).
func weaker(a, b *entry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.video > b.video
}

// Len returns the number of entries, always <= K.
func (h *Heap) Len() int {
	return len(h.heap)
}

// K returns the configured bound.
func (h *Heap) K() int {
	return h.k
}

// Contains reports whether the video is currently ranked.
func (h *Heap) Contains(video models.VideoID) bool {
	_, ok := h.byVideo[video]
	return ok
}

// Score returns the tracked score for a ranked video.
func (h *Heap) Score(video models.VideoID) (uint64, bool) {
	e, ok := h.byVideo[video]
	if !ok {
		return 0, false
	}
	return e.score, true
}

// Videos returns the ranked videos in no particular order.
func (h *Heap) Videos() []models.VideoID {
	out := make([]models.VideoID, 0, len(h.heap))
	for _, e := range h.heap {
		out = append(out, e.video)
	}
	return out
}

// Offer considers a candidate. If the video is already ranked its score is
// updated in place. Below capacity the candidate is inserted. At capacity
// it replaces the root only if it is strictly stronger than the root.
// Returns true if the heap changed membership or score.
func (h *Heap) Offer(video models.VideoID, score uint64) bool {
	if e, ok := h.byVideo[video]; ok {
		if e.score == score {
			return false
		}
		e.score = score
		h.fix(e.index)
		return true
	}

	if len(h.heap) < h.k {
		e := &entry{video: video, score: score, index: len(h.heap)}
		h.heap = append(h.heap, e)
		h.byVideo[video] = e
		h.bubbleUp(e.index)
		return true
	}

	candidate := &entry{video: video, score: score}
	root := h.heap[0]
	if !weaker(root, candidate) {
		return false
	}

	delete(h.byVideo, root.video)
	candidate.index = 0
	h.heap[0] = candidate
	h.byVideo[video] = candidate
	h.bubbleDown(0)
	return true
}

// Update changes the score of a ranked video and restores heap order.
// Returns false if the video is not ranked.
func (h *Heap) Update(video models.VideoID, score uint64) bool {
	e, ok := h.byVideo[video]
	if !ok {
		return false
	}
	if e.score == score {
		return true
	}
	e.score = score
	h.fix(e.index)
	return true
}

// Remove evicts a video from the heap. Returns false if it was not ranked.
func (h *Heap) Remove(video models.VideoID) bool {
	e, ok := h.byVideo[video]
	if !ok {
		return false
	}
	h.removeAt(e.index)
	return true
}

// Snapshot produces the ranked entries sorted descending by score, ties by
// ascending VideoID, ranks 1..Len(). O(K log K), allocates a fresh slice;
// the heap itself is untouched.
func (h *Heap) Snapshot() []models.RankedEntry {
	entries := make([]models.RankedEntry, 0, len(h.heap))
	for _, e := range h.heap {
		entries = append(entries, models.RankedEntry{VideoID: e.video, Score: e.score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].VideoID < entries[j].VideoID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// CheckIndex verifies that the position index is a bijection between
// ranked videos and heap slots. The engine runs this before committing a
// snapshot; a violation aborts the commit.
func (h *Heap) CheckIndex() bool {
	if len(h.byVideo) != len(h.heap) {
		return false
	}
	for i, e := range h.heap {
		if e.index != i {
			return false
		}
		if h.byVideo[e.video] != e {
			return false
		}
	}
	return true
}

// Internal heap operations.

func (h *Heap) removeAt(i int) {
	n := len(h.heap) - 1
	e := h.heap[i]
	delete(h.byVideo, e.video)

	if i == n {
		h.heap = h.heap[:n]
		return
	}

	h.heap[i] = h.heap[n]
	h.heap[i].index = i
	h.heap = h.heap[:n]
	h.fix(i)
}

// fix restores heap order after a score change at index i.
func (h *Heap) fix(i int) {
	if h.bubbleUp(i) {
		return
	}
	h.bubbleDown(i)
}

// bubbleUp moves the element at index i toward the root while it is weaker
// than its parent. Returns true if it moved.
func (h *Heap) bubbleUp(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !weaker(h.heap[i], h.heap[parent]) {
			break
		}
		h.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

// bubbleDown moves the element at index i away from the root while a child
// is weaker.
func (h *Heap) bubbleDown(i int) {
	n := len(h.heap)
	for {
		weakest := i
		left := 2*i + 1
		right := 2*i + 2

		if left < n && weaker(h.heap[left], h.heap[weakest]) {
			weakest = left
		}
		if right < n && weaker(h.heap[right], h.heap[weakest]) {
			weakest = right
		}
		if weakest == i {
			break
		}
		h.swap(i, weakest)
		i = weakest
	}
}

func (h *Heap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.heap[i].index = i
	h.heap[j].index = j
}
