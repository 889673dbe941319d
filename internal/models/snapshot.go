// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package models

import (
	"fmt"
	"time"
)

// RankedEntry is one row of a ranking snapshot. Rank is 1-based, dense, and
// unique within a snapshot.
type RankedEntry struct {
	VideoID VideoID `json:"video_id"`
	Score   uint64  `json:"score"`
	Rank    int     `json:"rank"`
}

// Snapshot is an immutable, ordered ranking of up to K videos for one
// (window, category) pair, tagged with a generation number that is strictly
// monotone per pair. Snapshots are never mutated after construction; readers
// share them by reference.
type Snapshot struct {
	Window     string        `json:"window"`
	Category   Category      `json:"category"`
	Generation uint64        `json:"generation"`
	Entries    []RankedEntry `json:"entries"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EmptySnapshot returns the generation-0 snapshot served before the first
// refresh has committed for a pair.
func EmptySnapshot(window string, category Category) *Snapshot {
	return &Snapshot{Window: window, Category: category, Entries: []RankedEntry{}}
}

// Clip returns a snapshot limited to the first k entries. When k is zero or
// negative, or at least the current length, the receiver is returned
// unchanged (snapshots are immutable, sharing is safe).
func (s *Snapshot) Clip(k int) *Snapshot {
	if k <= 0 || k >= len(s.Entries) {
		return s
	}
	clipped := *s
	clipped.Entries = s.Entries[:k]
	return &clipped
}

// Validate checks the internal consistency of a snapshot: ranks must be the
// dense sequence 1..len(entries), scores non-increasing, ties ordered by
// ascending VideoID, and no duplicate videos.
func (s *Snapshot) Validate() error {
	seen := make(map[VideoID]struct{}, len(s.Entries))
	for i, e := range s.Entries {
		if e.Rank != i+1 {
			return fmt.Errorf("snapshot %s/%s gen %d: entry %d has rank %d, want %d",
				s.Window, s.Category, s.Generation, i, e.Rank, i+1)
		}
		if _, dup := seen[e.VideoID]; dup {
			return fmt.Errorf("snapshot %s/%s gen %d: duplicate video %q",
				s.Window, s.Category, s.Generation, e.VideoID)
		}
		seen[e.VideoID] = struct{}{}
		if i == 0 {
			continue
		}
		prev := s.Entries[i-1]
		if e.Score > prev.Score {
			return fmt.Errorf("snapshot %s/%s gen %d: score order violated at rank %d",
				s.Window, s.Category, s.Generation, e.Rank)
		}
		if e.Score == prev.Score && e.VideoID < prev.VideoID {
			return fmt.Errorf("snapshot %s/%s gen %d: tie-break order violated at rank %d",
				s.Window, s.Category, s.Generation, e.Rank)
		}
	}
	return nil
}

// Move records a rank change for a video present in two successive
// snapshots.
type Move struct {
	VideoID  VideoID `json:"video"`
	FromRank int     `json:"from_rank"`
	ToRank   int     `json:"to_rank"`
}

// Delta is the difference between two successive snapshots of the same
// (window, category) pair, expressed as entered / moved / left. Applying a
// delta to the old snapshot reproduces the new one.
type Delta struct {
	Window     string        `json:"window"`
	Category   Category      `json:"category"`
	Generation uint64        `json:"generation"`
	Entered    []RankedEntry `json:"entered"`
	Moved      []Move        `json:"moved"`
	Left       []VideoID     `json:"left"`
}

// Empty reports whether the delta carries no changes.
func (d *Delta) Empty() bool {
	return len(d.Entered) == 0 && len(d.Moved) == 0 && len(d.Left) == 0
}

// DiffSnapshots computes the delta between two successive snapshots. The
// old snapshot may be nil (first refresh), in which case every entry of the
// new snapshot is an entered delta. Entries are emitted in new-snapshot rank
// order; left videos in old-snapshot rank order.
func DiffSnapshots(oldSnap, newSnap *Snapshot) *Delta {
	d := &Delta{
		Window:     newSnap.Window,
		Category:   newSnap.Category,
		Generation: newSnap.Generation,
		Entered:    []RankedEntry{},
		Moved:      []Move{},
		Left:       []VideoID{},
	}

	oldRanks := make(map[VideoID]int)
	if oldSnap != nil {
		for _, e := range oldSnap.Entries {
			oldRanks[e.VideoID] = e.Rank
		}
	}

	inNew := make(map[VideoID]struct{}, len(newSnap.Entries))
	for _, e := range newSnap.Entries {
		inNew[e.VideoID] = struct{}{}
		fromRank, present := oldRanks[e.VideoID]
		switch {
		case !present:
			d.Entered = append(d.Entered, e)
		case fromRank != e.Rank:
			d.Moved = append(d.Moved, Move{VideoID: e.VideoID, FromRank: fromRank, ToRank: e.Rank})
		}
	}

	if oldSnap != nil {
		for _, e := range oldSnap.Entries {
			if _, ok := inNew[e.VideoID]; !ok {
				d.Left = append(d.Left, e.VideoID)
			}
		}
	}

	return d
}
