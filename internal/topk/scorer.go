// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package topk

// Scorer turns the per-bucket counts of a window (oldest bucket first)
// into a single score. Implementations must be monotone: raising any
// bucket count never lowers the score. Scores are unsigned 64-bit so high
// view counts never lose precision.
type Scorer interface {
	Score(counts []uint64) uint64
}

// SumScorer is the default scorer: the plain sum of bucket counts.
type SumScorer struct{}

// Score implements Scorer.
func (SumScorer) Score(counts []uint64) uint64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	return total
}

// DecayScorer weights recent buckets more heavily: the newest bucket
// counts at full weight, each older bucket is scaled down linearly to a
// floor of Floor percent. Monotone in every bucket. Not the default;
// opt-in via engine construction.
type DecayScorer struct {
	// Floor is the weight percentage (1..100) applied to the oldest
	// bucket. 100 degenerates to SumScorer.
	Floor uint64
}

// Score implements Scorer.
func (d DecayScorer) Score(counts []uint64) uint64 {
	n := uint64(len(counts))
	if n == 0 {
		return 0
	}
	floor := d.Floor
	if floor < 1 {
		floor = 1
	}
	if floor > 100 {
		floor = 100
	}

	var total uint64
	for i, c := range counts {
		// Linear ramp from floor% (oldest bucket) to 100% (newest).
		weight := floor + uint64(i)*(100-floor)/maxU64(n-1, 1)
		total += c * weight / 100
	}
	return total
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
