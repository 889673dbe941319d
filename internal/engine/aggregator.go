// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package engine

import (
	"context"
	"time"

	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/models"
	"github.com/tomtom215/viewrank/internal/topk"
)

// Aggregator computes a video's window score from its per-bucket counts.
// It owns no goroutine and carries no state beyond its collaborators; the
// refresh runner calls it once per candidate, O(N) in the bucket count.
type Aggregator struct {
	store  bucketstore.Store
	scorer topk.Scorer
}

// NewAggregator builds an aggregator over the given store and scoring
// policy.
func NewAggregator(store bucketstore.Store, scorer topk.Scorer) *Aggregator {
	return &Aggregator{store: store, scorer: scorer}
}

// Score returns the score of one video for the window ending at the bucket
// containing now.
func (a *Aggregator) Score(ctx context.Context, video models.VideoID, category models.Category, window models.WindowDef, now time.Time) (uint64, error) {
	counts, err := a.store.BucketCounts(ctx, video, category, window, now)
	if err != nil {
		return 0, err
	}
	return a.scorer.Score(counts), nil
}
