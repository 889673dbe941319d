// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package ingest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
)

// WorkerPool drains the pipeline's bounded queue with a fixed set of
// workers. It implements suture.Service; on shutdown the remaining queue
// is drained up to a deadline and whatever is left is dropped and counted.
type WorkerPool struct {
	pipeline     *Pipeline
	workers      int
	drainTimeout time.Duration
}

// NewWorkerPool creates a pool of the given size. workers <= 0 uses one
// worker per CPU.
func NewWorkerPool(pipeline *Pipeline, workers int, drainTimeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &WorkerPool{pipeline: pipeline, workers: workers, drainTimeout: drainTimeout}
}

// Serve implements suture.Service.
func (w *WorkerPool) Serve(ctx context.Context) error {
	logging.Info().Int("workers", w.workers).Msg("ingest worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()

	w.drain()
	logging.Info().Msg("ingest worker pool stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (w *WorkerPool) String() string {
	return "ingest-workers"
}

func (w *WorkerPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.pipeline.queue:
			metrics.IngestQueueDepth.Set(float64(len(w.pipeline.queue)))
			w.handle(ctx, ev)
		}
	}
}

// handle processes one queued event. Outcomes are already counted by the
// pipeline; queued submits have no caller to report to, so failures are
// logged at debug and dropped.
func (w *WorkerPool) handle(ctx context.Context, ev models.ViewEvent) {
	if _, err := w.pipeline.process(ctx, ev); err != nil {
		logging.Debug().Err(err).
			Str("video", string(ev.VideoID)).
			Msg("queued event rejected")
	}
}

// drain empties the queue after cancellation, bounded by the drain
// timeout. Events still queued at the deadline are dropped.
func (w *WorkerPool) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-w.pipeline.queue:
			if ctx.Err() != nil {
				metrics.IngestEventsTotal.WithLabelValues("dropped").Inc()
				metrics.IngestDropsTotal.WithLabelValues("shutdown").Inc()
				continue
			}
			w.handle(ctx, ev)
		default:
			metrics.IngestQueueDepth.Set(0)
			return
		}
	}
}
