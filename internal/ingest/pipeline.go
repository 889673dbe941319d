// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package ingest admits view events into the counting substrate: validate,
// bucket, deduplicate, then increment the category row and the ALL
// aggregate. Admission is bounded two ways: synchronous submits take a
// token from a fixed-size in-flight pool, and asynchronous producers
// (the NATS source) go through a bounded queue drained by a worker pool.
// Saturation of either rejects with ErrOverloaded rather than blocking.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/clock"
	"github.com/tomtom215/viewrank/internal/idempotency"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
)

// ErrInvalidEvent rejects an event that fails validation: malformed
// fields, unknown category, or an occurred_at outside the accepted skew.
var ErrInvalidEvent = errors.New("invalid event")

// ErrOverloaded rejects an event because the ingest queue or in-flight
// pool is saturated. Producers may retry.
var ErrOverloaded = errors.New("ingest overloaded")

// Result is the outcome of an accepted submission.
type Result struct {
	// Duplicate is true when the idempotency guard had already seen the
	// (video, session, bucket) key. The event was not counted again.
	Duplicate bool `json:"duplicate"`
}

// Options configures a Pipeline.
type Options struct {
	Categories  []models.Category // concrete categories; ALL is implicit
	BucketWidth time.Duration
	MaxSkew     time.Duration // oldest accepted occurred_at relative to now
	SmallFuture time.Duration // future drift tolerance

	QueueCapacity    int
	RetryMaxAttempts int
	RetryInterval    time.Duration
}

// Pipeline implements event admission. Safe for concurrent callers.
type Pipeline struct {
	opts  Options
	known map[models.Category]struct{}

	store bucketstore.Store
	guard *idempotency.Guard
	clk   clock.Clock

	inflight chan struct{}
	queue    chan models.ViewEvent

	retryLog rate.Sometimes
}

// NewPipeline builds a pipeline over the given store and guard.
func NewPipeline(opts Options, store bucketstore.Store, guard *idempotency.Guard, clk clock.Clock) *Pipeline {
	if opts.QueueCapacity < 1 {
		opts.QueueCapacity = 1
	}
	known := make(map[models.Category]struct{}, len(opts.Categories))
	for _, c := range opts.Categories {
		known[c] = struct{}{}
	}
	return &Pipeline{
		opts:     opts,
		known:    known,
		store:    store,
		guard:    guard,
		clk:      clk,
		inflight: make(chan struct{}, opts.QueueCapacity),
		queue:    make(chan models.ViewEvent, opts.QueueCapacity),
		retryLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Submit runs the full admission pipeline synchronously and reports
// whether the event was a duplicate. Returns ErrInvalidEvent,
// ErrOverloaded, or ErrStorageUnavailable after retry exhaustion.
func (p *Pipeline) Submit(ctx context.Context, ev models.ViewEvent) (Result, error) {
	select {
	case p.inflight <- struct{}{}:
	default:
		metrics.IngestEventsTotal.WithLabelValues("overloaded").Inc()
		return Result{}, ErrOverloaded
	}
	defer func() { <-p.inflight }()

	return p.process(ctx, ev)
}

// Enqueue hands an event to the worker pool without waiting for the
// outcome. Returns ErrOverloaded when the queue is full.
func (p *Pipeline) Enqueue(ev models.ViewEvent) error {
	select {
	case p.queue <- ev:
		metrics.IngestQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.IngestEventsTotal.WithLabelValues("overloaded").Inc()
		return ErrOverloaded
	}
}

// QueueDepth returns the number of queued events.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

// process is the pipeline body shared by Submit and the worker pool.
func (p *Pipeline) process(ctx context.Context, ev models.ViewEvent) (Result, error) {
	if err := p.validate(ev); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	bucketStart := clock.BucketOf(ev.OccurredAt, p.opts.BucketWidth)
	now := p.clk.Now()

	if p.guard != nil && p.guard.Check(ev.VideoID, ev.SessionID, bucketStart, now) == idempotency.Duplicate {
		metrics.IngestEventsTotal.WithLabelValues("duplicate").Inc()
		metrics.IdempotencyDuplicatesTotal.Inc()
		return Result{Duplicate: true}, nil
	}

	if err := p.increment(ctx, ev.VideoID, ev.Category, bucketStart); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("dropped").Inc()
		metrics.IngestDropsTotal.WithLabelValues("storage").Inc()
		return Result{}, err
	}
	if err := p.increment(ctx, ev.VideoID, models.CategoryAll, bucketStart); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("dropped").Inc()
		metrics.IngestDropsTotal.WithLabelValues("storage").Inc()
		return Result{}, err
	}

	metrics.IngestEventsTotal.WithLabelValues("accepted").Inc()
	return Result{}, nil
}

// validate enforces the admission rules: well-formed event, known
// concrete category, occurred_at within [now - MaxSkew, now + SmallFuture].
func (p *Pipeline) validate(ev models.ViewEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if _, ok := p.known[ev.Category]; !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, ev.Category)
	}

	now := p.clk.Now()
	if ev.OccurredAt.Before(now.Add(-p.opts.MaxSkew)) {
		return fmt.Errorf("%w: occurred_at %s is older than the accepted skew", ErrInvalidEvent, ev.OccurredAt.Format(time.RFC3339))
	}
	if ev.OccurredAt.After(now.Add(p.opts.SmallFuture)) {
		return fmt.Errorf("%w: occurred_at %s is in the future", ErrInvalidEvent, ev.OccurredAt.Format(time.RFC3339))
	}
	return nil
}

// increment adds one view with bounded exponential backoff on transient
// storage failures. On exhaustion the event is dropped and the error
// surfaces to the caller.
func (p *Pipeline) increment(ctx context.Context, video models.VideoID, category models.Category, bucketStart time.Time) error {
	operation := func() error {
		_, err := p.store.Increment(ctx, video, category, bucketStart, 1)
		if err != nil && !errors.Is(err, bucketstore.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	if p.opts.RetryInterval > 0 {
		bo.InitialInterval = p.opts.RetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.opts.RetryMaxAttempts)), ctx)

	notify := func(err error, next time.Duration) {
		metrics.IngestRetriesTotal.Inc()
		p.retryLog.Do(func() {
			logging.Warn().Err(err).
				Str("video", string(video)).
				Str("category", string(category)).
				Dur("next_retry", next).
				Msg("bucket increment retrying after storage error")
		})
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("increment %s/%s: %w", video, category, err)
	}
	return nil
}
