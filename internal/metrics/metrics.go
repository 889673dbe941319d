// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package metrics defines the Prometheus instrumentation for ViewRank:
// ingest throughput and drops, refresh latency, heap and snapshot state,
// broadcaster fan-out, and persistence health.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest Metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_ingest_events_total",
			Help: "Total number of ingest submissions by outcome",
		},
		[]string{"outcome"}, // "accepted", "duplicate", "invalid", "overloaded", "dropped"
	)

	IngestDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_ingest_drops_total",
			Help: "Total number of events dropped after retry exhaustion",
		},
		[]string{"drop_reason"}, // "storage", "shutdown"
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewrank_ingest_queue_depth",
			Help: "Current number of events waiting in the ingest queue",
		},
	)

	IngestRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewrank_ingest_storage_retries_total",
			Help: "Total number of bucket increment retries after storage errors",
		},
	)

	// Refresh Metrics
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewrank_refresh_duration_seconds",
			Help:    "Duration of one full refresh tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"window"},
	)

	RefreshCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewrank_refresh_candidates",
			Help:    "Number of candidate videos scored per (window, category) refresh",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 .. ~262k
		},
		[]string{"window", "category"},
	)

	RefreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_refresh_failures_total",
			Help: "Total number of per-pair refresh failures",
		},
		[]string{"window", "category", "reason"}, // "storage", "snapshot_build"
	)

	// Heap / Snapshot Metrics
	HeapSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewrank_topk_heap_size",
			Help: "Current number of entries in the Top-K heap per (window, category)",
		},
		[]string{"window", "category"},
	)

	SnapshotGeneration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewrank_snapshot_generation",
			Help: "Generation number of the most recently committed snapshot",
		},
		[]string{"window", "category"},
	)

	BucketEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewrank_bucket_entries",
			Help: "Current number of (video, category, bucket) counter rows held in memory",
		},
	)

	BucketEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewrank_bucket_evictions_total",
			Help: "Total number of bucket counter rows evicted",
		},
	)

	IdempotencyDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewrank_idempotency_duplicates_total",
			Help: "Total number of events rejected as duplicates by the idempotency guard",
		},
	)

	// Broadcaster Metrics
	BroadcastSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewrank_broadcast_subscribers",
			Help: "Current number of connected delta subscribers per (window, category)",
		},
		[]string{"window", "category"},
	)

	BroadcastDeltasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_broadcast_deltas_total",
			Help: "Total number of deltas fanned out to subscribers",
		},
		[]string{"window", "category"},
	)

	BroadcastDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_broadcast_disconnects_total",
			Help: "Total number of subscriber disconnects",
		},
		[]string{"reason"}, // "slow_consumer", "closed"
	)

	// Snapshot Persistence Metrics
	SnapshotPersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_snapshot_persist_total",
			Help: "Total number of snapshot persistence attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewrank_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewrank_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewrank_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
