// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package snapshotstore

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
)

// BreakerStore wraps a Store with a circuit breaker so a struggling disk
// or full volume cannot slow every refresh tick down to its timeout.
// While the circuit is open, persists are rejected immediately and the
// engine keeps serving from memory.
//
// The breaker uses real time for its interval and timeout calculations;
// that timing governs recovery, not data integrity, so tests exercise the
// wrapped store directly.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner. The circuit opens after 60% failures with
// at least 5 requests in a 30s window, and probes again after 1 minute.
func NewBreakerStore(inner Store) *BreakerStore {
	name := "snapshot-store"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("snapshot store circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerStore{inner: inner, cb: cb}
}

// Persist implements Store.
func (b *BreakerStore) Persist(ctx context.Context, snap *models.Snapshot) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Persist(ctx, snap)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SnapshotPersistTotal.WithLabelValues("rejected").Inc()
			return ErrUnavailable
		}
		return err
	}
	return nil
}

// Latest implements Store.
func (b *BreakerStore) Latest(ctx context.Context, window string, category models.Category) (*models.Snapshot, error) {
	result, err := b.cb.Execute(func() (any, error) {
		snap, err := b.inner.Latest(ctx, window, category)
		if errors.Is(err, ErrNotFound) {
			// Absence is a valid answer, not a storage failure.
			return (*models.Snapshot)(nil), nil
		}
		return snap, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	snap, _ := result.(*models.Snapshot)
	if snap == nil {
		return nil, ErrNotFound
	}
	return snap, nil
}

// Close implements Store.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
