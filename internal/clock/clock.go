// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package clock provides the time source injected into every component.
// All time reads in the engine go through a Clock so that tests can drive
// time deterministically and so that wall-clock jumps backwards never
// produce non-monotone bucket boundaries.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source handle every component receives.
type Clock interface {
	// Now returns the current time. Successive calls never go backwards.
	Now() time.Time
}

// BucketOf quantizes t to the start of its bucket for the given width.
// Buckets are half-open intervals [start, start+width).
func BucketOf(t time.Time, width time.Duration) time.Time {
	return t.Truncate(width)
}

// System is a monotone wall clock. If the wall clock jumps backwards (NTP
// step, VM migration), the output is clamped to the last observed value so
// bucket boundaries never regress.
type System struct {
	mu   sync.Mutex
	last time.Time
}

// NewSystem creates a monotone system clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current wall time, clamped forward.
func (c *System) Now() time.Time {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned at the given time.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake's current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the fake clock to t.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
