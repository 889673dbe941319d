// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package models

import (
	"fmt"
	"time"
)

// WindowDef describes a named sliding window composed of an integer number
// of fixed-width sub-buckets. Windows are configured once at start.
type WindowDef struct {
	// Name is the external identifier of the window (e.g. "1h", "24h", "7d").
	Name string

	// Duration is the total span of the window.
	Duration time.Duration

	// BucketWidth is the tumbling sub-bucket granularity. All windows of an
	// engine share the same bucket width.
	BucketWidth time.Duration
}

// NewWindowDef validates and builds a window definition. The duration must
// be a positive integer multiple of the bucket width.
func NewWindowDef(name string, duration, bucketWidth time.Duration) (WindowDef, error) {
	if name == "" {
		return WindowDef{}, fmt.Errorf("window name must not be empty")
	}
	if bucketWidth <= 0 {
		return WindowDef{}, fmt.Errorf("window %q: bucket width must be positive, got %s", name, bucketWidth)
	}
	if duration <= 0 || duration%bucketWidth != 0 {
		return WindowDef{}, fmt.Errorf("window %q: duration %s must be a positive multiple of bucket width %s",
			name, duration, bucketWidth)
	}
	return WindowDef{Name: name, Duration: duration, BucketWidth: bucketWidth}, nil
}

// Buckets returns N, the number of sub-buckets the window spans.
func (w WindowDef) Buckets() int {
	return int(w.Duration / w.BucketWidth)
}

// Start returns the inclusive start of the window ending at the bucket
// that contains now. The window covers the N most recent buckets, the
// current (still open) bucket included.
func (w WindowDef) Start(now time.Time) time.Time {
	current := now.Truncate(w.BucketWidth)
	return current.Add(-time.Duration(w.Buckets()-1) * w.BucketWidth)
}
