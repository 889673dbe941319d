// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package models defines the core domain types shared across the engine:
// view events, ranked snapshots, deltas, and window definitions.
package models

import (
	"errors"
	"time"
)

// VideoID is an opaque, stable video identifier. The natural string order
// is used for deterministic tie-breaking: on equal scores the smaller
// VideoID ranks higher.
type VideoID string

// Category is a small enumerated content tag. The category set is fixed at
// process start.
type Category string

// CategoryAll is the distinguished aggregate category that reflects every
// video regardless of its tagged category. It is always implicitly present.
const CategoryAll Category = "ALL"

// ErrMissingVideoID is returned when an event has no video_id.
var ErrMissingVideoID = errors.New("event missing video_id")

// ErrMissingOccurredAt is returned when an event has no occurred_at timestamp.
var ErrMissingOccurredAt = errors.New("event missing occurred_at")

// ViewEvent is an immutable view event as submitted by producers.
//
// Wire form (JSON):
//
//	{ "video_id": "<string>", "category": "<string>",
//	  "session_id": "<string|null>", "occurred_at": "<RFC3339>" }
type ViewEvent struct {
	VideoID    VideoID   `json:"video_id" validate:"required,min=1,max=256"`
	Category   Category  `json:"category" validate:"required,min=1,max=64"`
	SessionID  string    `json:"session_id,omitempty" validate:"max=256"`
	OccurredAt time.Time `json:"occurred_at" validate:"required"`
}

// Validate performs the structural checks that do not depend on
// configuration (category membership and skew are checked by the ingest
// pipeline, which knows the configured category set and clock).
func (e *ViewEvent) Validate() error {
	if e.VideoID == "" {
		return ErrMissingVideoID
	}
	if e.OccurredAt.IsZero() {
		return ErrMissingOccurredAt
	}
	return nil
}

// HasSession reports whether the event carries a session identifier.
// Events without a session bypass the idempotency guard.
func (e *ViewEvent) HasSession() bool {
	return e.SessionID != ""
}
