// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package clock

import (
	"testing"
	"time"
)

func TestBucketOf(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 34, 56, 789, time.UTC)

	tests := []struct {
		name  string
		t     time.Time
		width time.Duration
		want  time.Time
	}{
		{
			name:  "minute bucket",
			t:     base,
			width: time.Minute,
			want:  time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC),
		},
		{
			name:  "exact boundary stays",
			t:     time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC),
			width: time.Minute,
			want:  time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC),
		},
		{
			name:  "hour bucket",
			t:     base,
			width: time.Hour,
			want:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BucketOf(tt.t, tt.width); !got.Equal(tt.want) {
				t.Errorf("BucketOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystem_Monotone(t *testing.T) {
	c := NewSystem()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		if now.Before(prev) {
			t.Fatalf("clock went backwards: %v < %v", now, prev)
		}
		prev = now
	}
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if !c.Now().Equal(start) {
		t.Errorf("Expected %v, got %v", start, c.Now())
	}

	c.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Errorf("Expected %v after advance, got %v", want, c.Now())
	}
}
