// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package idempotency deduplicates view events by (video, session, bucket)
// so at-least-once producers never inflate counts. Entries expire after a
// TTL sized to the largest window plus the eviction grace, after which a
// replay could not land in a live bucket anyway.
package idempotency

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/viewrank/internal/models"
)

// Status is the outcome of an idempotency check.
type Status int

const (
	// Fresh means the key has not been seen inside the TTL.
	Fresh Status = iota
	// Duplicate means an event with the same key was already accepted.
	Duplicate
)

const shardCount = 64

type shard struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> expiry
}

// Guard is a sharded TTL set safe for concurrent callers. Check both tests
// and records in one step, so two racing submits of the same key can admit
// at most one.
type Guard struct {
	shards [shardCount]*shard
	ttl    time.Duration
}

// NewGuard creates a guard with the given entry TTL.
func NewGuard(ttl time.Duration) *Guard {
	g := &Guard{ttl: ttl}
	for i := range g.shards {
		g.shards[i] = &shard{seen: make(map[string]time.Time)}
	}
	return g
}

// Check records (video, session, bucket) and reports whether it was fresh.
// Events without a session bypass the guard and are always fresh.
func (g *Guard) Check(video models.VideoID, sessionID string, bucketStart time.Time, now time.Time) Status {
	if sessionID == "" {
		return Fresh
	}

	key := string(video) + "\x00" + sessionID + "\x00" + strconv.FormatInt(bucketStart.Unix(), 10)

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	sh := g.shards[h.Sum32()&(shardCount-1)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if expiry, ok := sh.seen[key]; ok && now.Before(expiry) {
		return Duplicate
	}
	sh.seen[key] = now.Add(g.ttl)
	return Fresh
}

// Sweep removes expired entries. The engine calls this once per refresh
// tick; cost is proportional to the number of live entries.
func (g *Guard) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range g.shards {
		sh.mu.Lock()
		for key, expiry := range sh.seen {
			if !now.Before(expiry) {
				delete(sh.seen, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live entries.
func (g *Guard) Len() int {
	n := 0
	for _, sh := range g.shards {
		sh.mu.Lock()
		n += len(sh.seen)
		sh.mu.Unlock()
	}
	return n
}
