// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/viewrank/internal/models"
)

// fakeSource serves snapshots for the pair ("1h", "music") only.
type fakeSource struct {
	mu      sync.Mutex
	current *models.Snapshot
}

func newFakeSource() *fakeSource {
	return &fakeSource{current: models.EmptySnapshot("1h", "music")}
}

func (f *fakeSource) Current(window string, category models.Category) *models.Snapshot {
	if window != "1h" || category != "music" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) set(snap *models.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = snap
}

func snapshotGen(gen uint64, entries ...models.RankedEntry) *models.Snapshot {
	if entries == nil {
		entries = []models.RankedEntry{}
	}
	return &models.Snapshot{
		Window:     "1h",
		Category:   "music",
		Generation: gen,
		Entries:    entries,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func startHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func receive(t *testing.T, sub *Subscriber) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Mailbox:
		if !ok {
			t.Fatalf("Mailbox closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for a message")
		return nil
	}
}

func TestHub_InitialSnapshotOnSubscribe(t *testing.T) {
	source := newFakeSource()
	source.set(snapshotGen(3, models.RankedEntry{VideoID: "v1", Score: 9, Rank: 1}))
	hub := NewHub(source, 16, 8)
	startHub(t, hub)

	sub, err := hub.Subscribe("1h", "music")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer hub.Unsubscribe(sub)

	msg := receive(t, sub)
	if msg.Type != MessageSnapshot {
		t.Fatalf("First message type = %q, want %q", msg.Type, MessageSnapshot)
	}
	if msg.Snapshot.Generation != 3 || len(msg.Snapshot.Entries) != 1 {
		t.Errorf("Initial snapshot wrong: gen=%d entries=%d", msg.Snapshot.Generation, len(msg.Snapshot.Entries))
	}
}

func TestHub_RejectsUnknownPair(t *testing.T) {
	hub := NewHub(newFakeSource(), 16, 8)
	startHub(t, hub)

	if _, err := hub.Subscribe("1h", "gaming"); !errors.Is(err, ErrUnknownPair) {
		t.Errorf("Expected ErrUnknownPair, got %v", err)
	}
}

func TestHub_DeltasInGenerationOrder(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 8)
	startHub(t, hub)

	sub, err := hub.Subscribe("1h", "music")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer hub.Unsubscribe(sub)
	receive(t, sub) // initial snapshot

	prev := source.Current("1h", "music")
	for gen := uint64(1); gen <= 3; gen++ {
		next := snapshotGen(gen, models.RankedEntry{VideoID: "v1", Score: gen, Rank: 1})
		hub.Publish(prev, next)
		source.set(next)
		prev = next
	}

	for gen := uint64(1); gen <= 3; gen++ {
		msg := receive(t, sub)
		if msg.Type != MessageDelta {
			t.Fatalf("Message type = %q, want %q", msg.Type, MessageDelta)
		}
		if msg.Delta.Generation != gen {
			t.Errorf("Delta generation = %d, want %d", msg.Delta.Generation, gen)
		}
	}
}

func TestHub_FirstDeltaAllEntered(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 8)
	startHub(t, hub)

	sub, _ := hub.Subscribe("1h", "music")
	defer hub.Unsubscribe(sub)
	receive(t, sub)

	old := source.Current("1h", "music")
	next := snapshotGen(1,
		models.RankedEntry{VideoID: "v1", Score: 9, Rank: 1},
		models.RankedEntry{VideoID: "v2", Score: 4, Rank: 2},
	)
	hub.Publish(old, next)

	msg := receive(t, sub)
	if len(msg.Delta.Entered) != 2 || len(msg.Delta.Moved) != 0 || len(msg.Delta.Left) != 0 {
		t.Errorf("First delta should be all entered: %+v", msg.Delta)
	}
}

func TestHub_SlowConsumerDisconnected(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 1) // one-slot mailbox
	startHub(t, hub)

	sub, err := hub.Subscribe("1h", "music")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	// Never drain: the initial snapshot occupies the single slot, so the
	// first delta overflows and must disconnect the subscriber.
	prev := source.Current("1h", "music")
	hub.Publish(prev, snapshotGen(1))

	select {
	case msg, ok := <-sub.Mailbox:
		if !ok {
			break
		}
		// Drained the initial snapshot; the close must follow.
		if msg.Type != MessageSnapshot {
			t.Fatalf("Unexpected message type %q", msg.Type)
		}
		hub.Publish(source.Current("1h", "music"), snapshotGen(2))
		hub.Publish(source.Current("1h", "music"), snapshotGen(3))
		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, open := <-sub.Mailbox:
				if !open {
					return
				}
			case <-deadline:
				t.Fatalf("Slow consumer was not disconnected")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Expected initial snapshot or close")
	}
}

func TestHub_ResyncSendsFullSnapshot(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 8)
	startHub(t, hub)

	sub, _ := hub.Subscribe("1h", "music")
	defer hub.Unsubscribe(sub)
	receive(t, sub)

	source.set(snapshotGen(9, models.RankedEntry{VideoID: "v7", Score: 2, Rank: 1}))
	hub.Resync(sub)

	msg := receive(t, sub)
	if msg.Type != MessageResync {
		t.Fatalf("Message type = %q, want %q", msg.Type, MessageResync)
	}
	if msg.Snapshot.Generation != 9 {
		t.Errorf("Resync generation = %d, want 9", msg.Snapshot.Generation)
	}
}

func TestHub_UnsubscribeClosesMailbox(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 8)
	startHub(t, hub)

	sub, _ := hub.Subscribe("1h", "music")
	receive(t, sub)
	hub.Unsubscribe(sub)

	select {
	case _, open := <-sub.Mailbox:
		if open {
			t.Errorf("Expected closed mailbox after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Mailbox not closed after unsubscribe")
	}
}

func TestHub_ShutdownClosesAllMailboxes(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, 16, 8)
	cancel := startHub(t, hub)

	sub, _ := hub.Subscribe("1h", "music")
	receive(t, sub)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sub.Mailbox:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("Mailbox not closed on hub shutdown")
		}
	}
}
