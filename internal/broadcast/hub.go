// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package broadcast fans ranking changes out to subscribers. The refresh
// runner publishes old/new snapshot pairs; a single hub goroutine computes
// the delta and delivers it to every subscriber of that (window, category)
// through a bounded per-subscriber mailbox. A subscriber whose mailbox is
// full is disconnected rather than silently losing deltas; clients detect
// the drop and reconnect.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/metrics"
	"github.com/tomtom215/viewrank/internal/models"
)

// ErrUnknownPair is returned by Subscribe for a (window, category) that
// was not configured.
var ErrUnknownPair = errors.New("unknown window/category pair")

// ErrHubClosed is returned when subscribing to a hub that has shut down.
var ErrHubClosed = errors.New("broadcast hub closed")

// Message types delivered to subscriber mailboxes.
const (
	// MessageSnapshot carries the full current ranking, sent on subscribe.
	MessageSnapshot = "snapshot"
	// MessageDelta carries one generation's changes. Empty deltas are
	// delivered too so subscribers observe a gap-free generation sequence.
	MessageDelta = "delta"
	// MessageResync carries a full ranking sent on explicit request after
	// a subscriber detects missed generations.
	MessageResync = "resync"
)

// Message is one mailbox item.
type Message struct {
	Type     string           `json:"type"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Delta    *models.Delta    `json:"delta,omitempty"`
}

// SnapshotSource supplies the current committed snapshot for a pair, used
// for initial sends and resyncs. The engine implements it.
type SnapshotSource interface {
	Current(window string, category models.Category) *models.Snapshot
}

// Subscriber is one registered delta consumer. Transport handlers drain
// Mailbox until it is closed.
type Subscriber struct {
	ID       string
	Window   string
	Category models.Category

	// Mailbox is closed by the hub on disconnect; consumers must treat a
	// closed channel as the end of the stream.
	Mailbox chan *Message
}

type pairKey struct {
	window   string
	category models.Category
}

type update struct {
	oldSnap *models.Snapshot
	newSnap *models.Snapshot
}

type resyncReq struct {
	sub *Subscriber
}

// Hub is the single-goroutine broadcaster. It implements engine.DeltaSink
// via Publish and suture.Service via Serve.
type Hub struct {
	source SnapshotSource

	mailboxCap int
	updates    chan update
	register   chan *Subscriber
	unregister chan *Subscriber
	resyncs    chan resyncReq

	subscribers map[pairKey]map[string]*Subscriber

	done chan struct{}

	overflowLog rate.Sometimes
	slowLog     rate.Sometimes
}

// NewHub creates a hub. queueCap bounds the update queue between the
// refresh runner and the hub; mailboxCap bounds each subscriber mailbox.
func NewHub(source SnapshotSource, queueCap, mailboxCap int) *Hub {
	if queueCap < 1 {
		queueCap = 1
	}
	if mailboxCap < 1 {
		mailboxCap = 1
	}
	return &Hub{
		source:      source,
		mailboxCap:  mailboxCap,
		updates:     make(chan update, queueCap),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		resyncs:     make(chan resyncReq),
		subscribers: make(map[pairKey]map[string]*Subscriber),
		done:        make(chan struct{}),
		overflowLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
		slowLog:     rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Publish hands a committed snapshot transition to the hub. Never blocks
// the caller: if the update queue is full the transition is dropped with a
// throttled warning, and affected subscribers recover via resync.
func (h *Hub) Publish(oldSnap, newSnap *models.Snapshot) {
	select {
	case h.updates <- update{oldSnap: oldSnap, newSnap: newSnap}:
	default:
		h.overflowLog.Do(func() {
			logging.Warn().
				Str("window", newSnap.Window).
				Str("category", string(newSnap.Category)).
				Uint64("generation", newSnap.Generation).
				Msg("broadcast update queue full, transition dropped")
		})
	}
}

// Subscribe registers a consumer for one pair. The first mailbox message
// is the full current snapshot; deltas follow in generation order.
func (h *Hub) Subscribe(window string, category models.Category) (*Subscriber, error) {
	if h.source.Current(window, category) == nil {
		return nil, ErrUnknownPair
	}
	sub := &Subscriber{
		ID:       uuid.NewString(),
		Window:   window,
		Category: category,
		Mailbox:  make(chan *Message, h.mailboxCap),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Unsubscribe removes a consumer. Safe to call after a hub-side
// disconnect; the second removal is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Resync asks the hub to send the subscriber a fresh full snapshot, used
// after the client detects a generation gap.
func (h *Hub) Resync(sub *Subscriber) {
	select {
	case h.resyncs <- resyncReq{sub: sub}:
	case <-h.done:
	}
}

// Serve implements suture.Service: the hub event loop.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Msg("broadcast hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("broadcast hub stopping")
			return ctx.Err()
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub, "closed")
		case req := <-h.resyncs:
			h.resync(req.sub)
		case up := <-h.updates:
			h.fanOut(up)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "broadcast-hub"
}

func (h *Hub) add(sub *Subscriber) {
	key := pairKey{window: sub.Window, category: sub.Category}
	if h.subscribers[key] == nil {
		h.subscribers[key] = make(map[string]*Subscriber)
	}
	h.subscribers[key][sub.ID] = sub
	metrics.BroadcastSubscribers.WithLabelValues(sub.Window, string(sub.Category)).Inc()

	// Initial state; the mailbox is empty so this cannot fail.
	sub.Mailbox <- &Message{Type: MessageSnapshot, Snapshot: h.source.Current(sub.Window, sub.Category)}
}

func (h *Hub) remove(sub *Subscriber, reason string) {
	key := pairKey{window: sub.Window, category: sub.Category}
	group, ok := h.subscribers[key]
	if !ok {
		return
	}
	if _, present := group[sub.ID]; !present {
		return
	}
	delete(group, sub.ID)
	if len(group) == 0 {
		delete(h.subscribers, key)
	}
	close(sub.Mailbox)
	metrics.BroadcastSubscribers.WithLabelValues(sub.Window, string(sub.Category)).Dec()
	metrics.BroadcastDisconnectsTotal.WithLabelValues(reason).Inc()
}

func (h *Hub) resync(sub *Subscriber) {
	key := pairKey{window: sub.Window, category: sub.Category}
	if _, present := h.subscribers[key][sub.ID]; !present {
		return
	}
	msg := &Message{Type: MessageResync, Snapshot: h.source.Current(sub.Window, sub.Category)}
	h.deliver(sub, msg)
}

func (h *Hub) fanOut(up update) {
	delta := models.DiffSnapshots(up.oldSnap, up.newSnap)
	key := pairKey{window: up.newSnap.Window, category: up.newSnap.Category}
	group := h.subscribers[key]
	if len(group) == 0 {
		return
	}

	msg := &Message{Type: MessageDelta, Delta: delta}
	for _, sub := range group {
		h.deliver(sub, msg)
	}
	metrics.BroadcastDeltasTotal.WithLabelValues(key.window, string(key.category)).Add(float64(len(group)))
}

// deliver try-sends to the subscriber mailbox. A full mailbox means the
// consumer is not keeping up; it is disconnected rather than given a
// silently gapped stream.
func (h *Hub) deliver(sub *Subscriber, msg *Message) {
	select {
	case sub.Mailbox <- msg:
	default:
		h.slowLog.Do(func() {
			logging.Warn().
				Str("subscriber", sub.ID).
				Str("window", sub.Window).
				Str("category", string(sub.Category)).
				Msg("slow consumer disconnected")
		})
		h.remove(sub, "slow_consumer")
	}
}

// shutdown closes every mailbox so transport handlers unblock.
func (h *Hub) shutdown() {
	close(h.done)
	for key, group := range h.subscribers {
		for _, sub := range group {
			close(sub.Mailbox)
			metrics.BroadcastSubscribers.WithLabelValues(sub.Window, string(sub.Category)).Dec()
			metrics.BroadcastDisconnectsTotal.WithLabelValues("closed").Inc()
		}
		delete(h.subscribers, key)
	}
}
