// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/viewrank/internal/broadcast"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
)

// TrendingStream handles GET /api/v1/trending/{window}/{category}/stream:
// the delta stream as Server-Sent Events. The first event is the full
// snapshot; deltas follow in generation order. The stream ends when the
// client disconnects or the hub drops the subscriber for falling behind.
func (h *Handler) TrendingStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	window := chi.URLParam(r, "window")
	category := models.Category(chi.URLParam(r, "category"))

	sub, err := h.hub.Subscribe(window, category)
	if err != nil {
		if errors.Is(err, broadcast.ErrUnknownPair) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.Mailbox:
			if !open {
				// Dropped by the hub; the client reconnects for a resync.
				return
			}
			if err := writeSSE(w, msg); err != nil {
				logging.Debug().Err(err).Str("subscriber", sub.ID).Msg("sse write failed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, msg *broadcast.Message) error {
	var payload any
	switch msg.Type {
	case broadcast.MessageDelta:
		payload = msg.Delta
	default:
		payload = msg.Snapshot
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
	return err
}
