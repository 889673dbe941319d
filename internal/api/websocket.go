// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/viewrank/internal/broadcast"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced by the router middleware; the handshake itself
	// accepts any origin the middleware let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsControl is the only client-to-server message: an explicit resync
// request after the client detects a generation gap.
type wsControl struct {
	Action string `json:"action"` // "resync"
}

// WebSocket handles GET /api/v1/ws?window=...&category=...: the delta
// stream over a WebSocket. Messages mirror the SSE stream: one full
// snapshot, then generation-ordered deltas.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	category := models.Category(r.URL.Query().Get("category"))

	sub, err := h.hub.Subscribe(window, category)
	if err != nil {
		if errors.Is(err, broadcast.ErrUnknownPair) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	logging.Debug().
		Str("subscriber", sub.ID).
		Str("window", window).
		Str("category", string(category)).
		Msg("websocket subscriber connected")

	go h.wsWritePump(conn, sub)
	go h.wsReadPump(conn, sub)
}

// wsWritePump drains the subscriber mailbox to the connection and keeps
// the connection alive with pings. It owns all writes.
func (h *Handler) wsWritePump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, open := <-sub.Mailbox:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !open {
				// Hub dropped us (slow consumer or shutdown).
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscription closed"))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logging.Debug().Err(err).Msg("websocket message encode failed")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReadPump consumes control messages and detects disconnects.
func (h *Handler) wsReadPump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(wsMaxMessage)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("subscriber", sub.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		var ctrl wsControl
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		if ctrl.Action == "resync" {
			h.hub.Resync(sub)
		}
	}
}
