// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package api exposes the ViewRank HTTP surface: event ingest, the
// trending read API, streaming deltas over SSE and WebSocket, health
// probes, and Prometheus metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/viewrank/internal/broadcast"
	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/engine"
	"github.com/tomtom215/viewrank/internal/ingest"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
)

// maxEventBody bounds an ingest request body. Events are small; anything
// larger is rejected before decoding.
const maxEventBody = 16 << 10

// Handler implements the HTTP endpoints.
type Handler struct {
	engine   *engine.Engine
	pipeline *ingest.Pipeline
	hub      *broadcast.Hub
}

// NewHandler creates a handler over the engine, ingest pipeline, and
// broadcast hub.
func NewHandler(eng *engine.Engine, pipeline *ingest.Pipeline, hub *broadcast.Hub) *Handler {
	return &Handler{engine: eng, pipeline: pipeline, hub: hub}
}

type ingestResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug().Err(err).Msg("response encode failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// Ingest handles POST /api/v1/events.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev models.ViewEvent
	body := http.MaxBytesReader(w, r.Body, maxEventBody)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "malformed event body")
		return
	}

	res, err := h.pipeline.Submit(r.Context(), ev)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, ingestResponse{Accepted: true, Duplicate: res.Duplicate})
	case errors.Is(err, ingest.ErrInvalidEvent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusTooManyRequests, "ingest overloaded, retry later")
	case errors.Is(err, bucketstore.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logging.Error().Err(err).Msg("ingest failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Trending handles GET /api/v1/trending/{window}/{category}. The optional
// k query parameter clips the result to fewer than the configured K
// entries.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	window := chi.URLParam(r, "window")
	category := models.Category(chi.URLParam(r, "category"))

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}

	snap, err := h.engine.GetTopK(window, category, k)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, snap)
	case errors.Is(err, engine.ErrUnknownWindow), errors.Is(err, engine.ErrUnknownCategory):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		logging.Error().Err(err).Msg("trending read failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthLive handles GET /api/v1/health/live: the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready: ready once the engine has
// committed a refresh or seeded snapshots from storage.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
