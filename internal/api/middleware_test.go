// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// streamRecorder adds Hijack to httptest.ResponseRecorder (which already
// implements http.Flusher) so both streaming interfaces are testable.
type streamRecorder struct {
	*httptest.ResponseRecorder
}

func (s *streamRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, errors.New("no underlying connection")
}

// The metrics wrapper must not hide Flusher/Hijacker from handlers: SSE
// needs to flush and the WebSocket upgrade needs to hijack.
func TestMetrics_PreservesStreamingInterfaces(t *testing.T) {
	var sawFlusher, sawHijacker bool

	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/stream", func(w http.ResponseWriter, req *http.Request) {
		_, sawFlusher = w.(http.Flusher)
		_, sawHijacker = w.(http.Hijacker)
		w.WriteHeader(http.StatusOK)
	})

	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if !sawFlusher {
		t.Error("http.Flusher is not visible through the metrics middleware")
	}
	if !sawHijacker {
		t.Error("http.Hijacker is not visible through the metrics middleware")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestID())
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request ID header")
	}
}
