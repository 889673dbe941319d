// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInit_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	Info().Str("component", "test").Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log output, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" {
		t.Errorf("Expected message 'hello', got %v", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(Config{})

	Info().Msg("suppressed")
	Warn().Msg("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "emitted") {
		t.Error("Warn message should be emitted at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWatermillAdapter_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	adapter := NewWatermillAdapter().With(watermill.LogFields{"subscriber": "nats-views"})
	adapter.Info("subscribed", watermill.LogFields{"topic": "views"})
	adapter.Debug("message received", nil)
	adapter.Error("connection lost", errors.New("broken pipe"), nil)

	out := buf.String()
	for _, want := range []string{"subscribed", "nats-views", "views", "message received", "broken pipe"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in adapter output, got %q", want, out)
		}
	}
}

func TestSlogHandler_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	slogger := NewSlogLogger()
	slogger.Info("supervised", "service", "refresh-runner")

	out := buf.String()
	if !strings.Contains(out, "supervised") {
		t.Errorf("Expected slog message in zerolog output, got %q", out)
	}
	if !strings.Contains(out, "refresh-runner") {
		t.Errorf("Expected slog attr in zerolog output, got %q", out)
	}
}
