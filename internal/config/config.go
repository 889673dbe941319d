// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// Package config defines the ViewRank configuration model and its layered
// loading (defaults, YAML file, environment). All settings are immutable
// after start; changing windows or categories requires a restart.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/viewrank/internal/models"
)

// Config is the root configuration for the ViewRank server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Engine    EngineConfig    `koanf:"engine"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	NATS      NATSConfig      `koanf:"nats"` // Optional: NATS JetStream ingest source
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// WindowConfig declares one named sliding window.
type WindowConfig struct {
	Name            string `koanf:"name" validate:"required"`
	DurationSeconds int    `koanf:"duration_seconds" validate:"min=1"`
}

// EngineConfig holds the counting and ranking settings.
type EngineConfig struct {
	// BucketWidthSeconds is the tumbling sub-bucket granularity.
	BucketWidthSeconds int `koanf:"bucket_width_seconds" validate:"min=1"`

	// Windows lists the sliding windows to maintain, each a positive
	// integer multiple of the bucket width.
	Windows []WindowConfig `koanf:"windows" validate:"min=1,dive"`

	// Categories is the fixed category set. ALL is always implicitly
	// present and must not be listed.
	Categories []string `koanf:"categories"`

	// K is the heap size per (window, category).
	K int `koanf:"k" validate:"min=1"`

	// RefreshIntervalSeconds is the refresh tick period.
	RefreshIntervalSeconds float64 `koanf:"refresh_interval_seconds" validate:"gt=0"`

	// MaxEventSkewSeconds bounds how old an accepted event may be.
	// Zero means the largest window duration.
	MaxEventSkewSeconds int `koanf:"max_event_skew_seconds" validate:"min=0"`

	// SmallFutureSeconds tolerates producer clock drift into the future.
	SmallFutureSeconds int `koanf:"small_future_seconds" validate:"min=0"`

	// GraceSeconds delays bucket eviction past the window horizon so
	// maximally skewed events still find their bucket.
	GraceSeconds int `koanf:"grace_seconds" validate:"min=0"`

	// IdempotencyTTLSeconds bounds the dedup cache. Zero means
	// window_max + grace.
	IdempotencyTTLSeconds int `koanf:"idempotency_ttl_seconds" validate:"min=0"`
}

// IngestConfig holds ingest queue and worker pool settings.
type IngestConfig struct {
	QueueCapacity    int           `koanf:"queue_capacity" validate:"min=1"`
	Workers          int           `koanf:"workers" validate:"min=0"` // 0 = runtime.NumCPU()
	RetryMaxAttempts int           `koanf:"retry_max_attempts" validate:"min=0"`
	RetryInterval    time.Duration `koanf:"retry_interval"`

	// DrainTimeout bounds how long the worker pool keeps processing
	// queued events after shutdown begins; leftovers are dropped.
	DrainTimeout time.Duration `koanf:"drain_timeout"`
}

// BroadcastConfig holds delta fan-out settings.
type BroadcastConfig struct {
	MailboxCapacity int `koanf:"mailbox_capacity" validate:"min=1"`
	QueueCapacity   int `koanf:"queue_capacity" validate:"min=1"`
}

// SnapshotConfig holds snapshot persistence settings.
type SnapshotConfig struct {
	Enabled              bool   `koanf:"enabled"`
	Path                 string `koanf:"path"`
	PersistEveryNTicks   int    `koanf:"persist_every_n_ticks" validate:"min=1"`
	RetentionGenerations int    `koanf:"retention_generations" validate:"min=1"`
}

// NATSConfig holds the optional JetStream ingest source settings.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	Topic            string        `koanf:"topic"`
	QueueGroup       string        `koanf:"queue_group"`
	DurableName      string        `koanf:"durable_name"`
	StreamName       string        `koanf:"stream_name"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// APIConfig holds HTTP API behavior settings.
type APIConfig struct {
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8470,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			BucketWidthSeconds: 60,
			Windows: []WindowConfig{
				{Name: "1h", DurationSeconds: 3600},
				{Name: "24h", DurationSeconds: 86400},
				{Name: "7d", DurationSeconds: 604800},
			},
			Categories:             []string{},
			K:                      100,
			RefreshIntervalSeconds: 2.0,
			MaxEventSkewSeconds:    0, // 0 = window max
			SmallFutureSeconds:     5,
			GraceSeconds:           300,
			IdempotencyTTLSeconds:  0, // 0 = window max + grace
		},
		Ingest: IngestConfig{
			QueueCapacity:    4096,
			Workers:          0, // 0 = runtime.NumCPU()
			RetryMaxAttempts: 4,
			RetryInterval:    50 * time.Millisecond,
			DrainTimeout:     5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			MailboxCapacity: 64,
			QueueCapacity:   1024,
		},
		Snapshot: SnapshotConfig{
			Enabled:              true,
			Path:                 "/data/viewrank/snapshots",
			PersistEveryNTicks:   1,
			RetentionGenerations: 100,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			Topic:            "views.events",
			QueueGroup:       "viewrank",
			DurableName:      "viewrank-ingest",
			SubscribersCount: 4,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		API: APIConfig{
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for consistency. Struct tags cover the
// numeric ranges; the window/category relationships are checked by hand.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	bucketWidth := c.Engine.BucketWidth()
	seen := make(map[string]struct{}, len(c.Engine.Windows))
	for _, w := range c.Engine.Windows {
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("duplicate window name %q", w.Name)
		}
		seen[w.Name] = struct{}{}
		if _, err := models.NewWindowDef(w.Name, time.Duration(w.DurationSeconds)*time.Second, bucketWidth); err != nil {
			return err
		}
	}

	for _, cat := range c.Engine.Categories {
		if cat == "" {
			return fmt.Errorf("category names must not be empty")
		}
		if models.Category(cat) == models.CategoryAll {
			return fmt.Errorf("category %q is reserved and implicitly present", models.CategoryAll)
		}
	}

	return nil
}

// BucketWidth returns the sub-bucket width as a duration.
func (e *EngineConfig) BucketWidth() time.Duration {
	return time.Duration(e.BucketWidthSeconds) * time.Second
}

// WindowDefs builds the window definitions from the configuration.
func (e *EngineConfig) WindowDefs() ([]models.WindowDef, error) {
	defs := make([]models.WindowDef, 0, len(e.Windows))
	for _, w := range e.Windows {
		def, err := models.NewWindowDef(w.Name, time.Duration(w.DurationSeconds)*time.Second, e.BucketWidth())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// MaxWindow returns the duration of the largest configured window.
func (e *EngineConfig) MaxWindow() time.Duration {
	var maxDur time.Duration
	for _, w := range e.Windows {
		if d := time.Duration(w.DurationSeconds) * time.Second; d > maxDur {
			maxDur = d
		}
	}
	return maxDur
}

// Grace returns the eviction grace period.
func (e *EngineConfig) Grace() time.Duration {
	return time.Duration(e.GraceSeconds) * time.Second
}

// MaxEventSkew returns the accepted event age bound. Defaults to the
// largest window duration when unset.
func (e *EngineConfig) MaxEventSkew() time.Duration {
	if e.MaxEventSkewSeconds > 0 {
		return time.Duration(e.MaxEventSkewSeconds) * time.Second
	}
	return e.MaxWindow()
}

// SmallFuture returns the future clock drift tolerance.
func (e *EngineConfig) SmallFuture() time.Duration {
	return time.Duration(e.SmallFutureSeconds) * time.Second
}

// IdempotencyTTL returns the dedup cache TTL. Defaults to
// window_max + grace when unset.
func (e *EngineConfig) IdempotencyTTL() time.Duration {
	if e.IdempotencyTTLSeconds > 0 {
		return time.Duration(e.IdempotencyTTLSeconds) * time.Second
	}
	return e.MaxWindow() + e.Grace()
}

// RefreshInterval returns the refresh tick period.
func (e *EngineConfig) RefreshInterval() time.Duration {
	return time.Duration(e.RefreshIntervalSeconds * float64(time.Second))
}

// AllCategories returns the configured categories plus the implicit ALL
// aggregate, in stable order with ALL first.
func (e *EngineConfig) AllCategories() []models.Category {
	cats := make([]models.Category, 0, len(e.Categories)+1)
	cats = append(cats, models.CategoryAll)
	for _, c := range e.Categories {
		cats = append(cats, models.Category(c))
	}
	return cats
}

// IsKnownCategory reports whether cat was configured (ALL excluded; events
// must carry a concrete category).
func (e *EngineConfig) IsKnownCategory(cat models.Category) bool {
	for _, c := range e.Categories {
		if models.Category(c) == cat {
			return true
		}
	}
	return false
}
