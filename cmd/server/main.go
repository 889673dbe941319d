// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

// ViewRank maintains the Top-K trending videos per sliding window and
// category from a continuous stream of view events, serves rankings over
// HTTP, and pushes ranking deltas to WebSocket/SSE subscribers.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// (VIEWRANK_CONFIG or ./config.yaml), then VIEWRANK_* environment
// variables.
//
// # Quick start
//
//	viewrank
//	curl -X POST localhost:8470/api/v1/events -d '{"video_id":"v1","category":"music","occurred_at":"2026-03-01T12:00:00Z"}'
//	curl localhost:8470/api/v1/trending/1h/music?k=10
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/viewrank/internal/api"
	"github.com/tomtom215/viewrank/internal/broadcast"
	"github.com/tomtom215/viewrank/internal/bucketstore"
	"github.com/tomtom215/viewrank/internal/clock"
	"github.com/tomtom215/viewrank/internal/config"
	"github.com/tomtom215/viewrank/internal/engine"
	"github.com/tomtom215/viewrank/internal/idempotency"
	"github.com/tomtom215/viewrank/internal/ingest"
	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
	"github.com/tomtom215/viewrank/internal/snapshotstore"
	"github.com/tomtom215/viewrank/internal/supervisor"
	"github.com/tomtom215/viewrank/internal/topk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("windows", len(cfg.Engine.Windows)).
		Int("categories", len(cfg.Engine.Categories)).
		Int("k", cfg.Engine.K).
		Bool("nats", cfg.NATS.Enabled).
		Bool("snapshots", cfg.Snapshot.Enabled).
		Msg("Starting ViewRank")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("ViewRank terminated")
	}
	logging.Info().Msg("ViewRank stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	windows, err := cfg.Engine.WindowDefs()
	if err != nil {
		return fmt.Errorf("build windows: %w", err)
	}

	clk := clock.NewSystem()
	store := bucketstore.NewMemoryStore(cfg.Engine.BucketWidth())
	guard := idempotency.NewGuard(cfg.Engine.IdempotencyTTL())

	var snaps snapshotstore.Store
	if cfg.Snapshot.Enabled {
		badgerStore, err := snapshotstore.NewBadgerStore(cfg.Snapshot.Path, cfg.Snapshot.RetentionGenerations)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer func() {
			if closeErr := badgerStore.Close(); closeErr != nil {
				logging.Error().Err(closeErr).Msg("Snapshot store close failed")
			}
		}()
		snaps = snapshotstore.NewBreakerStore(badgerStore)
	}

	eng := engine.New(engine.Options{
		Windows:            windows,
		Categories:         cfg.Engine.AllCategories(),
		K:                  cfg.Engine.K,
		RefreshInterval:    cfg.Engine.RefreshInterval(),
		Grace:              cfg.Engine.Grace(),
		MaxWindow:          cfg.Engine.MaxWindow(),
		PersistEveryNTicks: cfg.Snapshot.PersistEveryNTicks,
	}, store, guard, snaps, clk, topk.SumScorer{})
	eng.Seed(ctx)

	hub := broadcast.NewHub(eng, cfg.Broadcast.QueueCapacity, cfg.Broadcast.MailboxCapacity)
	eng.SetSink(hub)

	pipeline := ingest.NewPipeline(ingest.Options{
		Categories:       toCategorySlice(cfg.Engine.Categories),
		BucketWidth:      cfg.Engine.BucketWidth(),
		MaxSkew:          cfg.Engine.MaxEventSkew(),
		SmallFuture:      cfg.Engine.SmallFuture(),
		QueueCapacity:    cfg.Ingest.QueueCapacity,
		RetryMaxAttempts: cfg.Ingest.RetryMaxAttempts,
		RetryInterval:    cfg.Ingest.RetryInterval,
	}, store, guard, clk)

	handler := api.NewHandler(eng, pipeline, hub)
	router := api.NewRouter(handler, cfg.API)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	tree.AddIngestService(ingest.NewWorkerPool(pipeline, cfg.Ingest.Workers, cfg.Ingest.DrainTimeout))
	if cfg.NATS.Enabled {
		source, err := ingest.NewSource(ingest.SourceOptions{
			URL:              cfg.NATS.URL,
			Topic:            cfg.NATS.Topic,
			QueueGroup:       cfg.NATS.QueueGroup,
			DurableName:      cfg.NATS.DurableName,
			StreamName:       cfg.NATS.StreamName,
			SubscribersCount: cfg.NATS.SubscribersCount,
			MaxReconnects:    cfg.NATS.MaxReconnects,
			ReconnectWait:    cfg.NATS.ReconnectWait,
			AckWaitTimeout:   cfg.NATS.AckWaitTimeout,
			CloseTimeout:     cfg.NATS.CloseTimeout,
		}, pipeline)
		if err != nil {
			return fmt.Errorf("create event source: %w", err)
		}
		tree.AddIngestService(source)
	}

	tree.AddEngineService(hub)
	tree.AddEngineService(eng)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Serving")
	err = tree.Serve(ctx)

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	return err
}

func toCategorySlice(in []string) []models.Category {
	out := make([]models.Category, len(in))
	for i, c := range in {
		out[i] = models.Category(c)
	}
	return out
}
