// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package main is the entry point for the Chartpulse server.
//
// Chartpulse is an unattended market intelligence pipeline for mobile apps
// and games. It scrapes app store charts, Steam listings, and an event
// calendar on schedules, resolves scraped listings into deduplicated
// entities, derives velocity, sentiment, and monetization features, detects
// clone clusters, correlates entities with upcoming events, and scores every
// entity 0-100 for breakout potential. Scores feed alert subscriptions and
// realtime websocket pushes; a read-only HTTP API serves the results.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (env vars, config file, defaults)
//  2. Database: DuckDB for entities, listings, features, scores
//  3. Embedding cache: Badger store keyed by content hash
//  4. Pipeline: fetch client, connectors, resolver, analyzers, detector,
//     correlator, scoring engine, trainer
//  5. Alerts and websocket hub for realtime delivery
//  6. Scheduler: interval-driven tasks under a bounded worker pool
//  7. HTTP server: read API plus websocket endpoint
//
// Everything runs under a suture supervision tree; SIGINT and SIGTERM
// trigger graceful shutdown with a bounded drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chartpulse/chartpulse/internal/alerts"
	"github.com/chartpulse/chartpulse/internal/analyzers"
	"github.com/chartpulse/chartpulse/internal/api"
	"github.com/chartpulse/chartpulse/internal/clone"
	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/connectors"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/embed"
	"github.com/chartpulse/chartpulse/internal/events"
	"github.com/chartpulse/chartpulse/internal/fetch"
	"github.com/chartpulse/chartpulse/internal/ingest"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/scheduler"
	"github.com/chartpulse/chartpulse/internal/scoring"
	"github.com/chartpulse/chartpulse/internal/supervisor"
	"github.com/chartpulse/chartpulse/internal/supervisor/services"
	ws "github.com/chartpulse/chartpulse/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("appstore", cfg.Sources.AppStore.Enabled).
		Bool("steam", cfg.Sources.Steam.Enabled).
		Bool("events", cfg.Sources.Events.Enabled).
		Msg("Starting Chartpulse")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	cache, err := embed.OpenCache(cfg.Database.EmbedCachePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open embedding cache")
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing embedding cache")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ingestion pipeline
	fetcher := fetch.New(&cfg.Fetch)
	resolver := ingest.NewResolver(db, cache, &cfg.Ingest)
	coordinator := ingest.NewCoordinator(resolver, db)

	// Analysis and prediction
	runner := analyzers.NewRunner(db,
		analyzers.NewVelocityAnalyzer(db, &cfg.Analysis),
		analyzers.NewSentimentAnalyzer(db, &cfg.Analysis),
		analyzers.NewMonetizationAnalyzer(db),
	)
	detector := clone.NewDetector(db, &cfg.Clone)
	correlator := events.NewCorrelator(db, &cfg.Events)
	engine := scoring.NewEngine(db, &cfg.Scoring)
	trainer := scoring.NewTrainer(db, &cfg.Scoring, cfg.Analysis.TopK)

	// Alerts and realtime delivery
	bus := alerts.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing alert bus")
		}
	}()
	evaluator := alerts.NewEvaluator(db, bus)
	wsHub := ws.NewHub()

	sched := scheduler.New(&cfg.Scheduler)
	if err := registerTasks(sched, cfg, db, coordinator, fetcher, runner, detector, correlator, engine, trainer, evaluator, wsHub); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register scheduler tasks")
	}

	handler := api.NewHandler(db, detector, wsHub, cfg)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddPipelineService(sched)

	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))
	tree.AddMessagingService(ws.NewBusSubscriber(bus, wsHub))
	if cfg.Alerts.Enabled {
		notifiers := []alerts.Notifier{alerts.LogNotifier{}}
		if cfg.Alerts.WebhookURL != "" {
			notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout))
			logging.Info().Str("url", cfg.Alerts.WebhookURL).Msg("Webhook notifier registered")
		}
		tree.AddMessagingService(alerts.NewDispatcher(bus, notifiers...))
	} else {
		logging.Info().Msg("Alert dispatch disabled")
	}

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Chartpulse stopped gracefully")
}

// registerTasks wires every recurring pipeline stage into the scheduler.
func registerTasks(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	db *database.DB,
	coordinator *ingest.Coordinator,
	fetcher *fetch.Client,
	runner *analyzers.Runner,
	detector *clone.Detector,
	correlator *events.Correlator,
	engine *scoring.Engine,
	trainer *scoring.Trainer,
	evaluator *alerts.Evaluator,
	wsHub *ws.Hub,
) error {
	if cfg.Sources.AppStore.Enabled {
		conn := connectors.NewAppStoreConnector(&cfg.Sources.AppStore, fetcher)
		if err := sched.Register(scheduler.Task{
			Name:     "sync-appstore",
			Interval: cfg.Sources.AppStore.Interval,
			Handler:  func(ctx context.Context) error { return coordinator.SyncSource(ctx, conn) },
		}); err != nil {
			return err
		}
		if cfg.Sources.AppStore.ReviewURL != "" {
			if err := sched.Register(scheduler.Task{
				Name:     "sync-reviews",
				Interval: cfg.Sources.AppStore.Interval,
				Handler:  func(ctx context.Context) error { return coordinator.SyncReviews(ctx, conn) },
			}); err != nil {
				return err
			}
		}
	}

	if cfg.Sources.Steam.Enabled {
		conn := connectors.NewSteamConnector(&cfg.Sources.Steam, fetcher)
		if err := sched.Register(scheduler.Task{
			Name:     "sync-steam",
			Interval: cfg.Sources.Steam.Interval,
			Handler:  func(ctx context.Context) error { return coordinator.SyncSource(ctx, conn) },
		}); err != nil {
			return err
		}
	}

	if cfg.Sources.Events.Enabled {
		conn := connectors.NewEventConnector(&cfg.Sources.Events, fetcher)
		if err := sched.Register(scheduler.Task{
			Name:     "sync-events",
			Interval: cfg.Sources.Events.Interval,
			Handler:  func(ctx context.Context) error { return coordinator.SyncEvents(ctx, conn) },
		}); err != nil {
			return err
		}
	}

	if err := sched.Register(scheduler.Task{
		Name:     "analyzers",
		Interval: cfg.Analysis.Interval,
		Handler:  runner.RunOnce,
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.Task{
		Name:     "clone-detector",
		Interval: cfg.Clone.Interval,
		Handler:  detector.RunOnce,
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.Task{
		Name:     "event-correlator",
		Interval: cfg.Analysis.Interval,
		Handler:  correlator.RunOnce,
	}); err != nil {
		return err
	}

	// Scoring drives alert evaluation and realtime pushes so clients see a
	// consistent run, never a half-evaluated one.
	if err := sched.Register(scheduler.Task{
		Name:     "scoring",
		Interval: cfg.Scoring.Interval,
		Handler: func(ctx context.Context) error {
			if err := engine.RunOnce(ctx); err != nil {
				return err
			}
			if cfg.Alerts.Enabled {
				if err := evaluator.RunOnce(ctx); err != nil {
					logging.Error().Err(err).Msg("Alert evaluation failed")
				}
			}
			broadcastScores(ctx, db, wsHub, cfg.API.DefaultPageSize)
			return nil
		},
	}); err != nil {
		return err
	}

	if err := sched.Register(scheduler.Task{
		Name:     "trainer",
		Interval: cfg.Scoring.TrainInterval,
		Handler:  trainer.RunOnce,
	}); err != nil {
		return err
	}

	if cfg.Database.RetentionDays > 0 {
		if err := sched.Register(scheduler.Task{
			Name:     "retention",
			Interval: cfg.Scheduler.CleanupInterval,
			Handler: func(ctx context.Context) error {
				cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Database.RetentionDays)
				pruned, err := db.PruneBefore(ctx, cutoff)
				if err != nil {
					return err
				}
				logging.Info().Int64("rows", pruned).Time("cutoff", cutoff).Msg("Retention pruning complete")
				return nil
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

// broadcastScores pushes the current leaderboard to websocket clients after a
// scoring run.
func broadcastScores(ctx context.Context, db *database.DB, wsHub *ws.Hub, limit int) {
	if wsHub.GetClientCount() == 0 {
		return
	}
	if limit <= 0 {
		limit = 50
	}

	scores, err := db.TopScores(ctx, "", limit)
	if err != nil {
		logging.Error().Err(err).Msg("Score broadcast query failed")
		return
	}
	for _, s := range scores {
		entity, err := db.GetEntity(ctx, s.EntityID)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				logging.Error().Err(err).Str("entity_id", s.EntityID.String()).Msg("Score broadcast entity lookup failed")
			}
			continue
		}
		wsHub.BroadcastScoreUpdate(entity, s)
	}
}
