// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package main is the entry point for the OpenPanel ingest server.
//
// The server is the ingestion-time enrichment stage of a web-analytics
// pipeline: tracking SDKs POST raw events to /track, each request is turned
// into a queued job, and pipeline workers enrich it (URL and referrer
// breakdown, user-agent classification, session stitching) before the final
// record lands in DuckDB.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered sources (defaults, file, env)
//  2. Embedded NATS JetStream broker (optional, NATS_EMBEDDED_SERVER)
//  3. BadgerDB: session store and screen-view buffer
//  4. DuckDB: enriched event storage
//  5. Queue: JetStream stream, publisher, subscriber, Watermill router
//  6. HTTP ingress: /track, /healthz, /metrics
//
// Services run under a suture supervisor tree. The messaging layer (event
// router) and the api layer (HTTP server) restart independently.
//
// # Example usage
//
//	export DEVICE_ID_SALT=$(openssl rand -hex 32)
//	export DUCKDB_PATH=/data/openpanel.duckdb
//	export STORE_PATH=/data/store
//	./openpanel
//
// Shutdown is graceful on SIGINT and SIGTERM: the HTTP server drains
// in-flight requests, the router finishes running handlers, and the queue
// keeps unacked jobs for redelivery on the next start.
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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dgraph-io/badger/v4"
	"github.com/nats-io/nats.go"

	"github.com/jojovvz/openpanel/internal/api"
	"github.com/jojovvz/openpanel/internal/buffer"
	"github.com/jojovvz/openpanel/internal/config"
	"github.com/jojovvz/openpanel/internal/database"
	"github.com/jojovvz/openpanel/internal/eventprocessor"
	"github.com/jojovvz/openpanel/internal/logging"
	"github.com/jojovvz/openpanel/internal/notify"
	"github.com/jojovvz/openpanel/internal/pipeline"
	"github.com/jojovvz/openpanel/internal/session"
	"github.com/jojovvz/openpanel/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Starting OpenPanel ingest")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverCfg, pubCfg, subCfg, streamCfg, routerCfg := eventprocessor.FromConfig(&cfg.NATS)

	// Embedded broker first: everything queue-side connects to it.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		broker, err := eventprocessor.NewEmbeddedServer(&serverCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := broker.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Embedded NATS shutdown error")
			}
		}()
		natsURL = broker.ClientURL()
		pubCfg.URL = natsURL
		subCfg.URL = natsURL
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server ready")
	}

	if err := ensureStream(ctx, natsURL, &streamCfg); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision JetStream stream")
	}

	// Shared Badger instance backs session continuity and screen-view
	// backfill. An empty path keeps everything in memory.
	badgerOpts := badger.DefaultOptions(cfg.Store.Path).WithLogger(nil)
	if cfg.Store.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
		logging.Warn().Msg("No store path configured, sessions will not survive restarts")
	}
	store, err := badger.Open(badgerOpts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer store.Close()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event database")
	}
	defer db.Close()
	logging.Info().Str("path", cfg.Database.Path).Msg("Event database ready")

	sessions, err := session.NewStore(store, session.Config{IdleTimeout: cfg.Session.IdleTimeout})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session store")
	}
	if n, err := sessions.Count(ctx); err == nil && n > 0 {
		logging.Info().Int("sessions", n).Msg("Session continuity state restored")
	}
	views, err := buffer.New(store, buffer.Config{TTL: cfg.Buffer.TTL})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create screen-view buffer")
	}

	sender := notify.NewWebhookSender(cfg.Notify.Timeout, cfg.Notify.RequestsPerSecond)
	rules, err := notify.NewRuleChecker(cfg.Notify.Rules, sender)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build notification rules")
	}
	if n := rules.RuleCount(); n > 0 {
		logging.Info().Int("rules", n).Msg("Notification rules loaded")
	}

	pipe, err := pipeline.New(sessions, views, rules, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())

	publisher, err := eventprocessor.NewPublisher(pubCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue publisher")
	}
	defer publisher.Close()

	subscriber, err := eventprocessor.NewSubscriber(&subCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue subscriber")
	}
	defer subscriber.Close()

	router, err := eventprocessor.NewRouter(&routerCfg, publisher.Messages(), wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event router")
	}
	eventprocessor.NewIncomingEventHandler(pipe).Register(router, subscriber)

	handler := api.NewHandler(cfg.Ingest, publisher, db)
	ingressRouter := api.NewRouter(handler, api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		RateLimitDisabled:  cfg.Server.RateLimitDisabled,
	}))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      ingressRouter.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.NewRouterService(router))
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

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

	logging.Info().Msg("Stopped gracefully")
}

// ensureStream provisions the JetStream stream over a short-lived
// connection. The publisher and subscriber hold their own connections.
func ensureStream(ctx context.Context, url string, streamCfg *eventprocessor.StreamConfig) error {
	nc, err := nats.Connect(url, nats.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	manager, err := eventprocessor.NewStreamManager(nc, streamCfg)
	if err != nil {
		return fmt.Errorf("create stream manager: %w", err)
	}

	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := manager.EnsureStream(provisionCtx); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}
