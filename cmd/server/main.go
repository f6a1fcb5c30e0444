// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

// Package main is the entry point for the eventrec server.
//
// eventrec records user interactions with events (view, register, like),
// maintains pairwise event similarity incrementally as interactions arrive,
// and answers similar-event, prediction and interaction-count queries.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, config.yaml, environment (Koanf v2)
//  2. Database: DuckDB interaction and similarity stores
//  3. Engine: weight resolver and similarity engine, optionally warm-started
//     from the interaction store (ENGINE_WARM_START=true)
//  4. NATS (optional): embedded or external JetStream, publisher with
//     circuit breaker, BadgerDB similarity outbox, three durable consumers
//  5. HTTP Server: query API, collector endpoint, health, Prometheus metrics
//  6. Supervisor tree: suture runs the pipeline, WAL services and HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
// server and the pipeline, then the messaging components and the database
// are closed.
//
// # Example Usage
//
//	export DUCKDB_PATH=/data/eventrec.duckdb
//	export NATS_ENABLED=true
//	export WAL_ENABLED=true
//	./eventrec
//
//	curl localhost:8080/api/v1/events/42/similar?max_results=5
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/eventrec/internal/api"
	"github.com/tomtom215/eventrec/internal/config"
	"github.com/tomtom215/eventrec/internal/database"
	"github.com/tomtom215/eventrec/internal/logging"
	"github.com/tomtom215/eventrec/internal/recommend"
	"github.com/tomtom215/eventrec/internal/supervisor"
	"github.com/tomtom215/eventrec/internal/supervisor/services"
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
	logger := logging.Logger()

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats", cfg.NATS.Enabled).
		Bool("wal", cfg.WAL.Enabled).
		Msg("Starting eventrec")

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("eventrec stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	logger := logging.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	rec, err := initRecommend(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	natsComponents, err := InitNATS(cfg, db, rec, logger)
	if err != nil {
		return err
	}
	defer natsComponents.Close()

	rcfg := cfg.Recommend()
	deps := api.HandlerDeps{
		Query:        recommend.NewQueryService(db, db, rcfg.MaxResults, logger),
		Checks:       healthChecks(db, natsComponents),
		QueryTimeout: rcfg.QueryTimeout,
	}
	if pub := natsComponents.Publisher(); pub != nil {
		deps.Publisher = pub
	}
	handler, err := api.NewHandler(deps)
	if err != nil {
		return err
	}

	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(cfg.Security))
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, mw).SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	natsComponents.AddToSupervisor(tree)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().
		Str("addr", server.Addr).
		Bool("collector", handler.CollectorEnabled()).
		Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		treeErr = <-errCh
	case treeErr = <-errCh:
		cancel()
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		return treeErr
	}
	return nil
}

// healthChecks builds the readiness checks: the database always, and the
// messaging components when NATS is enabled.
func healthChecks(db *database.DB, nats *NATSComponents) map[string]api.CheckFunc {
	checks := map[string]api.CheckFunc{
		"database": func(ctx context.Context) (bool, string) {
			if err := db.Ping(ctx); err != nil {
				return false, err.Error()
			}
			return true, "ok"
		},
	}

	if hc := nats.HealthChecker(); hc != nil {
		checks["messaging"] = func(ctx context.Context) (bool, string) {
			overall := hc.CheckAll(ctx)
			return overall.Healthy, string(overall.Status)
		}
	}
	return checks
}
