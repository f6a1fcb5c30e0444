// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"context"

	"github.com/tomtom215/eventrec/internal/config"
	"github.com/tomtom215/eventrec/internal/logging"
	"github.com/tomtom215/eventrec/internal/supervisor"
	"github.com/tomtom215/eventrec/internal/supervisor/services"
	"github.com/tomtom215/eventrec/internal/wal"
)

// WALComponents is the BadgerDB outbox behind the similarity publisher.
type WALComponents struct {
	wal       *wal.BadgerWAL
	retryLoop *wal.RetryLoop
	compactor *services.WALCompactorService
}

// OpenWAL opens the outbox. It returns nil, nil when WAL_ENABLED=false.
func OpenWAL(cfg *config.WALConfig) (*WALComponents, error) {
	walCfg := wal.FromAppConfig(cfg)
	if !walCfg.Enabled {
		logging.Warn().Msg("WAL disabled (WAL_ENABLED=false). Similarity updates are lost if a publish fails during shutdown.")
		return nil, nil
	}
	if err := walCfg.Validate(); err != nil {
		return nil, err
	}

	logging.Info().
		Str("path", walCfg.Path).
		Bool("sync_writes", walCfg.SyncWrites).
		Msg("Opening similarity outbox WAL")

	w, err := wal.Open(&walCfg)
	if err != nil {
		return nil, err
	}
	return &WALComponents{
		wal:       w,
		compactor: services.NewWALCompactorService(w, walCfg.GCInterval),
	}, nil
}

// WAL returns the outbox, or nil when c is nil.
func (c *WALComponents) WAL() wal.WAL {
	if c == nil {
		return nil
	}
	return c.wal
}

// Recover republishes entries left pending by a previous run and prepares
// the retry loop. Recovery failures are logged; the retry loop picks up
// what is left.
func (c *WALComponents) Recover(ctx context.Context, publisher wal.Publisher) {
	if c == nil {
		return
	}

	logging.Info().Msg("Running WAL recovery for pending similarity updates...")
	result, err := c.wal.RecoverPending(ctx, publisher)
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("WAL recovery error")
	case result.TotalPending > 0:
		logging.Info().
			Int("total", result.TotalPending).
			Int("recovered", result.Recovered).
			Int("failed", result.Failed).
			Int("expired", result.Expired).
			Msg("WAL recovery complete")
	default:
		logging.Info().Msg("WAL recovery: no pending entries")
	}

	c.retryLoop = wal.NewRetryLoop(c.wal, publisher)
}

// AddToSupervisor registers the retry loop and compactor in the data layer.
func (c *WALComponents) AddToSupervisor(tree *supervisor.SupervisorTree) {
	if c == nil {
		return
	}
	if c.retryLoop != nil {
		tree.AddDataService(c.retryLoop)
	}
	tree.AddDataService(c.compactor)
	logging.Info().Msg("WAL retry loop and compactor added to supervisor tree")
}

// Close closes the WAL.
func (c *WALComponents) Close() {
	if c == nil {
		return
	}
	if err := c.wal.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing WAL")
	}
}
