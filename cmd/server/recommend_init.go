// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/eventrec/internal/config"
	"github.com/tomtom215/eventrec/internal/recommend"
)

// warmStartTimeout bounds reading and replaying the interaction store.
const warmStartTimeout = 10 * time.Minute

// interactionLister reads every stored interaction. *database.DB satisfies it.
type interactionLister interface {
	ListInteractions(ctx context.Context) ([]recommend.Interaction, error)
}

// RecommendComponents are the in-process recommendation parts.
type RecommendComponents struct {
	Resolver *recommend.WeightResolver
	Engine   *recommend.Engine

	// Restored is set when the engine was rebuilt from the interaction
	// store. Its scores must then be republished once before the pipeline
	// starts.
	Restored bool
}

// initRecommend builds the weight resolver and the engine. With warm start
// enabled the engine accumulators are rebuilt from store before any new
// interaction is observed.
func initRecommend(ctx context.Context, cfg *config.Config, store interactionLister, logger zerolog.Logger) (*RecommendComponents, error) {
	rcfg := cfg.Recommend()
	if err := rcfg.Validate(); err != nil {
		return nil, fmt.Errorf("recommend config: %w", err)
	}
	resolver, err := rcfg.Resolver()
	if err != nil {
		return nil, err
	}

	engine, err := recommend.NewEngine(resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	logger.Info().
		Interface("weights", resolver.Weights()).
		Bool("warm_start", rcfg.WarmStart).
		Msg("Similarity engine created")

	if rcfg.WarmStart {
		if err := warmStart(ctx, engine, store, logger); err != nil {
			return nil, err
		}
	}

	return &RecommendComponents{Resolver: resolver, Engine: engine, Restored: rcfg.WarmStart}, nil
}

func warmStart(ctx context.Context, engine *recommend.Engine, store interactionLister, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, warmStartTimeout)
	defer cancel()

	start := time.Now()
	interactions, err := store.ListInteractions(ctx)
	if err != nil {
		return fmt.Errorf("warm start: list interactions: %w", err)
	}
	applied, err := engine.Restore(ctx, interactions)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	logger.Info().
		Int("interactions", applied).
		Dur("duration", time.Since(start)).
		Msg("Warm start complete")
	return nil
}

// republishBatch is the number of restored scores handed to the sink per call.
const republishBatch = 512

// updateSink delivers similarity updates. *eventprocessor.SimilarityOutbox
// satisfies it.
type updateSink interface {
	PublishUpdates(ctx context.Context, updates []recommend.SimilarityUpdate) error
}

// republishRestored publishes the current score of every restored pair.
// Interactions stored by the previous run but not yet observed by its engine
// are redelivered as no-ops after a warm start; without this pass their
// similarity rows would stay stale. Each score carries a fresh ComputedAt,
// so the store accepts it over anything written before the restart.
func republishRestored(ctx context.Context, rec *RecommendComponents, sink updateSink, logger zerolog.Logger) error {
	if rec == nil || !rec.Restored {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, warmStartTimeout)
	defer cancel()

	start := time.Now()
	updates := rec.Engine.CurrentScores()
	for i := 0; i < len(updates); i += republishBatch {
		end := i + republishBatch
		if end > len(updates) {
			end = len(updates)
		}
		if err := sink.PublishUpdates(ctx, updates[i:end]); err != nil {
			return fmt.Errorf("republish restored scores: %w", err)
		}
	}
	rec.Restored = false

	logger.Info().
		Int("pairs", len(updates)).
		Dur("duration", time.Since(start)).
		Msg("Restored similarity scores republished")
	return nil
}
