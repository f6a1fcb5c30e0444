// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/eventrec/internal/config"
	"github.com/tomtom215/eventrec/internal/eventprocessor"
	"github.com/tomtom215/eventrec/internal/logging"
	"github.com/tomtom215/eventrec/internal/supervisor"
	"github.com/tomtom215/eventrec/internal/supervisor/services"
)

// natsStartupTimeout bounds stream setup and outbox recovery.
const natsStartupTimeout = 30 * time.Second

// PipelineStores are the stores written by the pipeline consumers.
// *database.DB satisfies it.
type PipelineStores interface {
	eventprocessor.InteractionWriter
	eventprocessor.SimilarityWriter
}

// NATSComponents holds every messaging component for lifecycle management.
type NATSComponents struct {
	server    *eventprocessor.EmbeddedServer
	natsConn  *natsgo.Conn
	stream    *eventprocessor.StreamInitializer
	publisher *eventprocessor.Publisher
	outbox    *eventprocessor.SimilarityOutbox
	pipeline  *eventprocessor.Pipeline
	wal       *WALComponents

	subscribers []*eventprocessor.Subscriber
	health      *eventprocessor.HealthChecker

	shutdownTimeout time.Duration
	mu              sync.Mutex
	closed          bool
}

// InitNATS connects to (or embeds) NATS, ensures the stream, and builds the
// publisher, the similarity outbox and the three consumer stages. It returns
// nil, nil when NATS_ENABLED=false.
//
//nolint:gocyclo // sequential setup with cleanup on every failure path
func InitNATS(cfg *config.Config, stores PipelineStores, rec *RecommendComponents, logger zerolog.Logger) (*NATSComponents, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS pipeline disabled (NATS_ENABLED=false); serving queries only")
		return nil, nil
	}

	cc := eventprocessor.ComponentsConfigFromApp(&cfg.NATS)
	c := &NATSComponents{
		health:          eventprocessor.NewHealthChecker(eventprocessor.DefaultHealthConfig()),
		shutdownTimeout: cc.Router.CloseTimeout,
	}
	fail := func(err error) (*NATSComponents, error) {
		c.Close()
		return nil, err
	}

	natsURL := cc.URL
	if cc.EmbeddedServer {
		server, err := eventprocessor.NewEmbeddedServer(&cc.Server)
		if err != nil {
			return fail(err)
		}
		c.server = server
		natsURL = server.ClientURL()
		c.health.RegisterComponent("nats_server", server)
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), natsStartupTimeout)
	defer cancel()

	nc, js, err := eventprocessor.ConnectJetStream(natsURL)
	if err != nil {
		return fail(err)
	}
	c.natsConn = nc

	c.stream, err = eventprocessor.NewStreamInitializer(js, &cc.Stream)
	if err != nil {
		return fail(fmt.Errorf("create stream initializer: %w", err))
	}
	stream, err := c.stream.EnsureStream(ctx)
	if err != nil {
		return fail(err)
	}
	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Dur("max_age", info.Config.MaxAge).
		Dur("duplicate_window", info.Config.Duplicates).
		Msg("JetStream stream ready")
	c.health.RegisterComponent("stream", c.stream)

	cc.Publisher.URL = natsURL
	c.publisher, err = eventprocessor.NewPublisher(cc.Publisher, nil)
	if err != nil {
		return fail(err)
	}
	c.publisher.SetCircuitBreaker(eventprocessor.NewCircuitBreaker(
		eventprocessor.DefaultCircuitBreakerConfig("nats-publisher"),
	))
	c.health.RegisterComponent("publisher", c.publisher)

	c.wal, err = OpenWAL(&cfg.WAL)
	if err != nil {
		return fail(fmt.Errorf("open WAL: %w", err))
	}
	c.outbox, err = eventprocessor.NewSimilarityOutbox(c.publisher, c.wal.WAL(), logger)
	if err != nil {
		return fail(err)
	}
	// Pending updates from the last run go out before the engine emits new
	// ones.
	c.wal.Recover(ctx, c.outbox)

	if err := republishRestored(context.Background(), rec, c.outbox, logger); err != nil {
		return fail(err)
	}

	subscriber := func(consumer string, count int) (*eventprocessor.Subscriber, error) {
		subCfg := eventprocessor.DefaultSubscriberConfig(natsURL, cc.DurableName(consumer))
		subCfg.StreamName = cc.Stream.Name
		if count > 0 {
			subCfg.SubscribersCount = count
		}
		sub, err := eventprocessor.NewSubscriber(&subCfg, nil)
		if err != nil {
			return nil, fmt.Errorf("create %s subscriber: %w", consumer, err)
		}
		c.subscribers = append(c.subscribers, sub)
		return sub, nil
	}

	interactionsSub, err := subscriber(eventprocessor.ConsumerInteractions, cc.SubscribersCount)
	if err != nil {
		return fail(err)
	}
	// One subscriber keeps engine observations in stream order.
	engineSub, err := subscriber(eventprocessor.ConsumerEngine, 1)
	if err != nil {
		return fail(err)
	}
	similaritiesSub, err := subscriber(eventprocessor.ConsumerSimilarities, cc.SubscribersCount)
	if err != nil {
		return fail(err)
	}

	c.pipeline, err = eventprocessor.NewPipeline(
		&cc.Router,
		c.publisher.WatermillPublisher(),
		eventprocessor.PipelineSubscribers{
			Interactions: interactionsSub,
			Engine:       engineSub,
			Similarities: similaritiesSub,
		},
		eventprocessor.PipelineDeps{
			Interactions: stores,
			Similarities: stores,
			Engine:       rec.Engine,
			Resolver:     rec.Resolver,
			Sink:         c.outbox,
		},
		nil,
		logger,
	)
	if err != nil {
		return fail(err)
	}
	c.health.RegisterComponent("pipeline", c.pipeline)

	logging.Info().
		Int("retry", cc.Router.RetryMaxRetries).
		Dur("dedup_ttl", cc.Router.DeduplicationTTL).
		Str("poison_topic", cc.Router.PoisonQueueTopic).
		Int("store_subscribers", cc.SubscribersCount).
		Bool("wal", c.wal != nil).
		Msg("NATS pipeline initialized")
	return c, nil
}

// Publisher returns the interaction publisher for the collector endpoint.
func (c *NATSComponents) Publisher() *eventprocessor.Publisher {
	if c == nil {
		return nil
	}
	return c.publisher
}

// HealthChecker returns the messaging health checker.
func (c *NATSComponents) HealthChecker() *eventprocessor.HealthChecker {
	if c == nil {
		return nil
	}
	return c.health
}

// AddToSupervisor registers the pipeline and the WAL services.
func (c *NATSComponents) AddToSupervisor(tree *supervisor.SupervisorTree) {
	if c == nil {
		return
	}
	tree.AddMessagingService(services.NewPipelineService(c.pipeline, c.shutdownTimeout))
	c.wal.AddToSupervisor(tree)
	logging.Info().Msg("NATS pipeline added to supervisor tree")
}

// Close releases everything InitNATS created, in reverse order. The
// pipeline itself is stopped by its supervisor service. Close is safe to
// call more than once and on nil.
func (c *NATSComponents) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, sub := range c.subscribers {
		if err := sub.Close(); err != nil {
			logging.Warn().Err(err).Str("durable", sub.DurableName()).Msg("Error closing subscriber")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing publisher")
		}
	}
	c.wal.Close()
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Error shutting down embedded NATS server")
		}
	}
	logging.Info().Msg("NATS components closed")
}
