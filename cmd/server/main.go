// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package main is the entry point for the TasteCore server.
//
// TasteCore aggregates taste signals from restaurant reviews into per-user
// and per-group signatures, fires one-time threshold events (personality
// crest revelation, tip verification, submission approval), grants
// reputation points, and answers best-match recommendation queries.
//
// The server initializes components in order:
//
//  1. Configuration: koanf v2 layered sources (env > file > defaults)
//  2. Logging: zerolog, console or JSON
//  3. Store: BadgerDB document store
//  4. Event transport: in-process channels or NATS JetStream (optionally
//     with an embedded NATS server)
//  5. Engine: event router with the trigger handlers
//  6. HTTP API: chi router with JWT auth, metrics, health
//  7. Supervision: suture tree running the router and HTTP server
//
// Shutdown is graceful on SIGINT and SIGTERM: the router drains in-flight
// events and the HTTP server finishes open requests before the store closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dymelabs/tastecore/internal/api"
	"github.com/dymelabs/tastecore/internal/config"
	"github.com/dymelabs/tastecore/internal/engine"
	"github.com/dymelabs/tastecore/internal/logging"
	"github.com/dymelabs/tastecore/internal/recommend"
	"github.com/dymelabs/tastecore/internal/rewards"
	"github.com/dymelabs/tastecore/internal/store"
	"github.com/dymelabs/tastecore/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := logging.Get()
	logger.Info().
		Str("transport", cfg.Events.Transport).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("starting tastecore")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Config{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	subscriber, publisher, cleanup, err := buildTransport(ctx, cfg.Events)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer cleanup()

	ledger := rewards.NewLedger(st, logger)
	eng := engine.New(st, ledger, logger)

	wmLogger := logging.NewWatermillAdapter(logger)
	router, err := engine.NewRouter(engine.RouterConfig{
		CloseTimeout:         cfg.Events.CloseTimeout,
		RetryMaxRetries:      cfg.Events.RetryMaxRetries,
		RetryInitialInterval: cfg.Events.RetryInitialInterval,
		RetryMaxInterval:     cfg.Events.RetryMaxInterval,
		RetryMultiplier:      2.0,
		PoisonTopic:          cfg.Events.PoisonTopic,
	}, eng, subscriber, publisher, wmLogger)
	if err != nil {
		return fmt.Errorf("create event router: %w", err)
	}

	handler := api.NewHandler(st, recommend.NewSelector(st, logger), engine.NewPublisher(publisher), logger)
	auth := api.NewAuthenticator(cfg.Security)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, auth, cfg.Security),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(slog.Default(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddEventService(&supervisor.RunnerService{Name: "event-router", Runner: router})
	tree.AddAPIService(&supervisor.HTTPService{
		Server:          httpServer,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info().Str("addr", httpServer.Addr).Msg("tastecore running")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logger.Info().Msg("tastecore stopped")
	return nil
}

// buildTransport creates the event substrate per config and returns the
// subscriber, the publisher, and a cleanup closing both.
func buildTransport(ctx context.Context, cfg config.EventsConfig) (message.Subscriber, message.Publisher, func(), error) {
	logger := logging.Get()
	wmLogger := logging.NewWatermillAdapter(logger)

	if cfg.Transport == "memory" {
		pubSub := engine.NewMemoryPubSub(wmLogger)
		cleanup := func() {
			if err := pubSub.Close(); err != nil {
				logger.Error().Err(err).Msg("close memory pubsub")
			}
		}
		return pubSub, pubSub, cleanup, nil
	}

	natsCfg := engine.DefaultNATSConfig()
	natsCfg.URL = cfg.URL
	natsCfg.Embedded = cfg.EmbeddedServer
	natsCfg.StoreDir = cfg.StoreDir
	natsCfg.QueueGroup = cfg.QueueGroup
	natsCfg.DurableName = cfg.DurableName
	natsCfg.SubscribersCount = cfg.SubscribersCount
	natsCfg.AckWaitTimeout = cfg.AckWaitTimeout
	natsCfg.CloseTimeout = cfg.CloseTimeout

	var embedded *engine.EmbeddedServer
	if natsCfg.Embedded {
		srv, err := engine.StartEmbeddedServer(natsCfg.StoreDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		embedded = srv
		natsCfg.URL = srv.ClientURL()
		logger.Info().Str("url", natsCfg.URL).Msg("embedded NATS server started")
	}

	shutdownEmbedded := func() {
		if embedded == nil {
			return
		}
		if err := embedded.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown embedded NATS")
		}
	}

	if err := engine.EnsureStream(ctx, natsCfg); err != nil {
		shutdownEmbedded()
		return nil, nil, nil, fmt.Errorf("ensure stream: %w", err)
	}

	subscriber, err := engine.NewNATSSubscriber(natsCfg, wmLogger)
	if err != nil {
		shutdownEmbedded()
		return nil, nil, nil, err
	}
	publisher, err := engine.NewNATSPublisher(natsCfg, wmLogger)
	if err != nil {
		if closeErr := subscriber.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("close subscriber")
		}
		shutdownEmbedded()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("close publisher")
		}
		if err := subscriber.Close(); err != nil {
			logger.Error().Err(err).Msg("close subscriber")
		}
		shutdownEmbedded()
	}
	return subscriber, publisher, cleanup, nil
}
