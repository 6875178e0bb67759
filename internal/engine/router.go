// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	"github.com/dymelabs/tastecore/internal/metrics"
)

// RouterConfig holds configuration for the event router.
type RouterConfig struct {
	// CloseTimeout is how long to wait for in-flight handlers on shutdown.
	CloseTimeout time.Duration

	// Retry configuration for transient handler failures.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonTopic receives messages that exhaust their retries. Empty
	// disables the poison queue.
	PoisonTopic string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonTopic:          TopicPoison,
	}
}

// Router runs the engine's event handlers over a watermill router with panic
// recovery, exponential backoff retry, and poison queue routing. A handler
// error nacks the message and the substrate redelivers it; the handlers are
// idempotent, so redelivery is safe.
type Router struct {
	router *message.Router
	engine *Engine
}

// NewRouter builds the router and registers one consumer handler per topic.
func NewRouter(
	cfg RouterConfig,
	engine *Engine,
	subscriber message.Subscriber,
	poisonPublisher message.Publisher,
	logger watermill.LoggerAdapter,
) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddPlugin(plugin.SignalsHandler)

	// Middleware order, outer to inner: recover panics first, then retry
	// transient failures, then divert exhausted messages to the poison
	// queue.
	wmRouter.AddMiddleware(middleware.Recoverer)

	retryMiddleware := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retryMiddleware.Middleware)

	if poisonPublisher != nil && cfg.PoisonTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	r := &Router{router: wmRouter, engine: engine}

	wmRouter.AddNoPublisherHandler("review_created", TopicReviewCreated, subscriber,
		consume(TopicReviewCreated, engine.HandleReviewCreated, logger))
	wmRouter.AddNoPublisherHandler("tip_updated", TopicTipUpdated, subscriber,
		consume(TopicTipUpdated, engine.HandleTipUpdated, logger))
	wmRouter.AddNoPublisherHandler("submission_updated", TopicSubmissionUpdated, subscriber,
		consume(TopicSubmissionUpdated, engine.HandleSubmissionUpdated, logger))
	wmRouter.AddNoPublisherHandler("group_updated", TopicGroupUpdated, subscriber,
		consume(TopicGroupUpdated, engine.HandleGroupUpdated, logger))
	wmRouter.AddNoPublisherHandler("story_created", TopicStoryCreated, subscriber,
		consume(TopicStoryCreated, engine.HandleStoryCreated, logger))

	return r, nil
}

// consume adapts a typed engine handler into a watermill consumer. Decode and
// validation failures are permanent, so the message is acked and counted as
// malformed instead of circling through retries.
func consume[T any, P interface {
	*T
	event
}](topic string, handle func(context.Context, *T) error, logger watermill.LoggerAdapter) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		start := time.Now()

		ev, err := decodeEvent[T, P](msg.Payload)
		if err != nil {
			logger.Error("Dropping malformed event", err, watermill.LogFields{
				"topic":      topic,
				"message_id": msg.UUID,
			})
			metrics.RecordEvent(topic, "malformed", time.Since(start))
			return nil
		}

		if err := handle(msg.Context(), ev); err != nil {
			metrics.RecordEvent(topic, "error", time.Since(start))
			return err
		}

		metrics.RecordEvent(topic, "ok", time.Since(start))
		return nil
	}
}

// Run starts the router and blocks until the context is canceled or Close is
// called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are subscribed.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
