// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package logging provides centralized zerolog-based logging.
//
// Initialize once at startup:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
// then log through the package helpers or derive component loggers:
//
//	logging.Info().Str("user", userID).Msg("revelation fired")
//	logger := logging.Get().With().Str("component", "engine").Logger()
//
// Always terminate log chains with .Msg() or .Send(); a chain without a
// terminator is silently dropped by zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string

	// Format is json (production) or console (development).
	Format string

	// Caller includes the caller file:line in output.
	Caller bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // ensures logging works before explicit Init()
func init() {
	initLogger(Config{})
}

// Init configures the global logger. Safe to call multiple times.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	initLogger(cfg)
	return nil
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Caller {
		logger = logger.Caller()
	}
	log = logger.Logger()
}

// Get returns the global logger. Derive component loggers from it rather
// than storing it, so reconfiguration at startup is picked up.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Trace starts a trace-level event on the global logger.
func Trace() *zerolog.Event { l := Get(); return l.Trace() }

// Debug starts a debug-level event on the global logger.
func Debug() *zerolog.Event { l := Get(); return l.Debug() }

// Info starts an info-level event on the global logger.
func Info() *zerolog.Event { l := Get(); return l.Info() }

// Warn starts a warn-level event on the global logger.
func Warn() *zerolog.Event { l := Get(); return l.Warn() }

// Error starts an error-level event on the global logger.
func Error() *zerolog.Event { l := Get(); return l.Error() }

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID attaches a request ID for downstream log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger enriched with the context's request ID.
func Ctx(ctx context.Context) zerolog.Logger {
	logger := Get()
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	return logger
}
