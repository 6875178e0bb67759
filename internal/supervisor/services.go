// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Runner is anything that blocks in Run until its context is canceled. The
// event router satisfies this.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	Name   string
	Runner Runner
}

// Serve implements suture.Service. A clean exit after context cancellation
// is a normal shutdown, not a failure to restart.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.Runner.Run(ctx)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *RunnerService) String() string { return s.Name }

// HTTPService runs an http.Server under supervision with graceful shutdown.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error().Err(err).Msg("http shutdown incomplete, closing")
		if closeErr := s.Server.Close(); closeErr != nil {
			return fmt.Errorf("force close http server: %w", closeErr)
		}
	}
	<-errCh
	return ctx.Err()
}

func (s *HTTPService) String() string { return "http-server" }

// Compile-time interface checks.
var (
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*HTTPService)(nil)
)
