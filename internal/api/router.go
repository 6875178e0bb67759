// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dymelabs/tastecore/internal/config"
	"github.com/dymelabs/tastecore/internal/middleware"
)

// NewRouter wires the full HTTP surface: middleware stack, authenticated
// API routes, and the unauthenticated health and metrics endpoints.
func NewRouter(handler *Handler, auth *Authenticator, cfg config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health endpoints stay unauthenticated with a permissive limit so
	// orchestrators can probe freely.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.Middleware)

		r.Post("/groups", handler.CreateGroup)
		r.Post("/groups/{id}/members", handler.AddGroupMember)
		r.Get("/groups/{id}/recommendations", handler.GetGroupRecommendations)
		r.Get("/profile/card", handler.ProfileCard)
		r.Get("/profile/pass", handler.ProfilePass)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
