// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package metrics provides Prometheus instrumentation for the trigger
// engine, the reward ledger, and the HTTP API. Metrics are exposed at
// /metrics in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Trigger engine metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastecore_events_total",
			Help: "Total trigger events by topic and outcome (processed, skipped, malformed, failed)",
		},
		[]string{"topic", "outcome"},
	)

	EventHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastecore_event_handler_duration_seconds",
			Help:    "Trigger handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	SignatureRecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastecore_signature_recompute_duration_seconds",
			Help:    "Full signature recompute duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"subject_type"}, // restaurant, group, user
	)

	// Threshold-event metrics. These count state transitions, so under
	// correct idempotency each logical event increments at most once.
	RevelationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastecore_revelations_total",
			Help: "Total personality revelation transitions fired",
		},
	)

	TipVerificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastecore_tip_verifications_total",
			Help: "Total tip verification transitions fired",
		},
	)

	SubmissionsApprovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastecore_submissions_approved_total",
			Help: "Total restaurant submissions promoted to restaurants",
		},
	)

	// Reward ledger metrics
	RewardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastecore_rewards_total",
			Help: "Total reward grants by reason",
		},
		[]string{"reason"},
	)

	RewardPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastecore_reward_points_total",
			Help: "Total reputation points granted by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastecore_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastecore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastecore_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)

// RecordEvent records the outcome of one trigger handler invocation.
func RecordEvent(topic, outcome string, duration time.Duration) {
	EventsTotal.WithLabelValues(topic, outcome).Inc()
	EventHandlerDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordRecompute records one full signature recompute.
func RecordRecompute(subjectType string, duration time.Duration) {
	SignatureRecomputeDuration.WithLabelValues(subjectType).Observe(duration.Seconds())
}

// RecordReward records a reward grant.
func RecordReward(reason string, points int64) {
	RewardsTotal.WithLabelValues(reason).Inc()
	RewardPointsTotal.WithLabelValues(reason).Add(float64(points))
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
