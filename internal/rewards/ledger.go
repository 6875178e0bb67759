// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package rewards implements the reputation point ledger. Awards are
// commutative atomic increments: concurrent awards to the same user from
// unrelated events never lose updates and need no coordination beyond the
// store's increment primitive.
package rewards

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/metrics"
)

// Fixed award amounts for qualifying actions.
const (
	PointsReview     int64 = 25  // authored a new review
	PointsTip        int64 = 15  // authored tip reached verification
	PointsSubmission int64 = 100 // suggested restaurant approved
	PointsRevelation int64 = 500 // personality crest revealed
)

// Reasons label grants in logs and metrics.
const (
	ReasonReview     = "review_created"
	ReasonTip        = "tip_verified"
	ReasonSubmission = "submission_approved"
	ReasonRevelation = "revelation"
)

// PointsAdder is the store primitive the ledger writes through.
type PointsAdder interface {
	AddPoints(ctx context.Context, userID string, delta int64) error
}

// Ledger applies point awards.
type Ledger struct {
	store  PointsAdder
	logger zerolog.Logger
}

// NewLedger creates a ledger writing through the given store.
func NewLedger(store PointsAdder, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With().Str("component", "rewards").Logger(),
	}
}

// Award grants amount points to the user. Amount must be positive: the
// ledger only ever increases points.
func (l *Ledger) Award(ctx context.Context, userID string, amount int64, reason string) error {
	if userID == "" {
		return fmt.Errorf("award requires a user id")
	}
	if amount <= 0 {
		return fmt.Errorf("award amount must be positive, got %d", amount)
	}

	if err := l.store.AddPoints(ctx, userID, amount); err != nil {
		return fmt.Errorf("award %d points to %s: %w", amount, userID, err)
	}

	metrics.RecordReward(reason, amount)
	l.logger.Info().
		Str("user_id", userID).
		Int64("points", amount).
		Str("reason", reason).
		Msg("points awarded")
	return nil
}
