// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package recommend answers "best match" queries over aggregated taste
// signatures: pick the signature's strongest dimension, then rank
// restaurants by their own mean on that dimension.
//
// The package depends on the store only through the CandidateStore
// interface, so it can be exercised against fixtures without a database.
package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/models"
	"github.com/dymelabs/tastecore/internal/taste"
)

// Result-set sizes: a single best match, or a short ranked list.
const (
	BestMatchLimit  = 1
	RankedListLimit = 5
)

var (
	// ErrNoSignal indicates the signature is empty: there is no evidence to
	// select a dimension from. Callers surface this as not-found rather
	// than returning an empty list silently.
	ErrNoSignal = errors.New("signature carries no taste signal")

	// ErrNoMatch indicates no restaurant has the selected dimension
	// populated in its own signature.
	ErrNoMatch = errors.New("no restaurants match the top dimension")
)

// CandidateStore supplies restaurants ordered descending by a signature
// dimension. Implemented by the document store.
type CandidateStore interface {
	RestaurantsByDimension(ctx context.Context, dimension string, limit int) ([]models.Restaurant, error)
}

// Recommendation is one ranked candidate.
type Recommendation struct {
	Restaurant models.Restaurant `json:"restaurant"`
	Dimension  string            `json:"dimension"`
	Score      float64           `json:"score"`
	Reason     string            `json:"reason"`
}

// TopDimension returns the dimension with the strictly greatest mean in the
// signature. Ties break lexicographically ascending over dimension names, a
// deliberately documented order (the behavior this replaces leaned on
// incidental map iteration). Empty signatures fail with ErrNoSignal.
func TopDimension(sig taste.Signature) (string, error) {
	if len(sig) == 0 {
		return "", ErrNoSignal
	}

	var top string
	best := -1.0
	for dim, mean := range sig {
		switch {
		case mean > best:
			top, best = dim, mean
		case mean == best && dim < top:
			top = dim
		}
	}
	return top, nil
}

// Selector runs recommendation queries against the candidate store. It
// never mutates state.
type Selector struct {
	store  CandidateStore
	logger zerolog.Logger
}

// NewSelector creates a selector.
func NewSelector(store CandidateStore, logger zerolog.Logger) *Selector {
	return &Selector{
		store:  store,
		logger: logger.With().Str("component", "recommend").Logger(),
	}
}

// Recommend returns up to k restaurants ranked descending by their own mean
// on the signature's top dimension.
func (s *Selector) Recommend(ctx context.Context, sig taste.Signature, k int) ([]Recommendation, error) {
	if k <= 0 {
		k = BestMatchLimit
	}

	dimension, err := TopDimension(sig)
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.RestaurantsByDimension(ctx, dimension, k)
	if err != nil {
		return nil, fmt.Errorf("query candidates for %s: %w", dimension, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("dimension %s: %w", dimension, ErrNoMatch)
	}

	results := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, Recommendation{
			Restaurant: c,
			Dimension:  dimension,
			Score:      c.Signature[dimension],
			Reason:     fmt.Sprintf("Highly rated for the group's favorite flavor: %s", dimension),
		})
	}

	s.logger.Debug().
		Str("dimension", dimension).
		Int("results", len(results)).
		Msg("recommendation computed")
	return results, nil
}
