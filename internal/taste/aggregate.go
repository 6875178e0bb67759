// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package taste implements the pure aggregation and classification math:
// taste signatures (per-dimension mean ratings) and the 4-character
// personality code derived from them.
//
// Everything in this package is deterministic and free of I/O. Callers own
// all persistence and concurrency concerns.
package taste

import (
	"sort"

	"github.com/dymelabs/tastecore/internal/models"
)

// Dimensions the classifier inspects by name. All other dimension keys are
// opaque to this package.
const (
	DimensionRichness  = "Richness"
	DimensionSpiciness = "Spiciness"
	DimensionSweetness = "Sweetness"
)

// Signature maps a taste dimension name to the mean rating across the
// evidence it was computed from. Dimensions absent from all evidence are
// absent from the signature.
type Signature map[string]float64

// Aggregate computes the taste signature over a set of reviews.
//
// Each dimension's mean is taken over the reviews that actually contain that
// dimension, so per-dimension sample sizes may differ when reviews have
// partial dimension coverage. The returned count is the number of input
// reviews, recorded alongside the signature for threshold checks and display.
//
// Empty input yields an empty (non-nil) signature and count 0; that is a
// valid state, not an error.
func Aggregate(reviews []models.Review) (Signature, int) {
	totals := make(map[string]float64)
	counts := make(map[string]int)

	for i := range reviews {
		for dim, rating := range reviews[i].TasteDial {
			totals[dim] += rating
			counts[dim]++
		}
	}

	sig := make(Signature, len(totals))
	for dim, total := range totals {
		sig[dim] = total / float64(counts[dim])
	}

	return sig, len(reviews)
}

// Ratings flattens the individual dimension ratings of all reviews into a
// single slice, in no particular order. Used for the classifier's variance
// component, which operates on raw ratings rather than per-dimension means.
func Ratings(reviews []models.Review) []float64 {
	var out []float64
	for i := range reviews {
		for _, rating := range reviews[i].TasteDial {
			out = append(out, rating)
		}
	}
	return out
}

// TopDimensionsByFrequency returns up to limit dimension names ranked by how
// many reviews rated them, most frequent first. Ties are broken
// lexicographically so the result is stable. Used for profile cards.
func TopDimensionsByFrequency(reviews []models.Review, limit int) []string {
	freq := make(map[string]int)
	for i := range reviews {
		for dim := range reviews[i].TasteDial {
			freq[dim]++
		}
	}

	dims := make([]string, 0, len(freq))
	for dim := range freq {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool {
		if freq[dims[i]] != freq[dims[j]] {
			return freq[dims[i]] > freq[dims[j]]
		}
		return dims[i] < dims[j]
	})

	if len(dims) > limit {
		dims = dims[:limit]
	}
	return dims
}
