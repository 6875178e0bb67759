// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package taste

import "strings"

// Classification thresholds. These are product constants, not configuration:
// changing them silently reclassifies every user revealed afterwards.
const (
	intensityThreshold = 3.5 // mean-of-means above this -> Intense
	sweetnessThreshold = 3.0 // Sweetness mean above this -> Sweet
	varianceThreshold  = 2.0 // rating variance above this -> Bold
)

// Classify derives the 4-character personality code from an aggregated
// signature and the flattened individual ratings it was computed from.
//
// Four independent binary decisions contribute one character each, in order:
//
//	1. Richness vs Spiciness mean: 'R' or 'S' (absent dimensions count as 0)
//	2. mean-of-means over present dimensions > 3.5: 'I' or 'M'
//	3. Sweetness mean > 3.0: 'S' or 'V'
//	4. population variance of allRatings > 2.0: 'B' or 'N'
//
// The function is total: any input, including all-empty, produces a code
// (empty input yields "SMVN").
func Classify(sig Signature, allRatings []float64) string {
	var code strings.Builder
	code.Grow(4)

	if sig[DimensionRichness] > sig[DimensionSpiciness] {
		code.WriteByte('R')
	} else {
		code.WriteByte('S')
	}

	if meanOfMeans(sig) > intensityThreshold {
		code.WriteByte('I')
	} else {
		code.WriteByte('M')
	}

	if sig[DimensionSweetness] > sweetnessThreshold {
		code.WriteByte('S')
	} else {
		code.WriteByte('V')
	}

	if Variance(allRatings) > varianceThreshold {
		code.WriteByte('B')
	} else {
		code.WriteByte('N')
	}

	return code.String()
}

// meanOfMeans averages the per-dimension means of a signature. An empty
// signature is treated as 0.
func meanOfMeans(sig Signature) float64 {
	if len(sig) == 0 {
		return 0
	}
	var sum float64
	for _, mean := range sig {
		sum += mean
	}
	return sum / float64(len(sig))
}

// Variance computes the population variance of values. Fewer than 2 values
// is defined as 0.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}
