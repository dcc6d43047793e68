// Package fmath provides the zero-tolerant float helpers shared by the
// accounting and trade-matching code. Every quantity comparison in the
// backtester goes through these so that a single epsilon governs all of them.
package fmath

import "math"

// Epsilon is the absolute tolerance below which a quantity is treated as zero.
const Epsilon = 1e-12

// IsZero reports whether x is zero within Epsilon.
func IsZero(x float64) bool {
	return math.Abs(x) <= Epsilon
}

// Sign returns -1, 0 or +1 for x, treating |x| <= Epsilon as zero.
// NaN has sign 0.
func Sign(x float64) int {
	if math.IsNaN(x) || IsZero(x) {
		return 0
	}
	if x > 0 {
		return 1
	}
	return -1
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// UsablePrice reports whether px can be traded or marked against: finite
// and strictly positive.
func UsablePrice(px float64) bool {
	return IsFinite(px) && px > 0
}

// Clip bounds x to [-limit, limit].
func Clip(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}
