// Package approx provides tolerance-based float comparisons for tick and time math.
//
// Ticks and seconds reach the same instant through different paths (curve
// integration, offset lookups, quadratic inversion). Comparing them exactly
// produces off-by-one tick results at segment boundaries, so every comparison
// in the scheduling core goes through this package.
package approx

import "math"

// Epsilon is the absolute tolerance below which two values are equal.
const Epsilon = 1e-6

// Equal reports whether a and b differ by no more than Epsilon.
func Equal(a, b float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}

	return math.Abs(a-b) <= Epsilon
}

// Greater reports whether a > b by more than Epsilon.
func Greater(a, b float64) bool {
	return a > b && !Equal(a, b)
}

// GreaterOrEqual reports whether a > b or a is within Epsilon of b.
func GreaterOrEqual(a, b float64) bool {
	return a > b || Equal(a, b)
}

// Less reports whether a < b by more than Epsilon.
func Less(a, b float64) bool {
	return a < b && !Equal(a, b)
}

// LessOrEqual reports whether a < b or a is within Epsilon of b.
func LessOrEqual(a, b float64) bool {
	return a < b || Equal(a, b)
}
