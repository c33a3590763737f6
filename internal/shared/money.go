package shared

import "math"

// AmountTolerance is the maximum drift allowed between a payment amount and the
// sum of its allocations.
const AmountTolerance = 0.01

// ResidualTolerance is the threshold above which a redistribution residual is
// folded back into the first allocation.
const ResidualTolerance = 0.001

// Round2 rounds a monetary amount half-up to 2 decimal places. All monetary
// outputs go through here exactly once so repeated recomputation cannot drift
// from the persisted value.
func Round2(v float64) float64 {
	return roundHalfUp(v, 100)
}

// Round4 rounds an exchange rate half-up to 4 decimal places.
func Round4(v float64) float64 {
	return roundHalfUp(v, 10000)
}

func roundHalfUp(v, pow float64) float64 {
	return math.Floor(v*pow+0.5) / pow
}

// AmountsEqual reports whether two monetary amounts match within AmountTolerance.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= AmountTolerance
}
