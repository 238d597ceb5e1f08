package sizing

import "math"

// BinaryKelly returns the full Kelly fraction (b·p − q)/b for a single all-or-nothing
// wager paying payout (decimal) per unit staked
func BinaryKelly(p, payout float64) float64 {
	b := payout - 1.0 // Net odds
	if b <= 0 || math.IsNaN(p) {
		return 0
	}
	q := 1.0 - p
	return (b*p - q) / b
}

// EdgeVarianceKelly approximates the growth-optimal fraction as edge/variance
func EdgeVarianceKelly(edge, variance float64) float64 {
	if variance <= 0 || math.IsNaN(edge) || math.IsNaN(variance) {
		return 0
	}
	return edge / variance
}
