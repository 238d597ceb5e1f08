package oddsmath

import (
	"fmt"
	"math"
)

// ParlayDecimal multiplies leg decimal odds into the parlay payout multiplier
// 1.91 × 1.91 → 3.65
func ParlayDecimal(decimals []float64) (float64, error) {
	if len(decimals) == 0 {
		return 0, fmt.Errorf("parlay needs at least one leg")
	}

	payout := 1.0
	for i, d := range decimals {
		if d <= 1.0 {
			return 0, fmt.Errorf("leg %d: invalid decimal odds %.4f", i, d)
		}
		payout *= d
	}
	return payout, nil
}

// LegBreakeven is the per-leg hit rate needed to break even on an n-leg slip paying payout.
// For priced legs use ImpliedProbability instead.
// 3-leg at 5x → 0.585
func LegBreakeven(payout float64, legs int) (float64, error) {
	if payout <= 1.0 {
		return 0, fmt.Errorf("invalid payout multiplier %.4f", payout)
	}
	if legs < 1 {
		return 0, fmt.Errorf("invalid leg count %d", legs)
	}
	return math.Pow(payout, -1.0/float64(legs)), nil
}

// Edge is the model probability minus the break-even probability
// Positive edge = +EV pick
func Edge(winProbability, breakeven float64) float64 {
	return winProbability - breakeven
}

// ExpectedValuePerUnit is the expected profit of a 1-unit stake
// EV = p × (payout - 1) - (1 - p)
func ExpectedValuePerUnit(winProbability, payout float64) float64 {
	return winProbability*payout - 1.0
}

// VariancePerUnit is the variance of a 1-unit binary wager's profit
func VariancePerUnit(winProbability, payout float64) float64 {
	return winProbability * (1 - winProbability) * payout * payout
}
