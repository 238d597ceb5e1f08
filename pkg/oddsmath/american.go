package oddsmath

import (
	"fmt"
	"math"
)

// AmericanToDecimal converts American odds to decimal odds
// +150 → 2.50, -150 → 1.67
func AmericanToDecimal(american int) (float64, error) {
	if american > -100 && american < 100 {
		return 0, fmt.Errorf("invalid American odds %d: magnitude must be at least 100", american)
	}

	if american > 0 {
		return float64(american)/100.0 + 1.0, nil
	}
	return 100.0/float64(-american) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds
// 2.50 → +150, 1.67 → -150
func DecimalToAmerican(decimal float64) (int, error) {
	if decimal <= 1.0 {
		return 0, fmt.Errorf("invalid decimal odds %.4f: must be > 1.0", decimal)
	}

	if decimal >= 2.0 {
		return int(math.Round((decimal - 1.0) * 100.0)), nil
	}
	return int(math.Round(-100.0 / (decimal - 1.0))), nil
}

// ImpliedProbability is the break-even win probability of decimal odds
// 2.00 → 0.50
func ImpliedProbability(decimal float64) (float64, error) {
	if decimal <= 0 {
		return 0, fmt.Errorf("invalid decimal odds %.4f: must be > 0", decimal)
	}
	return 1.0 / decimal, nil
}

// ProbabilityToDecimal converts a fair probability to decimal odds
func ProbabilityToDecimal(probability float64) (float64, error) {
	if probability <= 0 || probability > 1 {
		return 0, fmt.Errorf("invalid probability %.4f: must be in (0,1]", probability)
	}
	return 1.0 / probability, nil
}
