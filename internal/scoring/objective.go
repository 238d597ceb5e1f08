package scoring

import "github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"

// Objective returns EV − λ·Σ|ρ| + μ·diversity with the profile's weights
func Objective(expectedValue, sumAbsCorrelation, diversity float64, profile models.RiskProfile) float64 {
	return expectedValue - profile.CorrelationPenalty*sumAbsCorrelation + profile.DiversityWeight*diversity
}

// Better orders two scored slips: higher score, then lower average correlation,
// then fewer legs, then key for a stable order
func Better(a, b *models.SlipCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.AverageCorrelation != b.AverageCorrelation {
		return a.AverageCorrelation < b.AverageCorrelation
	}
	if len(a.Legs) != len(b.Legs) {
		return len(a.Legs) < len(b.Legs)
	}
	return a.Key < b.Key
}
