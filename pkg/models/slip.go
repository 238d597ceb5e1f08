package models

import (
	"sort"
	"strings"
)

// Strategy selects the combinatorial search used by the optimizer
type Strategy string

const (
	StrategyGreedy  Strategy = "greedy"
	StrategyBeam    Strategy = "beam"
	StrategyGenetic Strategy = "genetic"
)

// SlipCandidate is a scored multi-leg wager. It is never edited after scoring;
// stake sizing returns a new value.
type SlipCandidate struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Legs []Leg  `json:"legs"`

	PayoutMultiplier float64 `json:"payout_multiplier"`

	// Simulated joint outcome, per unit stake
	WinProbability         float64 `json:"win_probability"`
	IndependentProbability float64 `json:"independent_probability"`
	ExpectedValue          float64 `json:"expected_value"`
	Variance               float64 `json:"variance"`
	StandardError          float64 `json:"standard_error"`
	ValueAtRisk            float64 `json:"value_at_risk"`
	ExpectedShortfall      float64 `json:"expected_shortfall"`
	Trials                 int     `json:"trials"`

	// Pessimistic scenario (advisory)
	StressedWinProbability float64 `json:"stressed_win_probability"`
	StressedExpectedValue  float64 `json:"stressed_expected_value"`

	// Dependence and spread
	MaxCorrelation     float64   `json:"max_correlation"`
	MaxAbsCorrelation  float64   `json:"max_abs_correlation"`
	AverageCorrelation float64   `json:"average_correlation"`
	SumAbsCorrelation  float64   `json:"sum_abs_correlation"`
	DiversityScore     float64   `json:"diversity_score"`
	LegEdges           []float64 `json:"leg_edges"`

	Score float64 `json:"score"`

	// Sizing
	FullKelly        float64 `json:"full_kelly"`
	FractionalKelly  float64 `json:"fractional_kelly"`
	RecommendedStake float64 `json:"recommended_stake"`

	CopulaFamily  CopulaFamily `json:"copula_family"`
	LowConfidence bool         `json:"low_confidence"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// LegIDs returns the ids of the slip's legs in order
func (s SlipCandidate) LegIDs() []string {
	ids := make([]string, len(s.Legs))
	for i, leg := range s.Legs {
		ids[i] = leg.Key()
	}
	return ids
}

// SlipKey builds the canonical, order-independent key of a leg-id set
func SlipKey(legIDs []string) string {
	sorted := make([]string, len(legIDs))
	copy(sorted, legIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}
