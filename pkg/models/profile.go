package models

import (
	"fmt"
	"strings"
)

// RiskProfile is a named bundle of slip constraints and objective weights
type RiskProfile struct {
	Name string `json:"name" validate:"required"`

	MinLegs int `json:"min_legs" validate:"gte=2"`
	MaxLegs int `json:"max_legs" validate:"gtefield=MinLegs"`

	MaxPairwiseCorrelation float64 `json:"max_pairwise_correlation" validate:"gte=-1,lte=1"`
	MaxAverageCorrelation  float64 `json:"max_average_correlation" validate:"gte=-1,lte=1"`
	// Ceiling on |rho| for any pair, catching strong negative dependence (0 = disabled)
	MaxAbsPairwiseCorrelation float64 `json:"max_abs_pairwise_correlation,omitempty" validate:"gte=0,lte=1"`

	MinExpectedValue float64 `json:"min_expected_value"`
	MinLegEdge       float64 `json:"min_leg_edge"`
	MinLegConfidence float64 `json:"min_leg_confidence" validate:"gte=0,lte=1"`
	MinDiversity     float64 `json:"min_diversity" validate:"gte=0,lte=1"`

	// Maximum number of legs in one slip sharing a player, team or game (0 = no cap)
	MaxPerPlayer int `json:"max_per_player" validate:"gte=0"`
	MaxPerTeam   int `json:"max_per_team" validate:"gte=0"`
	MaxPerGame   int `json:"max_per_game" validate:"gte=0"`

	// Objective weights: score = EV - CorrelationPenalty*sum|rho| + DiversityWeight*diversity
	CorrelationPenalty float64 `json:"correlation_penalty" validate:"gte=0"`
	DiversityWeight    float64 `json:"diversity_weight" validate:"gte=0"`

	KellyFraction float64 `json:"kelly_fraction" validate:"gt=0,lte=1"`
}

// Preset profile names
const (
	ProfileConservative = "conservative"
	ProfileModerate     = "moderate"
	ProfileAggressive   = "aggressive"
)

// ConservativeProfile keeps slips short, nearly uncorrelated and well spread
func ConservativeProfile() RiskProfile {
	return RiskProfile{
		Name:                   ProfileConservative,
		MinLegs:                2,
		MaxLegs:                3,
		MaxPairwiseCorrelation: 0.30,
		MaxAverageCorrelation:  0.20,
		MinExpectedValue:       0.05,
		MinLegEdge:             0.02,
		MinLegConfidence:       0.60,
		MinDiversity:           0.50,
		MaxPerPlayer:           1,
		MaxPerTeam:             2,
		MaxPerGame:             2,
		CorrelationPenalty:     0.50,
		DiversityWeight:        0.20,
		KellyFraction:          0.125,
	}
}

// ModerateProfile is the default profile
func ModerateProfile() RiskProfile {
	return RiskProfile{
		Name:                   ProfileModerate,
		MinLegs:                2,
		MaxLegs:                4,
		MaxPairwiseCorrelation: 0.50,
		MaxAverageCorrelation:  0.30,
		MinExpectedValue:       0.02,
		MinLegEdge:             0.01,
		MinLegConfidence:       0.55,
		MinDiversity:           0.35,
		MaxPerPlayer:           1,
		MaxPerTeam:             3,
		MaxPerGame:             3,
		CorrelationPenalty:     0.25,
		DiversityWeight:        0.15,
		KellyFraction:          0.25,
	}
}

// AggressiveProfile allows long, stacked slips
func AggressiveProfile() RiskProfile {
	return RiskProfile{
		Name:                   ProfileAggressive,
		MinLegs:                2,
		MaxLegs:                6,
		MaxPairwiseCorrelation: 0.70,
		MaxAverageCorrelation:  0.50,
		MinExpectedValue:       0.0,
		MinLegEdge:             0.0,
		MinLegConfidence:       0.50,
		MinDiversity:           0.20,
		MaxPerPlayer:           2,
		MaxPerTeam:             4,
		MaxPerGame:             4,
		CorrelationPenalty:     0.10,
		DiversityWeight:        0.10,
		KellyFraction:          0.50,
	}
}

// Profiles returns all presets
func Profiles() []RiskProfile {
	return []RiskProfile{ConservativeProfile(), ModerateProfile(), AggressiveProfile()}
}

// ProfileByName resolves a preset, case-insensitively
func ProfileByName(name string) (RiskProfile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProfileConservative:
		return ConservativeProfile(), nil
	case ProfileModerate, "":
		return ModerateProfile(), nil
	case ProfileAggressive:
		return AggressiveProfile(), nil
	default:
		return RiskProfile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
}

// Validate checks the profile is internally consistent
func (p RiskProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}
