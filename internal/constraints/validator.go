package constraints

import (
	"fmt"
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// Validate checks a scored slip against every rule of the profile. It reads the
// candidate's derived metrics and never modifies the candidate.
func Validate(candidate *models.SlipCandidate, profile models.RiskProfile) models.ValidationReport {
	var violations []models.Violation

	// Check leg count
	n := len(candidate.Legs)
	if n < profile.MinLegs || n > profile.MaxLegs {
		violations = append(violations, violation(models.RuleLegCount,
			"%d legs outside allowed range [%d, %d]", n, profile.MinLegs, profile.MaxLegs))
	}

	violations = append(violations, duplicates(candidate.Legs)...)
	violations = append(violations, correlationCeilings(candidate, profile, true)...)

	// Check expected value
	if candidate.ExpectedValue < profile.MinExpectedValue {
		violations = append(violations, violation(models.RuleExpectedValue,
			"expected value %.4f below minimum %.4f", candidate.ExpectedValue, profile.MinExpectedValue))
	}

	violations = append(violations, legQuality(candidate, profile)...)

	// Check diversity
	if candidate.DiversityScore < profile.MinDiversity {
		violations = append(violations, violation(models.RuleDiversity,
			"diversity %.3f below target %.3f", candidate.DiversityScore, profile.MinDiversity))
	}

	violations = append(violations, exposure(candidate.Legs, profile)...)

	return report(violations)
}

// ValidatePartial checks only the rules a search cannot repair by adding legs: the leg
// ceiling, pairwise correlation, duplicates, per-leg edge and confidence, and exposure caps.
// A partial slip that fails here can be pruned along with every extension of it.
func ValidatePartial(candidate *models.SlipCandidate, profile models.RiskProfile) models.ValidationReport {
	var violations []models.Violation

	if n := len(candidate.Legs); n > profile.MaxLegs {
		violations = append(violations, violation(models.RuleLegCount,
			"%d legs exceed maximum %d", n, profile.MaxLegs))
	}

	violations = append(violations, duplicates(candidate.Legs)...)
	violations = append(violations, correlationCeilings(candidate, profile, false)...)
	violations = append(violations, legQuality(candidate, profile)...)
	violations = append(violations, exposure(candidate.Legs, profile)...)

	return report(violations)
}

// Partition splits scored slips into those passing Validate and rejection records
func Partition(candidates []*models.SlipCandidate, profile models.RiskProfile) ([]*models.SlipCandidate, []models.RejectedCandidate) {
	var valid []*models.SlipCandidate
	var rejected []models.RejectedCandidate

	for _, candidate := range candidates {
		r := Validate(candidate, profile)
		if r.Valid {
			valid = append(valid, candidate)
			continue
		}
		rejected = append(rejected, models.RejectedCandidate{
			Key:    candidate.Key,
			LegIDs: candidate.LegIDs(),
			Report: r,
		})
	}
	return valid, rejected
}

// duplicates blocks a player+stat+direction appearing twice, regardless of profile
func duplicates(legs []models.Leg) []models.Violation {
	var out []models.Violation
	seen := make(map[string]string, len(legs))
	for _, leg := range legs {
		key := leg.ExposureKey()
		if first, ok := seen[key]; ok {
			v := violation(models.RuleDuplicateLeg, "legs %s and %s repeat %s", first, leg.Key(), key)
			v.Hard = true
			out = append(out, v)
			continue
		}
		seen[key] = leg.Key()
	}
	return out
}

func correlationCeilings(candidate *models.SlipCandidate, profile models.RiskProfile, includeAverage bool) []models.Violation {
	if len(candidate.Legs) < 2 {
		return nil
	}

	var out []models.Violation
	if candidate.MaxCorrelation > profile.MaxPairwiseCorrelation {
		out = append(out, violation(models.RulePairwiseCorrelation,
			"pairwise correlation %.3f exceeds %.3f", candidate.MaxCorrelation, profile.MaxPairwiseCorrelation))
	}
	if profile.MaxAbsPairwiseCorrelation > 0 && candidate.MaxAbsCorrelation > profile.MaxAbsPairwiseCorrelation {
		out = append(out, violation(models.RuleAbsCorrelation,
			"absolute pairwise correlation %.3f exceeds %.3f", candidate.MaxAbsCorrelation, profile.MaxAbsPairwiseCorrelation))
	}
	if includeAverage && candidate.AverageCorrelation > profile.MaxAverageCorrelation {
		out = append(out, violation(models.RuleAverageCorrelation,
			"average correlation %.3f exceeds %.3f", candidate.AverageCorrelation, profile.MaxAverageCorrelation))
	}
	return out
}

func legQuality(candidate *models.SlipCandidate, profile models.RiskProfile) []models.Violation {
	var out []models.Violation
	for i, leg := range candidate.Legs {
		if i < len(candidate.LegEdges) && candidate.LegEdges[i] < profile.MinLegEdge {
			out = append(out, violation(models.RuleLegEdge,
				"leg %s edge %.4f below minimum %.4f", leg.Key(), candidate.LegEdges[i], profile.MinLegEdge))
		}
		if leg.Confidence < profile.MinLegConfidence {
			out = append(out, violation(models.RuleLegConfidence,
				"leg %s confidence %.2f below minimum %.2f", leg.Key(), leg.Confidence, profile.MinLegConfidence))
		}
	}
	return out
}

func exposure(legs []models.Leg, profile models.RiskProfile) []models.Violation {
	var out []models.Violation
	out = append(out, capCount(legs, profile.MaxPerPlayer, models.RulePlayerExposure, "player",
		func(l models.Leg) string { return l.PlayerID })...)
	out = append(out, capCount(legs, profile.MaxPerTeam, models.RuleTeamExposure, "team",
		func(l models.Leg) string { return l.Team })...)
	out = append(out, capCount(legs, profile.MaxPerGame, models.RuleGameExposure, "game",
		func(l models.Leg) string { return l.GameID })...)
	return out
}

// capCount flags every entity with more legs than limit. Legs with an empty value are not counted.
func capCount(legs []models.Leg, limit int, rule models.Rule, entity string, key func(models.Leg) string) []models.Violation {
	if limit <= 0 {
		return nil
	}

	counts := make(map[string]int, len(legs))
	var order []string
	for _, leg := range legs {
		k := strings.ToLower(key(leg))
		if k == "" {
			continue
		}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	var out []models.Violation
	for _, k := range order {
		if counts[k] > limit {
			out = append(out, violation(rule, "%s %s has %d legs, limit %d", entity, k, counts[k], limit))
		}
	}
	return out
}

func violation(rule models.Rule, format string, args ...interface{}) models.Violation {
	return models.Violation{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func report(violations []models.Violation) models.ValidationReport {
	if violations == nil {
		violations = []models.Violation{}
	}
	return models.ValidationReport{Valid: len(violations) == 0, Violations: violations}
}
