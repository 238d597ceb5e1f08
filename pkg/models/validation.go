package models

// Rule names a constraint checked by the validator
type Rule string

const (
	RuleLegCount            Rule = "leg_count"
	RulePairwiseCorrelation Rule = "max_pairwise_correlation"
	RuleAverageCorrelation  Rule = "max_average_correlation"
	RuleAbsCorrelation      Rule = "max_abs_pairwise_correlation"
	RuleExpectedValue       Rule = "min_expected_value"
	RuleLegEdge             Rule = "min_leg_edge"
	RuleLegConfidence       Rule = "min_leg_confidence"
	RuleDuplicateLeg        Rule = "duplicate_leg"
	RuleDiversity           Rule = "min_diversity"
	RulePlayerExposure      Rule = "max_per_player"
	RuleTeamExposure        Rule = "max_per_team"
	RuleGameExposure        Rule = "max_per_game"
)

// Violation is one failed rule
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
	// Hard violations apply regardless of risk profile
	Hard bool `json:"hard,omitempty"`
}

// ValidationReport is the outcome of validating a slip against a profile
type ValidationReport struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Has reports whether the report contains a violation of the given rule
func (r ValidationReport) Has(rule Rule) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// RejectedCandidate pairs a rejected leg set with the reasons, for user feedback
type RejectedCandidate struct {
	Key    string           `json:"key"`
	LegIDs []string         `json:"leg_ids"`
	Report ValidationReport `json:"report"`
}
