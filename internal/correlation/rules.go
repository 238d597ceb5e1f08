package correlation

import (
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// Rules are the domain adjustments added on top of the empirical estimate
type Rules struct {
	// SameGameBoost is added for legs in the same game on the same side
	SameGameBoost float64
	// OpposingPenalty is subtracted for legs on opposite teams of one matchup
	OpposingPenalty float64
	// StatPairPriors holds same-player priors per sport key, keyed by sorted "statA|statB"
	StatPairPriors map[string]map[string]float64
}

// DefaultRules returns the production adjustments
func DefaultRules() Rules {
	return Rules{
		SameGameBoost:   0.40,
		OpposingPenalty: 0.25,
		StatPairPriors: map[string]map[string]float64{
			"americanfootball_nfl": {
				pairKey("passing_yards", "passing_tds"):      0.65,
				pairKey("passing_yards", "completions"):      0.70,
				pairKey("passing_yards", "passing_attempts"): 0.60,
				pairKey("rushing_yards", "rushing_attempts"): 0.70,
				pairKey("rushing_yards", "rushing_tds"):      0.30,
				pairKey("receiving_yards", "receptions"):     0.75,
				pairKey("receiving_yards", "receiving_tds"):  0.35,
			},
			"basketball_nba": {
				pairKey("points", "pra"):         0.85,
				pairKey("points", "threes"):      0.60,
				pairKey("points", "field_goals"): 0.80,
				pairKey("points", "rebounds"):    0.20,
				pairKey("points", "assists"):     0.25,
				pairKey("rebounds", "pra"):       0.50,
				pairKey("assists", "pra"):        0.45,
			},
			"baseball_mlb": {
				pairKey("hits", "total_bases"):         0.80,
				pairKey("hits", "runs"):                0.35,
				pairKey("strikeouts", "pitching_outs"): 0.50,
			},
			"icehockey_nhl": {
				pairKey("shots_on_goal", "goals"): 0.40,
				pairKey("goals", "points"):        0.70,
				pairKey("assists", "points"):      0.70,
			},
		},
	}
}

// Adjustment returns the additive domain correlation for a pair of legs.
// Legs in different games get no adjustment. Opposite directions flip the sign.
func (r Rules) Adjustment(a, b models.Leg) float64 {
	if a.GameID == "" || a.GameID != b.GameID {
		return 0
	}

	var adj float64
	switch {
	case a.PlayerID == b.PlayerID:
		if prior, ok := r.Prior(a.Sport, a.StatType, b.StatType); ok {
			adj = prior
		} else {
			adj = r.SameGameBoost
		}
	case opposingSides(a, b):
		adj = -r.OpposingPenalty
	default:
		adj = r.SameGameBoost
	}

	if a.Direction != b.Direction {
		adj = -adj
	}
	return adj
}

// Prior looks up the same-player stat-pair prior. An empty sport searches every table.
func (r Rules) Prior(sport, statA, statB string) (float64, bool) {
	key := pairKey(statA, statB)
	if sport != "" {
		prior, ok := r.StatPairPriors[strings.ToLower(sport)][key]
		return prior, ok
	}
	for _, table := range r.StatPairPriors {
		if prior, ok := table[key]; ok {
			return prior, true
		}
	}
	return 0, false
}

func opposingSides(a, b models.Leg) bool {
	if a.Team == "" || b.Team == "" {
		return false
	}
	return a.Team != b.Team
}

func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
