package scoring

import (
	"math"
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// Diversity blend weights
const (
	weightGames   = 0.35
	weightPlayers = 0.25
	weightStats   = 0.20
	weightTeams   = 0.20
)

// Diversity scores how widely a slip spreads its exposure, in [0,1].
// An empty slip scores 0; a single leg scores 1.
func Diversity(legs []models.Leg) float64 {
	n := len(legs)
	if n == 0 {
		return 0
	}

	games := make(map[string]struct{}, n)
	players := make(map[string]struct{}, n)
	stats := make(map[string]struct{}, n)
	teams := make(map[string]int, n)

	for _, leg := range legs {
		games[orUnique(leg.GameID, leg)] = struct{}{}
		players[strings.ToLower(leg.PlayerID)] = struct{}{}
		stats[strings.ToLower(leg.StatType)] = struct{}{}
		teams[orUnique(strings.ToLower(leg.Team), leg)]++
	}

	score := weightGames*ratio(len(games), n) +
		weightPlayers*ratio(len(players), n) +
		weightStats*ratio(len(stats), n) +
		weightTeams*Evenness(teams, n)

	return math.Max(0, math.Min(1, score))
}

// Evenness is the Shannon entropy of the counts normalized by ln(total): 0 when every
// leg shares one bucket, 1 when each leg has its own
func Evenness(counts map[string]int, total int) float64 {
	if total <= 1 {
		return 1
	}

	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log(p)
	}
	return math.Max(0, math.Min(1, entropy/math.Log(float64(total))))
}

func ratio(unique, n int) float64 {
	return float64(unique) / float64(n)
}

// orUnique keeps legs without a value from collapsing into one bucket
func orUnique(value string, leg models.Leg) string {
	if value != "" {
		return value
	}
	return "leg:" + leg.Key()
}
