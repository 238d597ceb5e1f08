package scoring_test

import (
	"math/rand"
	"testing"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/scoring"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leg(id, player, stat, team, game string) models.Leg {
	return models.Leg{ID: id, PlayerID: player, StatType: stat, Team: team, GameID: game, Direction: models.DirectionOver}
}

func TestDiversity_Extremes(t *testing.T) {
	spread := []models.Leg{
		leg("a", "p1", "points", "LAL", "g1"),
		leg("b", "p2", "rebounds", "BOS", "g2"),
		leg("c", "p3", "assists", "NYK", "g3"),
	}
	assert.InDelta(t, 1.0, scoring.Diversity(spread), 1e-12)

	stacked := []models.Leg{
		leg("a", "p1", "points", "LAL", "g1"),
		leg("b", "p1", "points", "LAL", "g1"),
	}
	// Half unique in every ratio, and no team evenness
	assert.InDelta(t, 0.35*0.5+0.25*0.5+0.20*0.5, scoring.Diversity(stacked), 1e-12)

	assert.Equal(t, 0.0, scoring.Diversity(nil))
}

func TestDiversity_AlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pick := func(options ...string) string { return options[rng.Intn(len(options))] }

	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(8)
		legs := make([]models.Leg, n)
		for i := range legs {
			legs[i] = leg(
				pick("a", "b", "c", "d", "e", "f", "g", "h")+string(rune('0'+i)),
				pick("p1", "p2", "p3"),
				pick("points", "rebounds"),
				pick("LAL", "BOS", ""),
				pick("g1", "g2", ""),
			)
		}
		d := scoring.Diversity(legs)
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, 1.0)
	}
}

func TestEvenness(t *testing.T) {
	assert.InDelta(t, 1.0, scoring.Evenness(map[string]int{"a": 1, "b": 1, "c": 1}, 3), 1e-12)
	assert.InDelta(t, 0.0, scoring.Evenness(map[string]int{"a": 3}, 3), 1e-12)
	assert.Equal(t, 1.0, scoring.Evenness(map[string]int{"a": 1}, 1))
}

func TestCorrelations(t *testing.T) {
	matrix := &models.CorrelationMatrix{
		LegIDs: []string{"a", "b", "c"},
		Values: [][]float64{
			{1, 0.4, -0.2},
			{0.4, 1, 0.1},
			{-0.2, 0.1, 1},
		},
	}

	stats := scoring.Correlations(matrix, []int{0, 1, 2})
	assert.Equal(t, 3, stats.Pairs)
	assert.InDelta(t, 0.4, stats.Max, 1e-12)
	assert.InDelta(t, 0.4, stats.MaxAbs, 1e-12)
	assert.InDelta(t, 0.1, stats.Average, 1e-12)
	assert.InDelta(t, 0.7, stats.SumAbs, 1e-12)

	assert.Equal(t, scoring.CorrelationStats{}, scoring.Correlations(matrix, []int{1}))

	negative := scoring.Correlations(matrix, []int{0, 2})
	assert.InDelta(t, -0.2, negative.Max, 1e-12)
	assert.InDelta(t, 0.2, negative.MaxAbs, 1e-12)
}

func TestObjective(t *testing.T) {
	profile := models.RiskProfile{CorrelationPenalty: 0.5, DiversityWeight: 0.2}
	assert.InDelta(t, 0.1-0.5*0.4+0.2*0.8, scoring.Objective(0.1, 0.4, 0.8, profile), 1e-12)
}

func TestBetter_TieBreaks(t *testing.T) {
	twoLegs := []models.Leg{{ID: "a"}, {ID: "b"}}
	threeLegs := []models.Leg{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	high := &models.SlipCandidate{Key: "x", Score: 0.2, Legs: threeLegs}
	low := &models.SlipCandidate{Key: "y", Score: 0.1, Legs: twoLegs}
	assert.True(t, scoring.Better(high, low))

	lessCorrelated := &models.SlipCandidate{Key: "x", Score: 0.1, AverageCorrelation: 0.1, Legs: threeLegs}
	moreCorrelated := &models.SlipCandidate{Key: "y", Score: 0.1, AverageCorrelation: 0.3, Legs: twoLegs}
	assert.True(t, scoring.Better(lessCorrelated, moreCorrelated))

	shorter := &models.SlipCandidate{Key: "z", Score: 0.1, Legs: twoLegs}
	longer := &models.SlipCandidate{Key: "a", Score: 0.1, Legs: threeLegs}
	assert.True(t, scoring.Better(shorter, longer))
	assert.False(t, scoring.Better(longer, shorter))
}

func TestPricing(t *testing.T) {
	table, err := scoring.NewPricing(map[int]float64{2: 3, 3: 5})
	require.NoError(t, err)

	legs := []models.Leg{
		{ID: "a", WinProbability: 0.6},
		{ID: "b", WinProbability: 0.6},
		{ID: "c", WinProbability: 0.6},
	}
	payout, err := table.Payout(legs)
	require.NoError(t, err)
	assert.Equal(t, 5.0, payout)

	// 3-leg at 5x breaks even at 0.5848 per leg
	assert.InDelta(t, 0.6-0.58480, table.LegEdge(legs[0], 3, 5), 1e-4)
	assert.InDelta(t, 0.6-0.57735, table.StandaloneEdge(legs[0], 2, 3), 1e-4)

	_, err = table.Payout(legs[:1])
	assert.Error(t, err)

	_, err = scoring.NewPricing(map[int]float64{2: 0.9})
	assert.Error(t, err)

	priced := scoring.Pricing{}
	odds := []models.Leg{
		{ID: "a", WinProbability: 0.6, DecimalOdds: 2.0},
		{ID: "b", WinProbability: 0.55, DecimalOdds: 1.9},
	}
	payout, err = priced.Payout(odds)
	require.NoError(t, err)
	assert.InDelta(t, 3.8, payout, 1e-12)
	assert.InDelta(t, 0.1, priced.LegEdge(odds[0], 2, payout), 1e-12)

	_, err = priced.Payout(legs)
	assert.Error(t, err)
}
