package correlation_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/cache"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/correlation"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func leg(id, player, stat, team, game string, dir models.Direction) models.Leg {
	return models.Leg{
		ID:             id,
		PlayerID:       player,
		StatType:       stat,
		Direction:      dir,
		Team:           team,
		GameID:         game,
		Sport:          "americanfootball_nfl",
		WinProbability: 0.55,
	}
}

func assertValidCorrelation(t *testing.T, m *models.CorrelationMatrix) {
	t.Helper()
	n := m.Size()
	for i := 0; i < n; i++ {
		assert.Equal(t, 1.0, m.At(i, i), "diagonal must be exactly 1")
		for j := 0; j < n; j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i), "matrix must be symmetric")
			assert.LessOrEqual(t, math.Abs(m.At(i, j)), 1.0)
		}
	}
	ok, minEig := correlation.IsPSD(m.Values, 1e-9)
	assert.True(t, ok, "min eigenvalue %g", minEig)
}

func TestNearestPSD_InvalidRawValue(t *testing.T) {
	// Raw value above 1 is clipped and corrected
	raw := [][]float64{{1, 1.2}, {1.2, 1}}

	repaired, err := correlation.NearestPSD(raw, correlation.DefaultEpsilon)
	require.NoError(t, err)
	assert.True(t, repaired.Corrected)

	m := &models.CorrelationMatrix{LegIDs: []string{"a", "b"}, Values: repaired.Values}
	assertValidCorrelation(t, m)
}

func TestNearestPSD_IndefiniteMatrix(t *testing.T) {
	// Pairwise-valid but jointly impossible correlations
	raw := [][]float64{
		{1, 0.9, -0.9},
		{0.9, 1, 0.9},
		{-0.9, 0.9, 1},
	}
	ok, _ := correlation.IsPSD(raw, 0)
	require.False(t, ok)

	repaired, err := correlation.NearestPSD(raw, correlation.DefaultEpsilon)
	require.NoError(t, err)
	assert.True(t, repaired.Corrected)
	assertValidCorrelation(t, &models.CorrelationMatrix{LegIDs: []string{"a", "b", "c"}, Values: repaired.Values})
}

func TestNearestPSD_AlreadyValidIsUntouched(t *testing.T) {
	raw := [][]float64{{1, 0.3}, {0.3, 1}}
	repaired, err := correlation.NearestPSD(raw, correlation.DefaultEpsilon)
	require.NoError(t, err)
	assert.False(t, repaired.Corrected)
	assert.InDelta(t, 0.3, repaired.Values[0][1], 1e-12)
}

func TestNearestPSD_RandomMatricesProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(7)
		raw := make([][]float64, n)
		for i := range raw {
			raw[i] = make([]float64, n)
		}
		for i := 0; i < n; i++ {
			raw[i][i] = 1
			for j := i + 1; j < n; j++ {
				v := rng.Float64()*2.6 - 1.3
				raw[i][j], raw[j][i] = v, v
			}
		}

		repaired, err := correlation.NearestPSD(raw, correlation.DefaultEpsilon)
		require.NoError(t, err, "trial %d", trial)

		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("leg-%d", i)
		}
		assertValidCorrelation(t, &models.CorrelationMatrix{LegIDs: ids, Values: repaired.Values})
	}
}

func TestSpearman(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}

	rho, ok := correlation.Spearman(x, []float64{10, 20, 30, 40, 50})
	require.True(t, ok)
	assert.InDelta(t, 1.0, rho, 1e-12)

	rho, ok = correlation.Spearman(x, []float64{5, 4, 3, 2, 1})
	require.True(t, ok)
	assert.InDelta(t, -1.0, rho, 1e-12)

	// Monotone but nonlinear is still perfect rank correlation
	rho, ok = correlation.Spearman(x, []float64{1, 8, 27, 64, 125})
	require.True(t, ok)
	assert.InDelta(t, 1.0, rho, 1e-12)

	_, ok = correlation.Spearman(x, []float64{3, 3, 3, 3, 3})
	assert.False(t, ok, "constant sample has no rank correlation")
}

func TestRanks_Ties(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, correlation.Ranks([]float64{1, 2, 2, 3}))
}

func TestAlignResiduals(t *testing.T) {
	a := []models.ResidualObservation{{Key: "g1", Value: 1}, {Key: "g2", Value: 2}, {Key: "g3", Value: 3}}
	b := []models.ResidualObservation{{Key: "g3", Value: 30}, {Key: "g1", Value: 10}, {Key: "g9", Value: 90}}

	x, y := correlation.AlignResiduals(a, b)
	assert.Equal(t, []float64{3, 1}, x)
	assert.Equal(t, []float64{30, 10}, y)
}

func TestRules_Adjustment(t *testing.T) {
	rules := correlation.DefaultRules()

	qbYds := leg("a", "qb1", "passing_yards", "KC", "g1", models.DirectionOver)
	qbTds := leg("b", "qb1", "passing_tds", "KC", "g1", models.DirectionOver)
	wr := leg("c", "wr1", "receiving_yards", "KC", "g1", models.DirectionOver)
	opp := leg("d", "rb2", "rushing_yards", "BUF", "g1", models.DirectionOver)
	oppUnder := leg("e", "rb3", "rushing_yards", "BUF", "g1", models.DirectionUnder)
	other := leg("f", "qb9", "passing_yards", "DAL", "g2", models.DirectionOver)

	assert.InDelta(t, 0.65, rules.Adjustment(qbYds, qbTds), 1e-12, "same-player prior")
	assert.InDelta(t, 0.40, rules.Adjustment(qbYds, wr), 1e-12, "same-game boost")
	assert.InDelta(t, -0.25, rules.Adjustment(qbYds, opp), 1e-12, "opposing penalty")
	assert.InDelta(t, 0.25, rules.Adjustment(qbYds, oppUnder), 1e-12, "opposite direction flips sign")
	assert.Equal(t, 0.0, rules.Adjustment(qbYds, other), "different games")
}

func TestEngine_RuleOnlyEstimate(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	legs := []models.Leg{
		leg("a", "qb1", "passing_yards", "KC", "g1", models.DirectionOver),
		leg("b", "qb1", "passing_tds", "KC", "g1", models.DirectionOver),
		leg("c", "wr1", "receiving_yards", "KC", "g1", models.DirectionOver),
		leg("d", "rb2", "rushing_yards", "BUF", "g1", models.DirectionOver),
		leg("e", "qb9", "passing_yards", "DAL", "g2", models.DirectionOver),
	}

	m, err := engine.Estimate(context.Background(), legs, nil)
	require.NoError(t, err)
	assertValidCorrelation(t, m)
	assert.Equal(t, 0, m.EmpiricalPairs)
	assert.False(t, m.LowConfidence)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, m.LegIDs)

	ab, ok := m.Between("a", "b")
	require.True(t, ok)
	assert.Greater(t, ab, 0.5)

	ae, _ := m.Between("a", "e")
	assert.InDelta(t, 0.0, ae, 0.05)
}

func TestEngine_EmpiricalHistory(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	// Different games, so no rule adjustment; history is perfectly anti-monotone
	legs := []models.Leg{
		leg("a", "p1", "points", "LAL", "g1", models.DirectionOver),
		leg("b", "p2", "points", "BOS", "g2", models.DirectionOver),
	}
	history := models.ResidualHistory{}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("2025-01-%02d", i+1)
		history["a"] = append(history["a"], models.ResidualObservation{Key: key, Value: float64(i)})
		history["b"] = append(history["b"], models.ResidualObservation{Key: key, Value: float64(-i * i)})
	}

	m, err := engine.Estimate(context.Background(), legs, history)
	require.NoError(t, err)
	assert.Equal(t, 1, m.EmpiricalPairs)
	assertValidCorrelation(t, m)
	assert.Less(t, m.At(0, 1), -0.99)
}

func TestEngine_InsufficientHistoryFallsBack(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	legs := []models.Leg{
		leg("a", "p1", "points", "LAL", "g1", models.DirectionOver),
		leg("b", "p2", "points", "BOS", "g2", models.DirectionOver),
	}
	history := models.ResidualHistory{
		"a": {{Key: "d1", Value: 1}, {Key: "d2", Value: 2}, {Key: "d3", Value: 3}},
		"b": {{Key: "d1", Value: 1}, {Key: "d2", Value: 2}, {Key: "d3", Value: 3}},
	}

	m, err := engine.Estimate(context.Background(), legs, history)
	require.NoError(t, err)
	assert.Equal(t, 0, m.EmpiricalPairs)
	assert.Equal(t, 0.0, m.At(0, 1))
}

func TestEngine_UsesCache(t *testing.T) {
	memory := cache.NewMemoryCache()
	engine := correlation.NewEngine(correlation.DefaultConfig(), memory, zaptest.NewLogger(t))

	legs := []models.Leg{
		leg("a", "qb1", "passing_yards", "KC", "g1", models.DirectionOver),
		leg("b", "qb1", "passing_tds", "KC", "g1", models.DirectionOver),
	}

	first, err := engine.Estimate(context.Background(), legs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, memory.Len())

	second, err := engine.Estimate(context.Background(), legs, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Values, second.Values)
}

func TestEngine_CacheSeparatesPoolsWithSharedIDs(t *testing.T) {
	memory := cache.NewMemoryCache()
	engine := correlation.NewEngine(correlation.DefaultConfig(), memory, zaptest.NewLogger(t))

	sameGame := []models.Leg{
		leg("1", "qb1", "passing_yards", "KC", "g1", models.DirectionOver),
		leg("2", "qb1", "passing_tds", "KC", "g1", models.DirectionOver),
	}
	first, err := engine.Estimate(context.Background(), sameGame, nil)
	require.NoError(t, err)
	assert.Greater(t, first.At(0, 1), 0.5)

	// Same leg ids, unrelated players in different games
	otherGames := []models.Leg{
		leg("1", "p8", "points", "BOS", "g8", models.DirectionOver),
		leg("2", "p9", "points", "NYK", "g9", models.DirectionOver),
	}
	second, err := engine.Estimate(context.Background(), otherGames, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, second.At(0, 1))
	assert.Equal(t, 2, memory.Len())
}

func TestEngine_RepairDegeneratesToIdentity(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	m, err := engine.Repair([]string{"a", "b"}, [][]float64{{1, math.NaN()}, {math.NaN(), 1}})
	require.NoError(t, err)
	assert.True(t, m.LowConfidence)
	assert.Equal(t, 0.0, m.At(0, 1))
	assert.Equal(t, 1.0, m.At(1, 1))
}

func TestEngine_RepairRejectsWrongShape(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	_, err := engine.Repair([]string{"a", "b", "c"}, [][]float64{{1, 0}, {0, 1}})
	assert.ErrorIs(t, err, models.ErrInvalidMatrix)
}

func TestEngine_AdjustReordersSuppliedMatrix(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultConfig(), nil, zaptest.NewLogger(t))

	supplied := &models.CorrelationMatrix{
		LegIDs: []string{"b", "a"},
		Values: [][]float64{{1, 0.4}, {0.4, 1}},
	}
	legs := []models.Leg{
		leg("a", "p1", "points", "LAL", "g1", models.DirectionOver),
		leg("b", "p2", "points", "BOS", "g2", models.DirectionOver),
	}

	m, err := engine.Adjust(legs, supplied)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.LegIDs)
	assert.InDelta(t, 0.4, m.At(0, 1), 1e-12)

	_, err = engine.Adjust(append(legs, leg("z", "p3", "points", "NYK", "g3", models.DirectionOver)), supplied)
	assert.ErrorIs(t, err, models.ErrInvalidMatrix)
}
