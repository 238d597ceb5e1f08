package optimizer_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/cache"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/constraints"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/optimizer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/scoring"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/simulator"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var powerPlay = map[int]float64{2: 3, 3: 5, 4: 10}

func pool(probabilities ...float64) []models.Leg {
	legs := make([]models.Leg, len(probabilities))
	for i, p := range probabilities {
		legs[i] = models.Leg{
			ID:             string(rune('a' + i)),
			PlayerID:       fmt.Sprintf("player-%d", i),
			StatType:       "points",
			Direction:      models.DirectionOver,
			Team:           fmt.Sprintf("T%d", i),
			GameID:         fmt.Sprintf("g%d", i),
			WinProbability: p,
			Confidence:     1,
		}
	}
	return legs
}

func matrix(legs []models.Leg, pairs map[[2]int]float64) *models.CorrelationMatrix {
	ids := make([]string, len(legs))
	for i, leg := range legs {
		ids[i] = leg.ID
	}
	m := models.IdentityMatrix(ids)
	for pair, rho := range pairs {
		m.Values[pair[0]][pair[1]] = rho
		m.Values[pair[1]][pair[0]] = rho
	}
	return m
}

func strictProfile() models.RiskProfile {
	return models.RiskProfile{
		Name:                   "strict",
		MinLegs:                2,
		MaxLegs:                3,
		MaxPairwiseCorrelation: 0.3,
		MaxAverageCorrelation:  0.3,
		CorrelationPenalty:     0.25,
		DiversityWeight:        0.1,
		KellyFraction:          0.25,
	}
}

func newOptimizer(t *testing.T, mutate func(*optimizer.Config)) *optimizer.Optimizer {
	config := optimizer.DefaultConfig()
	config.SearchTrials = 500
	config.FinalTrials = 2000
	config.Workers = 4
	config.TimeBudget = 0
	config.Genetic.Population = 16
	config.Genetic.Generations = 8
	if mutate != nil {
		mutate(&config)
	}
	logger := zaptest.NewLogger(t)
	sim := simulator.NewSimulator(simulator.Config{Workers: 2}, logger)
	return optimizer.NewOptimizer(config, sim, nil, logger)
}

func problem(t *testing.T, strategy models.Strategy) optimizer.Problem {
	legs := pool(0.66, 0.65, 0.6, 0.62, 0.61)
	pricing, err := scoring.NewPricing(powerPlay)
	require.NoError(t, err)
	return optimizer.Problem{
		Legs:        legs,
		Correlation: matrix(legs, map[[2]int]float64{{0, 1}: 0.8}),
		Profile:     strictProfile(),
		Strategy:    strategy,
		Family:      models.CopulaGaussian,
		Pricing:     pricing,
		TopN:        5,
		Seed:        42,
	}
}

func containsBoth(slip *models.SlipCandidate, a, b string) bool {
	var hasA, hasB bool
	for _, leg := range slip.Legs {
		hasA = hasA || leg.ID == a
		hasB = hasB || leg.ID == b
	}
	return hasA && hasB
}

func TestOptimize_NeverPairsCorrelatedLegs(t *testing.T) {
	// Legs above the pairwise ceiling never share a slip, whatever the strategy
	for _, strategy := range []models.Strategy{models.StrategyGreedy, models.StrategyBeam, models.StrategyGenetic} {
		t.Run(string(strategy), func(t *testing.T) {
			p := problem(t, strategy)
			result, err := newOptimizer(t, nil).Optimize(context.Background(), p)
			require.NoError(t, err)
			require.NotEmpty(t, result.Slips)
			assert.False(t, result.Truncated)
			assert.Positive(t, result.Evaluated)

			seen := map[string]bool{}
			for i, slip := range result.Slips {
				assert.False(t, containsBoth(slip, "a", "b"), "slip %s pairs correlated legs", slip.Key)
				assert.True(t, constraints.Validate(slip, p.Profile).Valid, "slip %s violates the profile", slip.Key)
				assert.False(t, seen[slip.Key], "duplicate slip %s", slip.Key)
				seen[slip.Key] = true
				assert.Equal(t, 2000, slip.Trials)
				if i > 0 {
					assert.False(t, scoring.Better(slip, result.Slips[i-1]), "slips out of order")
				}
			}

			for _, r := range result.Rejected {
				assert.False(t, r.Report.Valid)
			}
		})
	}
}

func TestOptimize_ResultsCarryMetrics(t *testing.T) {
	result, err := newOptimizer(t, nil).Optimize(context.Background(), problem(t, models.StrategyBeam))
	require.NoError(t, err)
	require.NotEmpty(t, result.Slips)

	best := result.Slips[0]
	assert.NotEmpty(t, best.ID)
	assert.Greater(t, best.PayoutMultiplier, 1.0)
	assert.Greater(t, best.WinProbability, 0.0)
	assert.Less(t, best.StressedWinProbability, best.WinProbability+0.05)
	assert.InDelta(t, best.WinProbability*best.PayoutMultiplier-1, best.ExpectedValue, 1e-9)
	assert.Len(t, best.LegEdges, len(best.Legs))
	assert.GreaterOrEqual(t, best.DiversityScore, 0.0)
	assert.LessOrEqual(t, best.DiversityScore, 1.0)
	assert.Equal(t, models.CopulaGaussian, best.CopulaFamily)
}

func TestOptimize_Deterministic(t *testing.T) {
	first, err := newOptimizer(t, nil).Optimize(context.Background(), problem(t, models.StrategyGenetic))
	require.NoError(t, err)
	second, err := newOptimizer(t, nil).Optimize(context.Background(), problem(t, models.StrategyGenetic))
	require.NoError(t, err)

	require.Equal(t, len(first.Slips), len(second.Slips))
	for i := range first.Slips {
		assert.Equal(t, first.Slips[i].Key, second.Slips[i].Key)
		assert.Equal(t, first.Slips[i].WinProbability, second.Slips[i].WinProbability)
	}
}

func TestOptimize_EvaluationBudget(t *testing.T) {
	opt := newOptimizer(t, func(c *optimizer.Config) { c.MaxEvaluations = 3 })

	result, err := opt.Optimize(context.Background(), problem(t, models.StrategyGreedy))
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	for _, slip := range result.Slips {
		assert.False(t, containsBoth(slip, "a", "b"))
	}
}

func TestOptimize_CancelledContextIsSoft(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newOptimizer(t, nil).Optimize(ctx, problem(t, models.StrategyBeam))
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Empty(t, result.Slips)
}

func TestOptimize_Progress(t *testing.T) {
	var events []models.ProgressEvent
	p := problem(t, models.StrategyBeam)
	p.Progress = func(e models.ProgressEvent) { events = append(events, e) }

	_, err := newOptimizer(t, nil).Optimize(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "beam", events[0].Stage)
	assert.Equal(t, 2, events[0].Step)
	assert.Positive(t, events[len(events)-1].Evaluated)
}

func TestOptimize_LooseProfileAllowsCorrelatedPair(t *testing.T) {
	p := problem(t, models.StrategyBeam)
	p.Profile.MaxPairwiseCorrelation = 0.9
	p.Profile.MaxAverageCorrelation = 0.9
	p.Profile.CorrelationPenalty = 0

	result, err := newOptimizer(t, nil).Optimize(context.Background(), p)
	require.NoError(t, err)

	found := false
	for _, slip := range result.Slips {
		found = found || containsBoth(slip, "a", "b")
	}
	assert.True(t, found, "the correlated pair has the best joint probability")
}

func TestOptimize_Errors(t *testing.T) {
	opt := newOptimizer(t, nil)

	p := problem(t, "annealing")
	_, err := opt.Optimize(context.Background(), p)
	assert.ErrorIs(t, err, models.ErrUnknownStrategy)

	p = problem(t, models.StrategyBeam)
	p.Legs = p.Legs[:1]
	_, err = opt.Optimize(context.Background(), p)
	assert.ErrorIs(t, err, models.ErrInsufficientLegs)

	p = problem(t, models.StrategyBeam)
	p.Correlation = models.IdentityMatrix([]string{"a", "b"})
	_, err = opt.Optimize(context.Background(), p)
	assert.ErrorIs(t, err, models.ErrInvalidMatrix)
}

func TestOptimize_UsesSimulationCache(t *testing.T) {
	memory := cache.NewMemoryCache()
	config := optimizer.DefaultConfig()
	config.SearchTrials = 500
	config.FinalTrials = 1000
	logger := zaptest.NewLogger(t)
	opt := optimizer.NewOptimizer(config, simulator.NewSimulator(simulator.Config{Workers: 2}, logger), memory, logger)

	first, err := opt.Optimize(context.Background(), problem(t, models.StrategyBeam))
	require.NoError(t, err)
	assert.Positive(t, memory.Len())

	second, err := opt.Optimize(context.Background(), problem(t, models.StrategyBeam))
	require.NoError(t, err)
	require.NotEmpty(t, first.Slips)
	assert.Equal(t, first.Slips[0].WinProbability, second.Slips[0].WinProbability)
}

func TestEvaluate(t *testing.T) {
	p := problem(t, "")
	p.Legs = p.Legs[:2]
	p.Correlation = matrix(p.Legs, map[[2]int]float64{{0, 1}: 0.8})

	slip, report, err := newOptimizer(t, nil).Evaluate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.True(t, report.Has(models.RulePairwiseCorrelation))
	assert.Equal(t, 3.0, slip.PayoutMultiplier)
	assert.Greater(t, slip.WinProbability, slip.IndependentProbability)
	assert.NotZero(t, slip.StressedWinProbability)
}
