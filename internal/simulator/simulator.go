package simulator

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/copula"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultTrials      = 10000
	DefaultVaRLevel    = 0.95
	DefaultStressShift = -0.05

	// chunkSize fixes how trials are split into independently seeded blocks, so
	// results depend only on the seed and never on the worker count
	chunkSize = 500
)

// Config holds simulator defaults
type Config struct {
	Trials   int
	Workers  int
	VaRLevel float64
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Trials:   DefaultTrials,
		Workers:  runtime.NumCPU(),
		VaRLevel: DefaultVaRLevel,
	}
}

// Input describes one slip to simulate
type Input struct {
	Probabilities    []float64
	Copula           copula.Copula
	PayoutMultiplier float64
	// Stake defaults to 1, giving per-unit statistics
	Stake  float64
	Trials int
	Seed   int64
}

// Result summarizes the simulated profit distribution
type Result struct {
	Trials                 int       `json:"trials"`
	Wins                   int       `json:"wins"`
	WinProbability         float64   `json:"win_probability"`
	IndependentProbability float64   `json:"independent_probability"`
	ExpectedValue          float64   `json:"expected_value"`
	Variance               float64   `json:"variance"`
	StandardError          float64   `json:"standard_error"`
	ValueAtRisk            float64   `json:"value_at_risk"`
	ExpectedShortfall      float64   `json:"expected_shortfall"`
	MarginalHitRates       []float64 `json:"marginal_hit_rates"`
	// Degraded is set when a draw failed and the run fell back to independent sampling
	Degraded bool `json:"degraded"`
}

// Simulator runs Monte Carlo trials of multi-leg slips
type Simulator struct {
	config Config
	logger *zap.Logger
}

// NewSimulator creates a new simulator
func NewSimulator(config Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Trials <= 0 {
		config.Trials = defaults.Trials
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.VaRLevel <= 0 || config.VaRLevel >= 1 {
		config.VaRLevel = defaults.VaRLevel
	}
	return &Simulator{config: config, logger: logger.Named("simulator")}
}

// Simulate draws correlated uniforms per trial; leg i hits when u_i < p_i and the slip
// wins only when every leg hits.
func (s *Simulator) Simulate(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	n := len(in.Probabilities)
	if n == 0 {
		return Result{}, fmt.Errorf("simulate: no legs")
	}
	for i, p := range in.Probabilities {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, &models.InvalidProbabilityError{LegID: fmt.Sprintf("#%d", i), Probability: p}
		}
	}
	if in.PayoutMultiplier <= 0 {
		return Result{}, fmt.Errorf("simulate: payout multiplier must be positive, got %v", in.PayoutMultiplier)
	}

	c := in.Copula
	if c == nil {
		c = copula.NewIndependent(n)
	}
	if c.Dim() != n {
		return Result{}, fmt.Errorf("simulate: copula has %d dimensions for %d legs", c.Dim(), n)
	}

	trials := in.Trials
	if trials <= 0 {
		trials = s.config.Trials
	}
	stake := in.Stake
	if stake <= 0 {
		stake = 1
	}
	winProfit := stake * (in.PayoutMultiplier - 1)

	profits := make([]float64, trials)
	chunks := (trials + chunkSize - 1) / chunkSize
	stats := make([]chunkStats, chunks)
	var degraded atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for chunk := 0; chunk < chunks; chunk++ {
		chunk := chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := chunk * chunkSize
			end := min(start+chunkSize, trials)
			rng := newRand(in.Seed, chunk)
			local := copula.ForWorker(c)
			u := make([]float64, n)
			chunkResult := chunkStats{legHits: make([]int, n)}

			for t := start; t < end; t++ {
				if err := local.Draw(rng, u); err != nil {
					if !degraded.Swap(true) {
						s.logger.Warn("copula draw failed, sampling independently", zap.Error(err))
					}
					local = copula.NewIndependent(n)
					_ = local.Draw(rng, u)
				}

				won := true
				for i, p := range in.Probabilities {
					if u[i] < p || p >= 1 {
						chunkResult.legHits[i]++
					} else {
						won = false
					}
				}
				if won {
					chunkResult.wins++
					profits[t] = winProfit
				} else {
					profits[t] = -stake
				}
			}
			stats[chunk] = chunkResult
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return summarize(profits, stats, in.Probabilities, s.config.VaRLevel, degraded.Load()), nil
}

// StressTest re-runs the simulation with every probability shifted and clamped to [0,1]
func (s *Simulator) StressTest(ctx context.Context, in Input, shift float64) (Result, error) {
	stressed := in
	stressed.Probabilities = ShiftProbabilities(in.Probabilities, shift)
	return s.Simulate(ctx, stressed)
}

// ShiftProbabilities returns a shifted copy clamped to [0,1]
func ShiftProbabilities(probabilities []float64, shift float64) []float64 {
	out := make([]float64, len(probabilities))
	for i, p := range probabilities {
		out[i] = math.Max(0, math.Min(1, p+shift))
	}
	return out
}

type chunkStats struct {
	wins    int
	legHits []int
}

func summarize(profits []float64, stats []chunkStats, probabilities []float64, level float64, degraded bool) Result {
	trials := len(profits)

	wins := 0
	marginal := make([]float64, len(probabilities))
	for _, chunk := range stats {
		wins += chunk.wins
		for i, h := range chunk.legHits {
			marginal[i] += float64(h)
		}
	}
	for i := range marginal {
		marginal[i] /= float64(trials)
	}

	independent := 1.0
	for _, p := range probabilities {
		independent *= p
	}

	mean, variance := stat.MeanVariance(profits, nil)
	if trials < 2 {
		variance = 0
	}

	sorted := append([]float64(nil), profits...)
	sort.Float64s(sorted)
	cutoff := stat.Quantile(1-level, stat.Empirical, sorted, nil)

	var tailSum float64
	var tailCount int
	for _, p := range sorted {
		if p > cutoff {
			break
		}
		tailSum += p
		tailCount++
	}
	shortfall := 0.0
	if tailCount > 0 {
		shortfall = -tailSum / float64(tailCount)
	}

	return Result{
		Trials:                 trials,
		Wins:                   wins,
		WinProbability:         float64(wins) / float64(trials),
		IndependentProbability: independent,
		ExpectedValue:          mean,
		Variance:               variance,
		StandardError:          math.Sqrt(variance / float64(trials)),
		ValueAtRisk:            -cutoff,
		ExpectedShortfall:      shortfall,
		MarginalHitRates:       marginal,
		Degraded:               degraded,
	}
}
