package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/scoring"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/simulator"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"go.uber.org/zap"
)

// Config holds search settings
type Config struct {
	Strategy models.Strategy
	TopN     int

	// SearchTrials is the Monte Carlo size used while exploring; FinalTrials re-scores
	// the best candidates before they are returned
	SearchTrials int
	FinalTrials  int
	StressShift  float64
	Workers      int

	// MaxEvaluations and TimeBudget bound the search; 0 disables a bound
	MaxEvaluations int
	TimeBudget     time.Duration
	// MaxRejected caps the rejection records returned for feedback
	MaxRejected int

	BeamWidth int
	Genetic   GeneticConfig

	SimulationCacheTTL time.Duration
}

// GeneticConfig tunes the genetic strategy
type GeneticConfig struct {
	Population     int
	Generations    int
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	Elite          int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Strategy:       models.StrategyBeam,
		TopN:           5,
		SearchTrials:   2000,
		FinalTrials:    simulator.DefaultTrials,
		StressShift:    simulator.DefaultStressShift,
		Workers:        runtime.NumCPU(),
		MaxEvaluations: 20000,
		TimeBudget:     10 * time.Second,
		MaxRejected:    50,
		BeamWidth:      8,
		Genetic: GeneticConfig{
			Population:     40,
			Generations:    30,
			TournamentSize: 3,
			CrossoverRate:  0.8,
			MutationRate:   0.25,
			Elite:          4,
		},
		SimulationCacheTTL: 15 * time.Minute,
	}
}

// Problem is one optimization request over a normalized leg pool
type Problem struct {
	Legs []models.Leg
	// Correlation must be aligned with Legs
	Correlation *models.CorrelationMatrix
	Profile     models.RiskProfile
	Strategy    models.Strategy
	Family      models.CopulaFamily
	Pricing     scoring.Pricing
	TopN        int
	// Trials overrides the final trial count when positive
	Trials   int
	Seed     int64
	Progress func(models.ProgressEvent)
}

// Result is the ranked output of one search
type Result struct {
	Slips          []*models.SlipCandidate
	Rejected       []models.RejectedCandidate
	Evaluated      int
	Truncated      bool
	CopulaDegraded bool
}

// Optimizer searches leg subsets for the best constraint-satisfying slips
type Optimizer struct {
	config    Config
	simulator *simulator.Simulator
	cache     contracts.Cache
	logger    *zap.Logger
}

// NewOptimizer creates a new optimizer. cache may be nil.
func NewOptimizer(config Config, sim *simulator.Simulator, cache contracts.Cache, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Strategy == "" {
		config.Strategy = defaults.Strategy
	}
	if config.TopN <= 0 {
		config.TopN = defaults.TopN
	}
	if config.SearchTrials <= 0 {
		config.SearchTrials = defaults.SearchTrials
	}
	if config.FinalTrials <= 0 {
		config.FinalTrials = defaults.FinalTrials
	}
	if config.StressShift == 0 {
		config.StressShift = defaults.StressShift
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxRejected <= 0 {
		config.MaxRejected = defaults.MaxRejected
	}
	if config.BeamWidth <= 0 {
		config.BeamWidth = defaults.BeamWidth
	}
	if config.Genetic.Population <= 0 {
		config.Genetic = defaults.Genetic
	}
	if sim == nil {
		sim = simulator.NewSimulator(simulator.DefaultConfig(), logger)
	}
	return &Optimizer{
		config:    config,
		simulator: sim,
		cache:     cache,
		logger:    logger.Named("optimizer"),
	}
}

// Config returns the effective settings
func (o *Optimizer) Config() Config {
	return o.config
}

// Optimize runs the requested strategy and returns the top-N slips re-scored at full
// trial count. Exhausting the budget or cancelling ctx stops the search early and
// returns the best found so far with Truncated set.
func (o *Optimizer) Optimize(ctx context.Context, p Problem) (*Result, error) {
	if err := o.prepare(&p); err != nil {
		return nil, err
	}

	start := time.Now()
	s := newSearch(ctx, o, p)

	switch p.Strategy {
	case models.StrategyGreedy:
		s.greedy()
	case models.StrategyBeam:
		s.beam()
	case models.StrategyGenetic:
		s.genetic()
	}

	slips, rejected := s.finalize()
	result := &Result{
		Slips:          slips,
		Rejected:       append(s.rejectedList(), rejected...),
		Evaluated:      int(s.evaluated.Load()),
		Truncated:      s.truncated.Load(),
		CopulaDegraded: s.degraded.Load(),
	}
	if len(result.Rejected) > o.config.MaxRejected {
		result.Rejected = result.Rejected[:o.config.MaxRejected]
	}

	strategy := string(p.Strategy)
	metrics.CandidatesEvaluated.WithLabelValues(strategy).Add(float64(result.Evaluated))
	if result.Truncated {
		metrics.SearchTruncations.WithLabelValues(strategy).Inc()
	}

	o.logger.Info("search complete",
		zap.String("strategy", strategy),
		zap.Int("legs", len(p.Legs)),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("returned", len(result.Slips)),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}

// Evaluate scores one caller-built slip (every leg of p) at full trial count and
// validates it against the profile
func (o *Optimizer) Evaluate(ctx context.Context, p Problem) (*models.SlipCandidate, models.ValidationReport, error) {
	if p.Family == "" {
		p.Family = models.CopulaGaussian
	}
	if err := checkMatrix(p); err != nil {
		return nil, models.ValidationReport{}, err
	}

	s := newSearch(ctx, o, p)
	indices := make([]int, len(p.Legs))
	for i := range indices {
		indices[i] = i
	}

	e, err := s.score(indices, s.finalTrials(), false, true)
	if err != nil {
		return nil, models.ValidationReport{}, err
	}
	return e.candidate, e.report, nil
}

func (o *Optimizer) prepare(p *Problem) error {
	if p.Strategy == "" {
		p.Strategy = o.config.Strategy
	}
	switch p.Strategy {
	case models.StrategyGreedy, models.StrategyBeam, models.StrategyGenetic:
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownStrategy, p.Strategy)
	}
	if p.Family == "" {
		p.Family = models.CopulaGaussian
	}
	if p.TopN <= 0 {
		p.TopN = o.config.TopN
	}
	if len(p.Legs) < p.Profile.MinLegs {
		return fmt.Errorf("%w: %d legs for a %d-leg minimum", models.ErrInsufficientLegs, len(p.Legs), p.Profile.MinLegs)
	}
	return checkMatrix(*p)
}

func checkMatrix(p Problem) error {
	if p.Correlation == nil || p.Correlation.Size() != len(p.Legs) {
		return fmt.Errorf("%w: matrix does not match %d legs", models.ErrInvalidMatrix, len(p.Legs))
	}
	for _, row := range p.Correlation.Values {
		if len(row) != len(p.Legs) {
			return fmt.Errorf("%w: matrix is not square", models.ErrInvalidMatrix)
		}
	}
	return nil
}

// rank sorts best first and removes repeated leg sets
func rank(candidates []*models.SlipCandidate) []*models.SlipCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return scoring.Better(candidates[i], candidates[j])
	})

	out := candidates[:0:0]
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Key]; dup {
			continue
		}
		seen[c.Key] = struct{}{}
		out = append(out, c)
	}
	return out
}
