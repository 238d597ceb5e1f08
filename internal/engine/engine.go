package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/copula"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/correlation"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/optimizer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/scoring"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/sizing"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds request defaults
type Config struct {
	DefaultBankroll float64
	DefaultProfile  string
	// MaxPoolSize bounds the number of legs in a single request
	MaxPoolSize int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		DefaultBankroll: 1000.0,
		DefaultProfile:  models.ProfileModerate,
		MaxPoolSize:     60,
	}
}

// Engine runs the full pipeline: validate legs, estimate correlation, search, size
type Engine struct {
	correlation *correlation.Engine
	optimizer   *optimizer.Optimizer
	sizer       *sizing.Sizer
	history     contracts.HistoryProvider
	config      Config
	logger      *zap.Logger

	// Metrics
	runCount     int64
	failureCount int64
	mu           sync.Mutex
}

// NewEngine creates a new optimization engine. history may be nil.
func NewEngine(
	config Config,
	corr *correlation.Engine,
	opt *optimizer.Optimizer,
	sizer *sizing.Sizer,
	history contracts.HistoryProvider,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.DefaultBankroll <= 0 {
		config.DefaultBankroll = defaults.DefaultBankroll
	}
	if config.DefaultProfile == "" {
		config.DefaultProfile = defaults.DefaultProfile
	}
	if config.MaxPoolSize <= 0 {
		config.MaxPoolSize = defaults.MaxPoolSize
	}
	return &Engine{
		correlation: corr,
		optimizer:   opt,
		sizer:       sizer,
		history:     history,
		config:      config,
		logger:      logger.Named("engine"),
	}
}

// Optimize validates the request and returns ranked, sized slips. Invalid probabilities
// fail the call before any computation; history, cache and copula problems only degrade it.
func (e *Engine) Optimize(ctx context.Context, req models.OptimizeRequest, progress func(models.ProgressEvent)) (*models.OptimizeResponse, error) {
	startedAt := time.Now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = e.optimizer.Config().Strategy
	}

	resp, err := e.optimize(ctx, req, strategy, progress, startedAt)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp.Truncated:
		outcome = "truncated"
	case len(resp.Slips) == 0:
		outcome = "empty"
	}
	metrics.OptimizationRuns.WithLabelValues(string(strategy), outcome).Inc()
	metrics.OptimizationDuration.WithLabelValues(string(strategy)).Observe(time.Since(startedAt).Seconds())
	e.recordRun(err)

	return resp, err
}

func (e *Engine) optimize(ctx context.Context, req models.OptimizeRequest, strategy models.Strategy, progress func(models.ProgressEvent), startedAt time.Time) (*models.OptimizeResponse, error) {
	in, err := e.prepare(ctx, req.Legs, req.Profile, req.RiskProfile, req.CopulaFamily, req.PayoutTable, req.History, req.Correlation)
	if err != nil {
		return nil, err
	}

	bankroll := req.Bankroll
	if bankroll <= 0 {
		bankroll = e.config.DefaultBankroll
	}
	seed := resolveSeed(req.Seed)

	result, err := e.optimizer.Optimize(ctx, optimizer.Problem{
		Legs:        in.legs,
		Correlation: in.matrix,
		Profile:     in.profile,
		Strategy:    strategy,
		Family:      in.family,
		Pricing:     in.pricing,
		TopN:        req.TopN,
		Trials:      req.Trials,
		Seed:        seed,
		Progress:    progress,
	})
	if err != nil {
		return nil, fmt.Errorf("optimizing slips: %w", err)
	}

	slips, total := e.size(result.Slips, bankroll, in.profile.KellyFraction)

	resp := &models.OptimizeResponse{
		RunID:          uuid.NewString(),
		Profile:        in.profile.Name,
		Strategy:       strategy,
		Seed:           seed,
		Slips:          slips,
		Correlation:    in.matrix,
		Rejected:       result.Rejected,
		Evaluated:      result.Evaluated,
		Truncated:      result.Truncated,
		LowConfidence:  in.matrix.LowConfidence || result.CopulaDegraded,
		CopulaDegraded: result.CopulaDegraded,
		HistoryUsed:    in.matrix.EmpiricalPairs > 0,
		TotalStake:     total,
		StartedAt:      startedAt,
		DurationMs:     time.Since(startedAt).Milliseconds(),
	}
	if result.Truncated {
		resp.Warnings = append(resp.Warnings, "Search stopped early; results are the best found within budget")
	}
	if result.CopulaDegraded {
		resp.Warnings = append(resp.Warnings, "Some slips were simulated without dependence")
	}
	if len(slips) == 0 {
		resp.Warnings = append(resp.Warnings, "No slip satisfies the risk profile")
	}

	e.logger.Info("optimization complete",
		zap.String("run_id", resp.RunID),
		zap.String("profile", resp.Profile),
		zap.String("strategy", string(strategy)),
		zap.Int("legs", len(in.legs)),
		zap.Int("slips", len(slips)),
		zap.Int("evaluated", resp.Evaluated),
		zap.Float64("total_stake", total),
		zap.Int64("duration_ms", resp.DurationMs),
	)

	return resp, nil
}

// Correlation estimates (or repairs a supplied) matrix for a leg pool
func (e *Engine) Correlation(ctx context.Context, legs []models.Leg, history models.ResidualHistory, supplied *models.CorrelationMatrix) (*models.CorrelationMatrix, error) {
	normalized, err := e.normalize(legs)
	if err != nil {
		return nil, err
	}
	return e.correlationFor(ctx, normalized, e.loadHistory(ctx, normalized, history), supplied)
}

// Validate scores a caller-built slip at full trial count and checks it against the profile
func (e *Engine) Validate(ctx context.Context, req models.ValidateRequest) (*models.ValidateResponse, error) {
	in, err := e.prepare(ctx, req.Legs, req.Profile, req.RiskProfile, req.CopulaFamily, req.PayoutTable, req.History, req.Correlation)
	if err != nil {
		return nil, err
	}

	slip, report, err := e.optimizer.Evaluate(ctx, optimizer.Problem{
		Legs:        in.legs,
		Correlation: in.matrix,
		Profile:     in.profile,
		Family:      in.family,
		Pricing:     in.pricing,
		Seed:        resolveSeed(req.Seed),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating slip: %w", err)
	}

	bankroll := req.Bankroll
	if bankroll <= 0 {
		bankroll = e.config.DefaultBankroll
	}
	sized, _ := e.size([]*models.SlipCandidate{slip}, bankroll, in.profile.KellyFraction)
	return &models.ValidateResponse{Slip: sized[0], Report: report}, nil
}

// Stake sizes a single wager
func (e *Engine) Stake(req models.StakeRequest) (*models.StakeResponse, error) {
	p := req.WinProbability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, &models.InvalidProbabilityError{LegID: "stake", Probability: p}
	}
	if req.PayoutMultiplier <= 1 {
		return nil, fmt.Errorf("%w: payout multiplier %.4f must exceed 1", models.ErrInvalidRequest, req.PayoutMultiplier)
	}
	if req.KellyFraction < 0 || req.KellyFraction > 1 {
		return nil, fmt.Errorf("%w: kelly fraction %.4f outside (0, 1]", models.ErrInvalidRequest, req.KellyFraction)
	}

	bankroll := req.Bankroll
	if bankroll <= 0 {
		bankroll = e.config.DefaultBankroll
	}
	legs := req.Legs
	if legs <= 0 {
		legs = 1
	}

	result := e.sizer.Size(sizing.Input{
		WinProbability:   p,
		PayoutMultiplier: req.PayoutMultiplier,
		Legs:             legs,
		Edge:             req.Edge,
		Variance:         req.Variance,
		Bankroll:         bankroll,
		Fraction:         req.KellyFraction,
	})

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &models.StakeResponse{
		FullKelly:       result.FullKelly,
		FractionalKelly: result.FractionalKelly,
		Stake:           result.Stake,
		Capped:          result.Capped,
		Warnings:        warnings,
	}, nil
}

// GetMetrics returns run counters
func (e *Engine) GetMetrics() (runs, failures int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCount, e.failureCount
}

// prepared is a validated request ready for the optimizer
type prepared struct {
	legs    []models.Leg
	profile models.RiskProfile
	family  models.CopulaFamily
	pricing scoring.Pricing
	matrix  *models.CorrelationMatrix
}

func (e *Engine) prepare(
	ctx context.Context,
	rawLegs []models.Leg,
	profileName string,
	override *models.RiskProfile,
	family models.CopulaFamily,
	table map[int]float64,
	history models.ResidualHistory,
	supplied *models.CorrelationMatrix,
) (*prepared, error) {
	legs, err := e.normalize(rawLegs)
	if err != nil {
		return nil, err
	}

	profile, err := e.resolveProfile(profileName, override)
	if err != nil {
		return nil, err
	}

	resolvedFamily, err := copula.ParseFamily(string(family))
	if err != nil {
		return nil, err
	}

	pricing, err := scoring.NewPricing(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	matrix, err := e.correlationFor(ctx, legs, e.loadHistory(ctx, legs, history), supplied)
	if err != nil {
		return nil, err
	}

	return &prepared{legs: legs, profile: profile, family: resolvedFamily, pricing: pricing, matrix: matrix}, nil
}

func (e *Engine) normalize(legs []models.Leg) ([]models.Leg, error) {
	if len(legs) > e.config.MaxPoolSize {
		return nil, fmt.Errorf("%w: %d legs exceeds pool limit %d", models.ErrInvalidRequest, len(legs), e.config.MaxPoolSize)
	}
	normalized, err := models.NormalizeLegs(legs)
	if err != nil {
		return nil, fmt.Errorf("validating legs: %w", err)
	}
	return normalized, nil
}

func (e *Engine) resolveProfile(name string, override *models.RiskProfile) (models.RiskProfile, error) {
	if override != nil {
		profile := *override
		if profile.Name == "" {
			profile.Name = "custom"
		}
		if err := profile.Validate(); err != nil {
			return models.RiskProfile{}, err
		}
		return profile, nil
	}
	if name == "" {
		name = e.config.DefaultProfile
	}
	return models.ProfileByName(name)
}

// loadHistory prefers history sent with the request, then the provider. Provider
// failures are logged and the call continues on rules alone.
func (e *Engine) loadHistory(ctx context.Context, legs []models.Leg, supplied models.ResidualHistory) models.ResidualHistory {
	if len(supplied) > 0 || e.history == nil {
		return supplied
	}
	history, err := e.history.Residuals(ctx, legs)
	if err != nil {
		e.logger.Warn("residual history unavailable, using rule-based correlation", zap.Error(err))
		return nil
	}
	return history
}

func (e *Engine) correlationFor(ctx context.Context, legs []models.Leg, history models.ResidualHistory, supplied *models.CorrelationMatrix) (*models.CorrelationMatrix, error) {
	if supplied != nil {
		return e.correlation.Adjust(legs, supplied)
	}
	matrix, err := e.correlation.Estimate(ctx, legs, history)
	if err != nil {
		return nil, fmt.Errorf("estimating correlation: %w", err)
	}
	return matrix, nil
}

// size returns sized copies; the scored candidates are left untouched
func (e *Engine) size(candidates []*models.SlipCandidate, bankroll, fraction float64) ([]models.SlipCandidate, float64) {
	inputs := make([]sizing.Input, len(candidates))
	for i, c := range candidates {
		edge, variance := c.ExpectedValue, c.Variance
		inputs[i] = sizing.Input{
			WinProbability:   c.WinProbability,
			PayoutMultiplier: c.PayoutMultiplier,
			Legs:             len(c.Legs),
			Edge:             &edge,
			Variance:         &variance,
			Fraction:         fraction,
		}
	}

	results := e.sizer.SizeAll(inputs, bankroll)
	out := make([]models.SlipCandidate, len(candidates))
	total := 0.0
	for i, c := range candidates {
		sized := *c
		sized.FullKelly = results[i].FullKelly
		sized.FractionalKelly = results[i].FractionalKelly
		sized.RecommendedStake = results[i].Stake
		sized.Warnings = append(append([]string(nil), c.Warnings...), results[i].Warnings...)
		out[i] = sized
		total += results[i].Stake
	}
	return out, math.Round(total*100) / 100
}

func (e *Engine) recordRun(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runCount++
	if err != nil {
		e.failureCount++
	}
}

// IsClientError reports whether err was caused by the request rather than the service
func IsClientError(err error) bool {
	for _, target := range []error{
		models.ErrInvalidProbability,
		models.ErrInvalidLeg,
		models.ErrDuplicateLeg,
		models.ErrInvalidProfile,
		models.ErrUnknownProfile,
		models.ErrUnknownStrategy,
		models.ErrUnknownCopula,
		models.ErrInsufficientLegs,
		models.ErrInvalidMatrix,
		models.ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func resolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return time.Now().UnixNano()
}
