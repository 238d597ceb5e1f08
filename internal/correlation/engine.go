package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/cache"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"go.uber.org/zap"
)

// Config holds correlation estimation settings
type Config struct {
	// MinSamples is the aligned history needed before a pair gets an empirical estimate
	MinSamples int
	Epsilon    float64
	Rules      Rules
	CacheTTL   time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MinSamples: 10,
		Epsilon:    DefaultEpsilon,
		Rules:      DefaultRules(),
		CacheTTL:   15 * time.Minute,
	}
}

// Engine estimates PSD correlation matrices for leg pools
type Engine struct {
	config Config
	cache  contracts.Cache
	logger *zap.Logger
}

// NewEngine creates a correlation engine. cache may be nil.
func NewEngine(config Config, cache contracts.Cache, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinSamples <= 0 {
		config.MinSamples = DefaultConfig().MinSamples
	}
	if config.Epsilon <= 0 {
		config.Epsilon = DefaultEpsilon
	}
	return &Engine{
		config: config,
		cache:  cache,
		logger: logger.Named("correlation"),
	}
}

// Estimate combines empirical rank correlation (when history suffices) with domain rules,
// clips to [-1,1] and repairs the result to a PSD matrix. Legs are expected to be
// normalized. Only context cancellation is returned as an error.
func (e *Engine) Estimate(ctx context.Context, legs []models.Leg, history models.ResidualHistory) (*models.CorrelationMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(legs))
	for i, leg := range legs {
		ids[i] = leg.Key()
	}

	key := cache.CorrelationKey(legs, history, e.config.MinSamples, e.config.Epsilon)
	var cached models.CorrelationMatrix
	hit, err := cache.GetJSON(ctx, e.cache, key, &cached)
	if err != nil {
		e.logger.Warn("correlation cache read failed", zap.Error(err))
	}
	if e.cache != nil {
		metrics.CacheResult("correlation", hit)
	}
	if hit {
		return &cached, nil
	}

	raw, empirical := e.combine(legs, history)
	matrix := e.repair(ids, raw)
	matrix.EmpiricalPairs = empirical

	if err := cache.SetJSON(ctx, e.cache, key, matrix, e.config.CacheTTL); err != nil {
		e.logger.Warn("correlation cache write failed", zap.Error(err))
	}

	e.logger.Debug("correlation estimated",
		zap.Int("legs", len(legs)),
		zap.Int("empirical_pairs", empirical),
		zap.Bool("corrected", matrix.Corrected),
		zap.Bool("low_confidence", matrix.LowConfidence),
	)

	return matrix, nil
}

// Repair validates a caller-supplied matrix against the leg ids, then clips and PSD-corrects it
func (e *Engine) Repair(ids []string, raw [][]float64) (*models.CorrelationMatrix, error) {
	if len(raw) != len(ids) {
		return nil, fmt.Errorf("%w: %d rows for %d legs", models.ErrInvalidMatrix, len(raw), len(ids))
	}
	for i, row := range raw {
		if len(row) != len(ids) {
			return nil, fmt.Errorf("%w: row %d has %d columns", models.ErrInvalidMatrix, i, len(row))
		}
	}
	return e.repair(ids, raw), nil
}

// Adjust aligns a caller-supplied matrix to the leg order. Matrix ids must cover every leg.
func (e *Engine) Adjust(legs []models.Leg, supplied *models.CorrelationMatrix) (*models.CorrelationMatrix, error) {
	ids := make([]string, len(legs))
	indices := make([]int, len(legs))
	for i, leg := range legs {
		ids[i] = leg.Key()
		if len(supplied.LegIDs) == 0 {
			indices[i] = i
			continue
		}
		idx, ok := supplied.Index(ids[i])
		if !ok {
			return nil, fmt.Errorf("%w: no row for leg %s", models.ErrInvalidMatrix, ids[i])
		}
		indices[i] = idx
	}

	n := len(supplied.Values)
	for _, idx := range indices {
		if idx >= n {
			return nil, fmt.Errorf("%w: %d rows for %d legs", models.ErrInvalidMatrix, n, len(legs))
		}
	}
	for i, row := range supplied.Values {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns", models.ErrInvalidMatrix, i, len(row))
		}
	}

	return e.repair(ids, supplied.Sub(indices)), nil
}

// combine builds the raw, clipped matrix and counts empirical pairs
func (e *Engine) combine(legs []models.Leg, history models.ResidualHistory) ([][]float64, int) {
	n := len(legs)
	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = make([]float64, n)
		raw[i][i] = 1
	}

	empirical := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var base float64
			if rho, ok := e.empirical(legs[i], legs[j], history); ok {
				base = rho
				empirical++
			}
			v := clip(base + e.config.Rules.Adjustment(legs[i], legs[j]))
			raw[i][j] = v
			raw[j][i] = v
		}
	}
	return raw, empirical
}

func (e *Engine) empirical(a, b models.Leg, history models.ResidualHistory) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	x, y := AlignResiduals(history[a.Key()], history[b.Key()])
	if len(x) < e.config.MinSamples {
		return 0, false
	}
	return Spearman(x, y)
}

// repair runs PSD correction and degrades to the identity when it fails
func (e *Engine) repair(ids []string, raw [][]float64) *models.CorrelationMatrix {
	repaired, err := NearestPSD(raw, e.config.Epsilon)
	if err != nil {
		e.logger.Warn("correlation matrix could not be repaired, using identity",
			zap.Int("legs", len(ids)),
			zap.Error(err),
		)
		matrix := models.IdentityMatrix(ids)
		matrix.LowConfidence = true
		return matrix
	}

	if repaired.Corrected {
		metrics.CorrelationRepairs.Inc()
	}

	legIDs := make([]string, len(ids))
	copy(legIDs, ids)
	return &models.CorrelationMatrix{
		LegIDs:        legIDs,
		Values:        repaired.Values,
		Corrected:     repaired.Corrected,
		MinEigenvalue: repaired.MinEigenvalue,
	}
}
