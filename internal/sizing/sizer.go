package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds stake limits
type Config struct {
	// DefaultFraction is the Kelly multiplier used when an input does not carry one
	DefaultFraction float64
	MinStake        float64
	MaxStake        float64
	// MaxBankrollPct caps any single stake as a fraction of bankroll
	MaxBankrollPct float64
	// GlobalCap caps the summed full Kelly fractions across a batch
	GlobalCap float64
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		DefaultFraction: 0.25,
		MinStake:        1.0,
		MaxStake:        1000.0,
		MaxBankrollPct:  0.10,
		GlobalCap:       0.25,
	}
}

// Input describes one wager to size
type Input struct {
	WinProbability   float64
	PayoutMultiplier float64
	Legs             int
	// Edge and Variance are per unit stake; when set with Legs > 1 the edge/variance
	// approximation is used instead of the binary formula
	Edge     *float64
	Variance *float64
	Bankroll float64
	// Fraction overrides DefaultFraction when positive
	Fraction float64
}

// Result is the sizing outcome. FullKelly and FractionalKelly are bankroll fractions.
type Result struct {
	FullKelly       float64  `json:"full_kelly"`
	FractionalKelly float64  `json:"fractional_kelly"`
	Stake           float64  `json:"stake"`
	Capped          bool     `json:"capped"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Sizer converts edges into recommended stakes
type Sizer struct {
	config Config
	logger *zap.Logger
}

// NewSizer creates a new stake sizer
func NewSizer(config Config, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.DefaultFraction <= 0 || config.DefaultFraction > 1 {
		config.DefaultFraction = defaults.DefaultFraction
	}
	if config.MaxBankrollPct <= 0 {
		config.MaxBankrollPct = defaults.MaxBankrollPct
	}
	if config.GlobalCap <= 0 {
		config.GlobalCap = defaults.GlobalCap
	}
	if config.MinStake < 0 {
		config.MinStake = 0
	}
	return &Sizer{config: config, logger: logger.Named("sizing")}
}

// Config returns the effective limits
func (s *Sizer) Config() Config {
	return s.config
}

// FullKelly returns the uncapped Kelly fraction for an input
func (s *Sizer) FullKelly(in Input) float64 {
	if in.Legs > 1 && in.Edge != nil && in.Variance != nil {
		return EdgeVarianceKelly(*in.Edge, *in.Variance)
	}
	return BinaryKelly(in.WinProbability, in.PayoutMultiplier)
}

// Size returns the recommended stake. A non-positive edge always sizes to exactly zero.
func (s *Sizer) Size(in Input) Result {
	return s.size(in, s.FullKelly(in), nil)
}

// SizeAll sizes a batch of wagers sharing one bankroll. When the summed full Kelly
// fractions exceed GlobalCap, every fraction is scaled by cap/sum before the per-stake clamps.
func (s *Sizer) SizeAll(inputs []Input, bankroll float64) []Result {
	fractions := make([]float64, len(inputs))
	sum := 0.0
	for i, in := range inputs {
		fractions[i] = s.FullKelly(in)
		if fractions[i] > 0 {
			sum += fractions[i]
		}
	}

	var warning []string
	scale := 1.0
	if sum > s.config.GlobalCap {
		scale = s.config.GlobalCap / sum
		warning = []string{fmt.Sprintf("Combined Kelly %.1f%% exceeds cap %.1f%%, scaled by %.2f",
			sum*100, s.config.GlobalCap*100, scale)}
		s.logger.Debug("scaling batch to global cap",
			zap.Float64("sum", sum),
			zap.Float64("cap", s.config.GlobalCap),
			zap.Int("wagers", len(inputs)),
		)
	}

	results := make([]Result, len(inputs))
	for i, in := range inputs {
		in.Bankroll = bankroll
		scaled := fractions[i]
		if scaled > 0 {
			scaled *= scale
		}
		results[i] = s.size(in, scaled, warning)
		results[i].FullKelly = math.Max(0, nanToZero(fractions[i]))
	}
	return results
}

func (s *Sizer) size(in Input, fullKelly float64, warnings []string) Result {
	result := Result{FullKelly: fullKelly}
	if math.IsNaN(fullKelly) || fullKelly <= 0 || in.Bankroll <= 0 {
		result.FullKelly = math.Max(0, nanToZero(fullKelly))
		result.Warnings = append(result.Warnings, "No edge - stake is zero")
		return result
	}

	fraction := in.Fraction
	if fraction <= 0 || fraction > 1 {
		fraction = s.config.DefaultFraction
	}

	// Apply fractional Kelly
	fractional := fullKelly * fraction

	// Cap at maximum percentage
	if fractional > s.config.MaxBankrollPct {
		fractional = s.config.MaxBankrollPct
		result.Capped = true
	}
	result.FractionalKelly = fractional

	stake := in.Bankroll * fractional
	if s.config.MaxStake > 0 && stake > s.config.MaxStake {
		stake = s.config.MaxStake
		result.Capped = true
	}
	if stake < s.config.MinStake {
		if s.config.MinStake > in.Bankroll*s.config.MaxBankrollPct {
			result.Warnings = append(result.Warnings, "Minimum stake exceeds bankroll limit - stake is zero")
			result.FractionalKelly = 0
			return result
		}
		stake = s.config.MinStake
		result.Warnings = append(result.Warnings, fmt.Sprintf("Raised to minimum stake %.2f", s.config.MinStake))
	}

	result.Stake = round(stake)
	result.Warnings = append(result.Warnings, warnings...)

	if result.Stake > in.Bankroll*0.05 {
		result.Warnings = append(result.Warnings, "Recommended bet is >5% of bankroll - high variance")
	}
	if in.Legs > 3 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d-leg slip - expect long losing streaks", in.Legs))
	}
	return result
}

// round rounds a stake to cents
func round(val float64) float64 {
	f, _ := decimal.NewFromFloat(val).Round(2).Float64()
	return f
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
