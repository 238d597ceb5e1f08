package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/correlation"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/engine"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/optimizer"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/simulator"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/sizing"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/spf13/viper"
)

// Config holds service configuration
type Config struct {
	Port           int
	LogLevel       string
	AllowedOrigins []string
	RequestTimeout time.Duration

	RedisURL      string
	RedisPassword string
	HistoryDSN    string
	HistoryDepth  int
	CacheTTL      time.Duration

	DefaultBankroll float64
	DefaultProfile  string
	MaxPoolSize     int

	KellyFraction  float64
	MinStake       float64
	MaxStake       float64
	MaxBankrollPct float64
	GlobalCap      float64

	Trials         int
	SearchTrials   int
	Workers        int
	Strategy       string
	BeamWidth      int
	MaxEvaluations int
	TimeBudget     time.Duration

	EnableStreamWorker bool
	Sports             []string
	ConsumerGroup      string
	ConsumerID         string
	StreamMaxLen       int64
	RunTimeout         time.Duration
}

// Load reads configuration from the environment and an optional config file
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:           v.GetInt("OPTIMIZER_PORT"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		AllowedOrigins: splitList(v.GetString("CORS_ORIGINS")),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		RedisURL:      v.GetString("REDIS_URL"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		HistoryDSN:    v.GetString("HISTORY_DSN"),
		HistoryDepth:  v.GetInt("HISTORY_LOOKBACK"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),

		DefaultBankroll: v.GetFloat64("DEFAULT_BANKROLL"),
		DefaultProfile:  v.GetString("DEFAULT_PROFILE"),
		MaxPoolSize:     v.GetInt("MAX_POOL_SIZE"),

		KellyFraction: v.GetFloat64("KELLY_DEFAULT_FRACTION"),
		MinStake:      v.GetFloat64("KELLY_MIN_STAKE"),
		MaxStake:      v.GetFloat64("KELLY_MAX_STAKE"),
		// Percentages in the environment, fractions internally
		MaxBankrollPct: v.GetFloat64("KELLY_MAX_PCT") / 100.0,
		GlobalCap:      v.GetFloat64("KELLY_GLOBAL_CAP") / 100.0,

		Trials:         v.GetInt("SIM_TRIALS"),
		SearchTrials:   v.GetInt("SIM_SEARCH_TRIALS"),
		Workers:        v.GetInt("SIM_WORKERS"),
		Strategy:       v.GetString("SEARCH_STRATEGY"),
		BeamWidth:      v.GetInt("SEARCH_BEAM_WIDTH"),
		MaxEvaluations: v.GetInt("SEARCH_MAX_EVALUATIONS"),
		TimeBudget:     v.GetDuration("SEARCH_TIME_BUDGET"),

		EnableStreamWorker: v.GetBool("ENABLE_STREAM_WORKER"),
		Sports:             splitList(v.GetString("SPORTS")),
		ConsumerGroup:      v.GetString("CONSUMER_GROUP"),
		ConsumerID:         v.GetString("CONSUMER_ID"),
		StreamMaxLen:       v.GetInt64("STREAM_MAX_LEN"),
		RunTimeout:         v.GetDuration("RUN_TIMEOUT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("OPTIMIZER_PORT", 8090)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("HISTORY_DSN", "")
	v.SetDefault("HISTORY_LOOKBACK", 50)
	v.SetDefault("CACHE_TTL", 15*time.Minute)

	v.SetDefault("DEFAULT_BANKROLL", 1000.0)
	v.SetDefault("DEFAULT_PROFILE", models.ProfileModerate)
	v.SetDefault("MAX_POOL_SIZE", 60)

	v.SetDefault("KELLY_DEFAULT_FRACTION", 0.25)
	v.SetDefault("KELLY_MIN_STAKE", 1.0)
	v.SetDefault("KELLY_MAX_STAKE", 1000.0)
	v.SetDefault("KELLY_MAX_PCT", 10.0)
	v.SetDefault("KELLY_GLOBAL_CAP", 25.0)

	v.SetDefault("SIM_TRIALS", simulator.DefaultTrials)
	v.SetDefault("SIM_SEARCH_TRIALS", 2000)
	v.SetDefault("SIM_WORKERS", runtime.NumCPU())
	v.SetDefault("SEARCH_STRATEGY", string(models.StrategyBeam))
	v.SetDefault("SEARCH_BEAM_WIDTH", 8)
	v.SetDefault("SEARCH_MAX_EVALUATIONS", 20000)
	v.SetDefault("SEARCH_TIME_BUDGET", 10*time.Second)

	v.SetDefault("ENABLE_STREAM_WORKER", false)
	v.SetDefault("SPORTS", "basketball_nba")
	v.SetDefault("CONSUMER_GROUP", "parlay-optimizer")
	v.SetDefault("CONSUMER_ID", "parlay-optimizer-1")
	v.SetDefault("STREAM_MAX_LEN", 10000)
	v.SetDefault("RUN_TIMEOUT", 30*time.Second)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid OPTIMIZER_PORT %d", c.Port)
	}
	if c.KellyFraction <= 0 || c.KellyFraction > 1 {
		return fmt.Errorf("KELLY_DEFAULT_FRACTION must be in (0, 1], got %.3f", c.KellyFraction)
	}
	if c.MinStake > c.MaxStake {
		return fmt.Errorf("KELLY_MIN_STAKE %.2f exceeds KELLY_MAX_STAKE %.2f", c.MinStake, c.MaxStake)
	}
	if c.Trials <= 0 || c.SearchTrials <= 0 {
		return fmt.Errorf("SIM_TRIALS and SIM_SEARCH_TRIALS must be positive")
	}
	if _, err := models.ProfileByName(c.DefaultProfile); err != nil {
		return fmt.Errorf("DEFAULT_PROFILE: %w", err)
	}
	switch models.Strategy(c.Strategy) {
	case models.StrategyGreedy, models.StrategyBeam, models.StrategyGenetic:
	default:
		return fmt.Errorf("unknown SEARCH_STRATEGY %q", c.Strategy)
	}
	if c.EnableStreamWorker && c.RedisURL == "" {
		return fmt.Errorf("ENABLE_STREAM_WORKER requires REDIS_URL")
	}
	return nil
}

// Engine returns the request-level defaults
func (c *Config) Engine() engine.Config {
	return engine.Config{
		DefaultBankroll: c.DefaultBankroll,
		DefaultProfile:  c.DefaultProfile,
		MaxPoolSize:     c.MaxPoolSize,
	}
}

// Correlation returns the correlation engine settings
func (c *Config) Correlation() correlation.Config {
	cfg := correlation.DefaultConfig()
	cfg.CacheTTL = c.CacheTTL
	return cfg
}

// Simulator returns the Monte Carlo settings
func (c *Config) Simulator() simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.Trials = c.Trials
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

// Sizing returns the stake sizing settings
func (c *Config) Sizing() sizing.Config {
	return sizing.Config{
		DefaultFraction: c.KellyFraction,
		MinStake:        c.MinStake,
		MaxStake:        c.MaxStake,
		MaxBankrollPct:  c.MaxBankrollPct,
		GlobalCap:       c.GlobalCap,
	}
}

// Optimizer returns the search settings
func (c *Config) Optimizer() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.Strategy = models.Strategy(c.Strategy)
	cfg.SearchTrials = c.SearchTrials
	cfg.FinalTrials = c.Trials
	cfg.BeamWidth = c.BeamWidth
	cfg.MaxEvaluations = c.MaxEvaluations
	cfg.TimeBudget = c.TimeBudget
	cfg.SimulationCacheTTL = c.CacheTTL
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
