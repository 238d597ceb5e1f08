package models

import "time"

// ResidualObservation is one historical (actual - projected) residual for a leg's player/stat,
// keyed by the game or date it was observed in so that pairs can be aligned.
type ResidualObservation struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// ResidualHistory maps leg id to its residual observations
type ResidualHistory map[string][]ResidualObservation

// OptimizeRequest is the input of one optimization call
type OptimizeRequest struct {
	Legs []Leg `json:"legs"`

	// Profile selects a preset by name; RiskProfile overrides it when set
	Profile     string       `json:"profile,omitempty"`
	RiskProfile *RiskProfile `json:"risk_profile,omitempty"`

	Strategy     Strategy     `json:"strategy,omitempty"`
	CopulaFamily CopulaFamily `json:"copula_family,omitempty"`
	TopN         int          `json:"top_n,omitempty"`
	Bankroll     float64      `json:"bankroll,omitempty"`
	Trials       int          `json:"trials,omitempty"`

	// Seed makes the run reproducible; nil draws a fresh seed
	Seed *int64 `json:"seed,omitempty"`

	// Correlation overrides the estimated matrix; it is still PSD-repaired
	Correlation *CorrelationMatrix `json:"correlation,omitempty"`
	History     ResidualHistory    `json:"history,omitempty"`

	// PayoutTable maps leg count to a fixed multiplier (pick'em style payouts)
	PayoutTable map[int]float64 `json:"payout_table,omitempty"`
}

// OptimizeResponse is the ranked output of one optimization call
type OptimizeResponse struct {
	RunID       string              `json:"run_id"`
	Profile     string              `json:"profile"`
	Strategy    Strategy            `json:"strategy"`
	Seed        int64               `json:"seed"`
	Slips       []SlipCandidate     `json:"slips"`
	Correlation *CorrelationMatrix  `json:"correlation"`
	Rejected    []RejectedCandidate `json:"rejected,omitempty"`

	Evaluated      int  `json:"evaluated"`
	Truncated      bool `json:"truncated"`
	LowConfidence  bool `json:"low_confidence"`
	CopulaDegraded bool `json:"copula_degraded"`
	HistoryUsed    bool `json:"history_used"`

	TotalStake float64  `json:"total_stake"`
	Warnings   []string `json:"warnings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ValidateRequest asks whether a caller-built slip satisfies a profile
type ValidateRequest struct {
	Legs         []Leg              `json:"legs"`
	Profile      string             `json:"profile,omitempty"`
	RiskProfile  *RiskProfile       `json:"risk_profile,omitempty"`
	Correlation  *CorrelationMatrix `json:"correlation,omitempty"`
	History      ResidualHistory    `json:"history,omitempty"`
	PayoutTable  map[int]float64    `json:"payout_table,omitempty"`
	CopulaFamily CopulaFamily       `json:"copula_family,omitempty"`
	Bankroll     float64            `json:"bankroll,omitempty"`
	Seed         *int64             `json:"seed,omitempty"`
}

// ValidateResponse carries the scored slip and its report
type ValidateResponse struct {
	Slip   SlipCandidate    `json:"slip"`
	Report ValidationReport `json:"report"`
}

// StakeRequest sizes a single wager
type StakeRequest struct {
	WinProbability   float64  `json:"win_probability"`
	PayoutMultiplier float64  `json:"payout_multiplier"`
	Legs             int      `json:"legs,omitempty"`
	Edge             *float64 `json:"edge,omitempty"`
	Variance         *float64 `json:"variance,omitempty"`
	Bankroll         float64  `json:"bankroll,omitempty"`
	KellyFraction    float64  `json:"kelly_fraction,omitempty"`
}

// StakeResponse is the sized stake with its Kelly fractions
type StakeResponse struct {
	FullKelly       float64  `json:"full_kelly"`
	FractionalKelly float64  `json:"fractional_kelly"`
	Stake           float64  `json:"stake"`
	Capped          bool     `json:"capped"`
	Warnings        []string `json:"warnings"`
}

// ProgressEvent reports search progress to streaming callers
type ProgressEvent struct {
	Stage     string  `json:"stage"`
	Step      int     `json:"step"`
	Evaluated int     `json:"evaluated"`
	BestScore float64 `json:"best_score"`
	BestKey   string  `json:"best_key,omitempty"`
}

// CorrelationRequest asks for the PSD correlation matrix of a leg pool
type CorrelationRequest struct {
	Legs        []Leg              `json:"legs"`
	History     ResidualHistory    `json:"history,omitempty"`
	Correlation *CorrelationMatrix `json:"correlation,omitempty"`
}

// Stream message types sent on the optimization websocket
const (
	StreamProgress = "progress"
	StreamResult   = "result"
	StreamError    = "error"
)

// StreamMessage is one server frame on the optimization websocket
type StreamMessage struct {
	Type     string            `json:"type"`
	Progress *ProgressEvent    `json:"progress,omitempty"`
	Result   *OptimizeResponse `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}
