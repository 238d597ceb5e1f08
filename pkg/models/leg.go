package models

import (
	"fmt"
	"math"
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/oddsmath"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Direction is the side of a player prop line
type Direction string

const (
	DirectionOver  Direction = "over"
	DirectionUnder Direction = "under"
)

// Leg is a single player prop pick with a model win probability.
// Legs are treated as immutable for the duration of an optimization call.
type Leg struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id" validate:"required"`
	PlayerName string    `json:"player_name,omitempty"`
	StatType   string    `json:"stat_type" validate:"required"`
	Line       float64   `json:"line"`
	Direction  Direction `json:"direction" validate:"required,oneof=over under"`
	Team       string    `json:"team,omitempty"`
	Opponent   string    `json:"opponent,omitempty"`
	GameID     string    `json:"game_id" validate:"required"`
	Sport      string    `json:"sport,omitempty"`

	// Model output
	WinProbability float64 `json:"win_probability"`
	Confidence     float64 `json:"confidence,omitempty" validate:"gte=0,lte=1"`

	// Offered price (either may be set; decimal wins when both are present)
	AmericanOdds int     `json:"american_odds,omitempty"`
	DecimalOdds  float64 `json:"decimal_odds,omitempty" validate:"omitempty,gt=1"`
}

// Key returns the leg id, deriving one from its identity when unset
func (l Leg) Key() string {
	if l.ID != "" {
		return l.ID
	}
	return fmt.Sprintf("%s:%s:%g:%s", l.PlayerID, l.StatType, l.Line, l.Direction)
}

// ExposureKey identifies the player+stat+direction combination that may appear once per slip
func (l Leg) ExposureKey() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s", l.PlayerID, l.StatType, l.Direction))
}

// Validate checks the leg at the boundary. Probabilities are checked first so that
// callers always receive an *InvalidProbabilityError for them.
func (l Leg) Validate() error {
	p := l.WinProbability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return &InvalidProbabilityError{LegID: l.Key(), Probability: p}
	}

	l.Direction = Direction(strings.ToLower(string(l.Direction)))
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidLeg, l.Key(), err)
	}

	if l.AmericanOdds != 0 && l.AmericanOdds > -100 && l.AmericanOdds < 100 {
		return fmt.Errorf("%w: %s: american odds %d out of range", ErrInvalidLeg, l.Key(), l.AmericanOdds)
	}

	return nil
}

// Normalize validates the leg and returns a copy with derived fields filled in
func (l Leg) Normalize() (Leg, error) {
	if err := l.Validate(); err != nil {
		return Leg{}, err
	}

	l.Direction = Direction(strings.ToLower(string(l.Direction)))
	l.ID = l.Key()
	if l.Confidence == 0 {
		l.Confidence = 1.0
	}
	if l.DecimalOdds == 0 && l.AmericanOdds != 0 {
		decimal, err := oddsmath.AmericanToDecimal(l.AmericanOdds)
		if err != nil {
			return Leg{}, fmt.Errorf("%w: %s: %v", ErrInvalidLeg, l.ID, err)
		}
		l.DecimalOdds = decimal
	}

	return l, nil
}

// Payout returns the leg's decimal odds, or 0 when the leg carries no price
func (l Leg) Payout() float64 {
	if l.DecimalOdds > 1 {
		return l.DecimalOdds
	}
	if l.AmericanOdds != 0 {
		if decimal, err := oddsmath.AmericanToDecimal(l.AmericanOdds); err == nil {
			return decimal
		}
	}
	return 0
}

// HasPrice reports whether the leg carries its own odds
func (l Leg) HasPrice() bool {
	return l.Payout() > 1
}

// NormalizeLegs validates a pool and rejects duplicate ids
func NormalizeLegs(legs []Leg) ([]Leg, error) {
	out := make([]Leg, 0, len(legs))
	seen := make(map[string]struct{}, len(legs))

	for _, leg := range legs {
		normalized, err := leg.Normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[normalized.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLeg, normalized.ID)
		}
		seen[normalized.ID] = struct{}{}
		out = append(out, normalized)
	}

	return out, nil
}
