package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProbability is the only input condition that aborts an optimization call
	ErrInvalidProbability = errors.New("invalid probability")

	// ErrInvalidLeg marks a leg with missing or malformed identity fields
	ErrInvalidLeg = errors.New("invalid leg")

	// ErrInvalidProfile marks a risk profile that cannot be satisfied by any slip
	ErrInvalidProfile = errors.New("invalid risk profile")

	// ErrUnknownProfile is returned when a profile name has no preset
	ErrUnknownProfile = errors.New("unknown risk profile")

	// ErrUnknownStrategy is returned for an unsupported search strategy
	ErrUnknownStrategy = errors.New("unknown search strategy")

	// ErrInsufficientLegs is returned when the pool cannot form a single slip
	ErrInsufficientLegs = errors.New("insufficient legs")

	// ErrInvalidMatrix marks a caller-supplied correlation matrix with the wrong shape
	ErrInvalidMatrix = errors.New("invalid correlation matrix")

	// ErrUnknownCopula is returned for an unsupported copula family
	ErrUnknownCopula = errors.New("unknown copula family")

	// ErrInvalidRequest marks request fields outside their allowed range
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateLeg marks two legs sharing the same id in one pool
	ErrDuplicateLeg = errors.New("duplicate leg id")
)

// InvalidProbabilityError reports the offending leg and value
type InvalidProbabilityError struct {
	LegID       string
	Probability float64
}

func (e *InvalidProbabilityError) Error() string {
	return fmt.Sprintf("invalid probability %v for leg %s: must be within [0,1]", e.Probability, e.LegID)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidProbability)
func (e *InvalidProbabilityError) Unwrap() error {
	return ErrInvalidProbability
}
