package copula

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// minTau keeps theta away from zero, where the conditional inverse is unstable
const minTau = 1e-4

// Clayton is the bivariate Clayton copula. It only models positive, lower-tail dependence.
type Clayton struct {
	theta float64
}

// NewClaytonFromTau derives theta = 2τ/(1−τ)
func NewClaytonFromTau(tau float64) (*Clayton, error) {
	if math.IsNaN(tau) {
		return nil, fmt.Errorf("clayton: kendall tau is undefined")
	}
	if tau < minTau {
		return nil, fmt.Errorf("clayton requires positive dependence, got tau %.4f", tau)
	}
	if tau >= 1 {
		return nil, fmt.Errorf("clayton: tau %.4f implies comonotone legs", tau)
	}
	return &Clayton{theta: 2 * tau / (1 - tau)}, nil
}

// Theta returns the dependence parameter
func (c *Clayton) Theta() float64 { return c.theta }

// Tau returns the implied Kendall's tau
func (c *Clayton) Tau() float64 { return c.theta / (c.theta + 2) }

func (c *Clayton) Family() models.CopulaFamily { return models.CopulaClayton }

func (c *Clayton) Dim() int { return 2 }

// Draw samples u then v from the conditional distribution C(v|u)
func (c *Clayton) Draw(rng *rand.Rand, u []float64) error {
	if len(u) != 2 {
		return fmt.Errorf("clayton draw: want 2 values, got %d", len(u))
	}

	a := openUniform(rng)
	w := openUniform(rng)
	t := c.theta

	v := math.Pow(math.Pow(a, -t)*(math.Pow(w, -t/(1+t))-1)+1, -1/t)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("clayton draw: non-finite sample for theta %.4f", t)
	}

	u[0], u[1] = a, v
	return nil
}

// openUniform draws from (0,1), excluding zero
func openUniform(rng *rand.Rand) float64 {
	for {
		if x := rng.Float64(); x > 0 {
			return x
		}
	}
}
