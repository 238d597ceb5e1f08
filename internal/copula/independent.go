package copula

import (
	"fmt"
	"math/rand"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// Independent draws each leg's uniform separately
type Independent struct {
	dim int
}

// NewIndependent creates the independence copula
func NewIndependent(dim int) *Independent {
	return &Independent{dim: dim}
}

func (c *Independent) Family() models.CopulaFamily { return models.CopulaIndependent }

func (c *Independent) Dim() int { return c.dim }

func (c *Independent) Draw(rng *rand.Rand, u []float64) error {
	if len(u) != c.dim {
		return fmt.Errorf("independent draw: want %d values, got %d", c.dim, len(u))
	}
	for i := range u {
		u[i] = rng.Float64()
	}
	return nil
}
