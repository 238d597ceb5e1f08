package copula

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var errNotPositiveSemidefinite = errors.New("correlation matrix is not positive semidefinite")

// eigenTolerance bounds how negative an eigenvalue may be before the matrix is rejected
const eigenTolerance = 1e-8

// Gaussian is the normal copula parameterized by a correlation matrix
type Gaussian struct {
	dim    int
	factor mat.Matrix
	z      []float64
	x      *mat.VecDense
}

// NewGaussian factorizes the correlation matrix with Cholesky. Singular PSD matrices
// (duplicated legs, perfect dependence) fall back to an eigendecomposition factor.
func NewGaussian(values [][]float64) (*Gaussian, error) {
	n := len(values)
	if n == 0 {
		return &Gaussian{dim: 0}, nil
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(values[i]) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns", models.ErrInvalidMatrix, i, len(values[i]))
		}
		for j := i; j < n; j++ {
			v := values[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite entry at (%d,%d)", models.ErrInvalidMatrix, i, j)
			}
			sym.SetSym(i, j, v)
		}
	}

	factor, err := factorize(sym)
	if err != nil {
		return nil, err
	}

	return &Gaussian{
		dim:    n,
		factor: factor,
		z:      make([]float64, n),
		x:      mat.NewVecDense(n, nil),
	}, nil
}

// factorize returns L with L·Lᵀ equal to sym
func factorize(sym *mat.SymDense) (mat.Matrix, error) {
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		var lower mat.TriDense
		chol.LTo(&lower)
		return &lower, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, errNotPositiveSemidefinite
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	n := len(values)
	scale := make([]float64, n)
	for i, v := range values {
		if v < -eigenTolerance {
			return nil, fmt.Errorf("%w: eigenvalue %g", errNotPositiveSemidefinite, v)
		}
		scale[i] = math.Sqrt(math.Max(v, 0))
	}

	// L = V·diag(√λ)
	factor := mat.NewDense(n, n, nil)
	factor.Apply(func(i, j int, v float64) float64 {
		return v * scale[j]
	}, &vectors)
	return factor, nil
}

func (g *Gaussian) Family() models.CopulaFamily { return models.CopulaGaussian }

func (g *Gaussian) Dim() int { return g.dim }

// Draw is not safe for concurrent use; each worker holds its own copy via Clone.
func (g *Gaussian) Draw(rng *rand.Rand, u []float64) error {
	if len(u) != g.dim {
		return fmt.Errorf("gaussian draw: want %d values, got %d", g.dim, len(u))
	}
	if g.dim == 0 {
		return nil
	}

	for i := range g.z {
		g.z[i] = rng.NormFloat64()
	}
	g.x.MulVec(g.factor, mat.NewVecDense(g.dim, g.z))

	for i := range u {
		u[i] = distuv.UnitNormal.CDF(g.x.AtVec(i))
	}
	return nil
}

// Clone returns a copy sharing the factorization but owning its scratch buffers
func (g *Gaussian) Clone() Copula {
	if g.dim == 0 {
		return &Gaussian{}
	}
	return &Gaussian{
		dim:    g.dim,
		factor: g.factor,
		z:      make([]float64, g.dim),
		x:      mat.NewVecDense(g.dim, nil),
	}
}
