package copula

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// Copula draws vectors of dependent uniforms on (0,1)
type Copula interface {
	Family() models.CopulaFamily
	Dim() int
	// Draw writes one sample into u, which must have length Dim()
	Draw(rng *rand.Rand, u []float64) error
}

// Cloner is implemented by copulas that keep per-draw scratch state
type Cloner interface {
	Clone() Copula
}

// ForWorker returns a copula safe to use from one goroutine alongside others
func ForWorker(c Copula) Copula {
	if cl, ok := c.(Cloner); ok {
		return cl.Clone()
	}
	return c
}

// Status tags how a fit ended
type Status string

const (
	StatusFitted   Status = "fitted"
	StatusDegraded Status = "degraded"
)

// FitResult always carries a usable copula. A degraded result holds the independent
// copula and the reason the requested family could not be used.
type FitResult struct {
	Copula    Copula
	Requested models.CopulaFamily
	Status    Status
	Reason    string
}

// Degraded reports whether the requested family was replaced
func (r FitResult) Degraded() bool {
	return r.Status == StatusDegraded
}

// ParseFamily maps a request value to a family. Empty selects gaussian.
func ParseFamily(name string) (models.CopulaFamily, error) {
	switch models.CopulaFamily(strings.ToLower(strings.TrimSpace(name))) {
	case "", models.CopulaGaussian:
		return models.CopulaGaussian, nil
	case models.CopulaClayton:
		return models.CopulaClayton, nil
	case models.CopulaIndependent:
		return models.CopulaIndependent, nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnknownCopula, name)
	}
}

// Fit builds a copula of the requested family from a correlation matrix.
// Any failure falls back to the independent copula.
func Fit(family models.CopulaFamily, values [][]float64) FitResult {
	n := len(values)
	switch family {
	case models.CopulaIndependent:
		return fitted(family, NewIndependent(n))

	case "", models.CopulaGaussian:
		g, err := NewGaussian(values)
		if err != nil {
			return degraded(models.CopulaGaussian, n, err.Error())
		}
		return fitted(models.CopulaGaussian, g)

	case models.CopulaClayton:
		if n != 2 {
			return degraded(family, n, fmt.Sprintf("clayton supports exactly 2 legs, got %d", n))
		}
		if len(values[0]) != 2 || len(values[1]) != 2 {
			return degraded(family, n, "clayton requires a 2x2 matrix")
		}
		return fitClayton(KendallFromPearson(values[0][1]), n)

	default:
		return degraded(family, n, fmt.Sprintf("unsupported family %q", family))
	}
}

// FitSamples fits a copula from observed pseudo-observations, one slice per dimension.
// Dependence is measured with Kendall's tau.
func FitSamples(family models.CopulaFamily, samples [][]float64) FitResult {
	n := len(samples)
	for i := 1; i < n; i++ {
		if len(samples[i]) != len(samples[0]) {
			return degraded(family, n, "sample columns have different lengths")
		}
	}
	if n > 0 && len(samples[0]) < 3 {
		return degraded(family, n, "not enough samples to estimate dependence")
	}

	if family == models.CopulaClayton {
		if n != 2 {
			return degraded(family, n, fmt.Sprintf("clayton supports exactly 2 legs, got %d", n))
		}
		return fitClayton(stat.Kendall(samples[0], samples[1], nil), n)
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			tau := stat.Kendall(samples[i], samples[j], nil)
			if math.IsNaN(tau) {
				return degraded(family, n, "kendall tau is undefined for constant samples")
			}
			rho := PearsonFromKendall(tau)
			values[i][j], values[j][i] = rho, rho
		}
	}
	return Fit(family, values)
}

// Sample draws n vectors. A draw failure switches the remaining draws to the
// independent copula and reports degraded.
func Sample(c Copula, rng *rand.Rand, n int) ([][]float64, bool) {
	out := make([][]float64, n)
	degradedDraws := false
	for i := range out {
		out[i] = make([]float64, c.Dim())
		if err := c.Draw(rng, out[i]); err != nil {
			c = NewIndependent(c.Dim())
			degradedDraws = true
			_ = c.Draw(rng, out[i])
		}
	}
	return out, degradedDraws
}

// KendallFromPearson converts a Gaussian correlation to Kendall's tau
func KendallFromPearson(rho float64) float64 {
	return 2 / math.Pi * math.Asin(math.Max(-1, math.Min(1, rho)))
}

// PearsonFromKendall inverts KendallFromPearson
func PearsonFromKendall(tau float64) float64 {
	return math.Sin(math.Pi / 2 * tau)
}

func fitClayton(tau float64, n int) FitResult {
	c, err := NewClaytonFromTau(tau)
	if err != nil {
		return degraded(models.CopulaClayton, n, err.Error())
	}
	return fitted(models.CopulaClayton, c)
}

func fitted(family models.CopulaFamily, c Copula) FitResult {
	return FitResult{Copula: c, Requested: family, Status: StatusFitted}
}

func degraded(family models.CopulaFamily, n int, reason string) FitResult {
	return FitResult{
		Copula:    NewIndependent(n),
		Requested: family,
		Status:    StatusDegraded,
		Reason:    reason,
	}
}
