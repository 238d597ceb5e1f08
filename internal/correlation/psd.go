package correlation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultEpsilon is the floor applied to eigenvalues during PSD repair
const DefaultEpsilon = 1e-6

// psdTolerance is the numerical slack allowed when checking eigenvalues
const psdTolerance = 1e-9

var (
	errNotSquare     = errors.New("matrix is not square")
	errNonFinite     = errors.New("matrix has non-finite entries")
	errDecomposition = errors.New("eigendecomposition failed")
)

// Repaired is the output of NearestPSD
type Repaired struct {
	Values        [][]float64
	Corrected     bool
	MinEigenvalue float64
}

// NearestPSD symmetrizes and clips raw correlations, then floors negative eigenvalues at
// epsilon, reconstructs and rescales to a unit diagonal. The result is always symmetric
// with diagonal exactly 1.
func NearestPSD(raw [][]float64, epsilon float64) (Repaired, error) {
	n := len(raw)
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if n == 0 {
		return Repaired{Values: [][]float64{}, MinEigenvalue: 0}, nil
	}

	sym := mat.NewSymDense(n, nil)
	clipped := false
	for i := 0; i < n; i++ {
		if len(raw[i]) != n {
			return Repaired{}, errNotSquare
		}
		for j := i; j < n; j++ {
			if i == j {
				sym.SetSym(i, i, 1)
				continue
			}
			v := (raw[i][j] + raw[j][i]) / 2
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Repaired{}, errNonFinite
			}
			if c := clip(v); c != v {
				v = c
				clipped = true
			}
			sym.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return Repaired{}, errDecomposition
	}
	values := eig.Values(nil)
	minEig := minOf(values)

	if minEig >= epsilon {
		return Repaired{Values: toRows(sym), Corrected: clipped, MinEigenvalue: minEig}, nil
	}

	for i, v := range values {
		if v < epsilon {
			values[i] = epsilon
		}
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	var scaled, rebuilt mat.Dense
	scaled.Mul(&vectors, mat.NewDiagDense(n, values))
	rebuilt.Mul(&scaled, vectors.T())

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		di := math.Sqrt(rebuilt.At(i, i))
		for j := i; j < n; j++ {
			dj := math.Sqrt(rebuilt.At(j, j))
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2 / (di * dj)
			if i == j {
				v = 1
			}
			v = clip(v)
			out[i][j] = v
			out[j][i] = v
		}
	}

	ok, repairedMin := IsPSD(out, psdTolerance)
	if !ok {
		return Repaired{}, fmt.Errorf("%w: min eigenvalue %.3g after repair", errDecomposition, repairedMin)
	}

	return Repaired{Values: out, Corrected: true, MinEigenvalue: repairedMin}, nil
}

// IsPSD reports whether a symmetric matrix has no eigenvalue below -tol
func IsPSD(values [][]float64, tol float64) (bool, float64) {
	n := len(values)
	if n == 0 {
		return true, 0
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, values[i][j])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return false, math.NaN()
	}
	minEig := minOf(eig.Values(nil))
	return minEig >= -tol, minEig
}

func toRows(sym *mat.SymDense) [][]float64 {
	n := sym.SymmetricDim()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = sym.At(i, j)
		}
	}
	return rows
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
