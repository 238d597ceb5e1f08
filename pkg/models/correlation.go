package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// CopulaFamily selects the dependence structure used for sampling
type CopulaFamily string

const (
	CopulaGaussian    CopulaFamily = "gaussian"
	CopulaClayton     CopulaFamily = "clayton"
	CopulaIndependent CopulaFamily = "independent"
)

// CorrelationMatrix is a symmetric, unit-diagonal, PSD correlation matrix over a leg set
type CorrelationMatrix struct {
	LegIDs []string    `json:"leg_ids"`
	Values [][]float64 `json:"values"`

	// Corrected is set when the PSD repair changed the raw combined estimate
	Corrected bool `json:"corrected"`
	// LowConfidence is set when the estimate degraded to the identity
	LowConfidence bool `json:"low_confidence"`
	// EmpiricalPairs counts pairs that had enough history for a rank correlation
	EmpiricalPairs int     `json:"empirical_pairs"`
	MinEigenvalue  float64 `json:"min_eigenvalue"`
}

// CorrelationPair is one off-diagonal entry keyed by leg ids
type CorrelationPair struct {
	LegA        string  `json:"leg_a"`
	LegB        string  `json:"leg_b"`
	Correlation float64 `json:"correlation"`
}

// IdentityMatrix returns the zero-correlation matrix for a leg set
func IdentityMatrix(legIDs []string) *CorrelationMatrix {
	n := len(legIDs)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1.0
	}

	ids := make([]string, n)
	copy(ids, legIDs)

	return &CorrelationMatrix{
		LegIDs:        ids,
		Values:        values,
		MinEigenvalue: 1.0,
	}
}

// Size returns the number of legs covered by the matrix
func (m *CorrelationMatrix) Size() int {
	return len(m.LegIDs)
}

// At returns the correlation between legs i and j
func (m *CorrelationMatrix) At(i, j int) float64 {
	return m.Values[i][j]
}

// Index returns the row of a leg id
func (m *CorrelationMatrix) Index(legID string) (int, bool) {
	for i, id := range m.LegIDs {
		if id == legID {
			return i, true
		}
	}
	return -1, false
}

// Between returns the correlation between two legs by id
func (m *CorrelationMatrix) Between(a, b string) (float64, bool) {
	i, ok := m.Index(a)
	if !ok {
		return 0, false
	}
	j, ok := m.Index(b)
	if !ok {
		return 0, false
	}
	return m.Values[i][j], true
}

// Pairs lists the upper-triangle entries
func (m *CorrelationMatrix) Pairs() []CorrelationPair {
	n := m.Size()
	pairs := make([]CorrelationPair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, CorrelationPair{
				LegA:        m.LegIDs[i],
				LegB:        m.LegIDs[j],
				Correlation: m.Values[i][j],
			})
		}
	}
	return pairs
}

// Sub extracts the sub-matrix for the given rows
func (m *CorrelationMatrix) Sub(indices []int) [][]float64 {
	sub := make([][]float64, len(indices))
	for a, i := range indices {
		sub[a] = make([]float64, len(indices))
		for b, j := range indices {
			sub[a][b] = m.Values[i][j]
		}
	}
	return sub
}

// Hash fingerprints the matrix for cache keys. Values are rounded to 6dp.
func (m *CorrelationMatrix) Hash() string {
	return HashValues(m.LegIDs, m.Values)
}

// HashValues fingerprints an id list and a square matrix
func HashValues(ids []string, values [][]float64) string {
	var b strings.Builder
	b.WriteString(strings.Join(ids, ","))
	for _, row := range values {
		b.WriteByte('|')
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%.6f", math.Round(v*1e6)/1e6)
		}
	}
	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:16])
}
