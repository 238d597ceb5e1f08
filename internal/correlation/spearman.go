package correlation

import (
	"math"
	"sort"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// Ranks assigns 1-based ranks; tied values share their average rank
func Ranks(x []float64) []float64 {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i + 1
		for j < n && x[order[j]] == x[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}
	return ranks
}

// Spearman returns the rank correlation of two aligned samples.
// ok is false when the samples are too short or either is constant.
func Spearman(x, y []float64) (rho float64, ok bool) {
	if len(x) != len(y) || len(x) < 3 {
		return 0, false
	}

	rho = stat.Correlation(Ranks(x), Ranks(y), nil)
	if math.IsNaN(rho) || math.IsInf(rho, 0) {
		return 0, false
	}
	return clip(rho), true
}

// AlignResiduals pairs observations of two legs sharing the same key, in b's order
func AlignResiduals(a, b []models.ResidualObservation) (x, y []float64) {
	byKey := make(map[string]float64, len(a))
	for _, obs := range a {
		byKey[obs.Key] = obs.Value
	}

	seen := make(map[string]struct{}, len(b))
	for _, obs := range b {
		v, ok := byKey[obs.Key]
		if !ok {
			continue
		}
		if _, dup := seen[obs.Key]; dup {
			continue
		}
		seen[obs.Key] = struct{}{}
		x = append(x, v)
		y = append(y, obs.Value)
	}
	return x, y
}

func clip(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
