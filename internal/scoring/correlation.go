package scoring

import (
	"math"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

// CorrelationStats summarizes the pairwise correlations inside one slip
type CorrelationStats struct {
	Max     float64
	MaxAbs  float64
	Average float64
	SumAbs  float64
	Pairs   int
}

// Correlations computes stats over the sub-matrix picked out by indices.
// Max and Average are signed; SumAbs feeds the objective penalty.
func Correlations(matrix *models.CorrelationMatrix, indices []int) CorrelationStats {
	var stats CorrelationStats
	if matrix == nil || len(indices) < 2 {
		return stats
	}

	sum := 0.0
	stats.Max = math.Inf(-1)
	for a := 0; a < len(indices); a++ {
		for b := a + 1; b < len(indices); b++ {
			rho := matrix.At(indices[a], indices[b])
			sum += rho
			stats.SumAbs += math.Abs(rho)
			stats.Max = math.Max(stats.Max, rho)
			stats.MaxAbs = math.Max(stats.MaxAbs, math.Abs(rho))
			stats.Pairs++
		}
	}
	stats.Average = sum / float64(stats.Pairs)
	return stats
}
