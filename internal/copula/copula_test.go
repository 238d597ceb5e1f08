package copula_test

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/copula"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// ksStatistic is the one-sample Kolmogorov-Smirnov distance to U(0,1)
func ksStatistic(sample []float64) float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	d := 0.0
	for i, x := range sorted {
		d = math.Max(d, math.Max(float64(i+1)/n-x, x-float64(i)/n))
	}
	return d
}

func column(samples [][]float64, j int) []float64 {
	out := make([]float64, len(samples))
	for i, row := range samples {
		out[i] = row[j]
	}
	return out
}

func assertUniformMarginals(t *testing.T, samples [][]float64, dim int) {
	t.Helper()
	// alpha = 0.001
	critical := 1.95 / math.Sqrt(float64(len(samples)))
	for j := 0; j < dim; j++ {
		col := column(samples, j)
		for _, u := range col {
			require.True(t, u >= 0 && u <= 1, "uniform out of range: %v", u)
		}
		assert.Less(t, ksStatistic(col), critical, "marginal %d is not uniform", j)
	}
}

func TestGaussian_UniformMarginals(t *testing.T) {
	values := [][]float64{
		{1, 0.6, -0.3},
		{0.6, 1, 0.2},
		{-0.3, 0.2, 1},
	}
	result := copula.Fit(models.CopulaGaussian, values)
	require.False(t, result.Degraded(), result.Reason)
	assert.Equal(t, models.CopulaGaussian, result.Copula.Family())

	samples, degraded := copula.Sample(result.Copula, rand.New(rand.NewSource(7)), 5000)
	require.False(t, degraded)
	assertUniformMarginals(t, samples, 3)

	// Rank correlation of a Gaussian copula is 6/π·asin(ρ/2)
	x, y := column(samples, 0), column(samples, 1)
	tau := stat.Kendall(x, y, nil)
	assert.InDelta(t, copula.KendallFromPearson(0.6), tau, 0.03)
}

func TestGaussian_SingularMatrixUsesEigenFactor(t *testing.T) {
	tests := []struct {
		name   string
		values [][]float64
		equal  [2]int
	}{
		{
			name:   "perfectly dependent pair",
			values: [][]float64{{1, 1}, {1, 1}},
			equal:  [2]int{0, 1},
		},
		{
			name:   "duplicated leg in triple",
			values: [][]float64{{1, 0.5, 0.5}, {0.5, 1, 1}, {0.5, 1, 1}},
			equal:  [2]int{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := copula.Fit(models.CopulaGaussian, tt.values)
			require.False(t, result.Degraded(), result.Reason)
			assert.Equal(t, models.CopulaGaussian, result.Copula.Family())

			dim := len(tt.values)
			samples, degraded := copula.Sample(result.Copula, rand.New(rand.NewSource(11)), 4000)
			require.False(t, degraded)
			assertUniformMarginals(t, samples, dim)

			for _, row := range samples {
				assert.InDelta(t, row[tt.equal[0]], row[tt.equal[1]], 1e-6)
			}
		})
	}
}

func TestGaussian_IndefiniteMatrixDegrades(t *testing.T) {
	values := [][]float64{{1, 1.5}, {1.5, 1}}
	result := copula.Fit(models.CopulaGaussian, values)

	assert.True(t, result.Degraded())
	assert.Equal(t, models.CopulaIndependent, result.Copula.Family())
	assert.Equal(t, models.CopulaGaussian, result.Requested)
	assert.NotEmpty(t, result.Reason)
}

func TestClayton_FitAndSample(t *testing.T) {
	values := [][]float64{{1, 0.5}, {0.5, 1}}
	result := copula.Fit(models.CopulaClayton, values)
	require.False(t, result.Degraded(), result.Reason)

	clayton, ok := result.Copula.(*copula.Clayton)
	require.True(t, ok)
	tau := copula.KendallFromPearson(0.5)
	assert.InDelta(t, 2*tau/(1-tau), clayton.Theta(), 1e-12)
	assert.InDelta(t, tau, clayton.Tau(), 1e-12)

	samples, degraded := copula.Sample(clayton, rand.New(rand.NewSource(11)), 5000)
	require.False(t, degraded)
	assertUniformMarginals(t, samples, 2)

	empirical := stat.Kendall(column(samples, 0), column(samples, 1), nil)
	assert.InDelta(t, tau, empirical, 0.03)
}

func TestClayton_Degrades(t *testing.T) {
	tests := []struct {
		name   string
		values [][]float64
	}{
		{"three legs", [][]float64{{1, 0.3, 0.3}, {0.3, 1, 0.3}, {0.3, 0.3, 1}}},
		{"negative dependence", [][]float64{{1, -0.4}, {-0.4, 1}}},
		{"no dependence", [][]float64{{1, 0}, {0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := copula.Fit(models.CopulaClayton, tt.values)
			assert.True(t, result.Degraded())
			assert.Equal(t, models.CopulaIndependent, result.Copula.Family())
			assert.Equal(t, len(tt.values), result.Copula.Dim())
		})
	}
}

func TestFitSamples_RecoversDependence(t *testing.T) {
	source := copula.Fit(models.CopulaGaussian, [][]float64{{1, 0.7}, {0.7, 1}})
	require.False(t, source.Degraded())

	samples, _ := copula.Sample(source.Copula, rand.New(rand.NewSource(3)), 2000)
	columns := [][]float64{column(samples, 0), column(samples, 1)}

	gaussian := copula.FitSamples(models.CopulaGaussian, columns)
	require.False(t, gaussian.Degraded(), gaussian.Reason)

	clayton := copula.FitSamples(models.CopulaClayton, columns)
	require.False(t, clayton.Degraded(), clayton.Reason)
	assert.InDelta(t, copula.KendallFromPearson(0.7), clayton.Copula.(*copula.Clayton).Tau(), 0.05)

	short := copula.FitSamples(models.CopulaGaussian, [][]float64{{0.1, 0.2}, {0.3, 0.4}})
	assert.True(t, short.Degraded())
}

func TestIndependent(t *testing.T) {
	result := copula.Fit(models.CopulaIndependent, [][]float64{{1, 0.9}, {0.9, 1}})
	require.False(t, result.Degraded())

	samples, _ := copula.Sample(result.Copula, rand.New(rand.NewSource(5)), 5000)
	assertUniformMarginals(t, samples, 2)
	assert.InDelta(t, 0, stat.Kendall(column(samples, 0), column(samples, 1), nil), 0.03)
}

func TestSample_Deterministic(t *testing.T) {
	result := copula.Fit(models.CopulaGaussian, [][]float64{{1, 0.4}, {0.4, 1}})
	a, _ := copula.Sample(result.Copula, rand.New(rand.NewSource(99)), 100)
	b, _ := copula.Sample(copula.ForWorker(result.Copula), rand.New(rand.NewSource(99)), 100)
	assert.Equal(t, a, b)
}

func TestParseFamily(t *testing.T) {
	family, err := copula.ParseFamily("")
	require.NoError(t, err)
	assert.Equal(t, models.CopulaGaussian, family)

	family, err = copula.ParseFamily(" Clayton ")
	require.NoError(t, err)
	assert.Equal(t, models.CopulaClayton, family)

	_, err = copula.ParseFamily("frank")
	assert.ErrorIs(t, err, models.ErrUnknownCopula)
}
