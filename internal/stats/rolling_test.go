package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMean_Empty verifies the empty-series convention.
func TestMean_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
}

// TestMean_Basic checks a simple average.
func TestMean_Basic(t *testing.T) {
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
}

// TestStdDev_PopulationConvention checks the population (not sample) formula.
func TestStdDev_PopulationConvention(t *testing.T) {
	// Var([2,4,4,4,5,5,7,9]) = 4 under the population convention.
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, StdDev(xs), 1e-12)
}

// TestStdDev_TooFewPoints verifies that one point yields zero.
func TestStdDev_TooFewPoints(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{5}))
}

// TestZScore_Basic checks the standard score.
func TestZScore_Basic(t *testing.T) {
	assert.InDelta(t, 2.5, ZScore(1.5, 1.0, 0.2), 1e-12)
}

// TestZScore_DegenerateStd verifies that near-zero variance yields zero
// instead of a blowup.
func TestZScore_DegenerateStd(t *testing.T) {
	assert.Equal(t, 0.0, ZScore(1.5, 1.0, 0))
	assert.Equal(t, 0.0, ZScore(1.5, 1.0, 1e-15))
}

// TestReturns_Basic converts prices to simple returns.
func TestReturns_Basic(t *testing.T) {
	rets := Returns([]float64{100, 110, 99})
	assert.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-12)
	assert.InDelta(t, -0.10, rets[1], 1e-12)
}

// TestReturns_SkipsZeroPrices verifies bad ticks do not divide by zero.
func TestReturns_SkipsZeroPrices(t *testing.T) {
	rets := Returns([]float64{100, 0, 110})
	assert.Len(t, rets, 1)
}

// TestPercentile_Interpolation checks linear interpolation between ranks.
func TestPercentile_Interpolation(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.InDelta(t, 1.0, Percentile(xs, 0), 1e-12)
	assert.InDelta(t, 4.0, Percentile(xs, 1), 1e-12)
	assert.InDelta(t, 2.5, Percentile(xs, 0.5), 1e-12)
}

// TestClamp_Bounds checks both bounds.
func TestClamp_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, Clamp(2, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}
