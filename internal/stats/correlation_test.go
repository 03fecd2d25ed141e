package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCorrelation_PerfectPositive verifies linearly dependent series score 1.
func TestCorrelation_PerfectPositive(t *testing.T) {
	xs := []float64{0.40, 0.42, 0.45, 0.43, 0.48}
	ys := []float64{0.30, 0.32, 0.35, 0.33, 0.38}
	assert.InDelta(t, 1.0, Correlation(xs, ys), 1e-9)
}

// TestCorrelation_PerfectNegative verifies inverse series score -1.
func TestCorrelation_PerfectNegative(t *testing.T) {
	xs := []float64{0.40, 0.42, 0.45, 0.43, 0.48}
	ys := []float64{0.60, 0.58, 0.55, 0.57, 0.52}
	assert.InDelta(t, -1.0, Correlation(xs, ys), 1e-9)
}

// TestCorrelation_DegenerateVariance verifies a flat series yields zero.
func TestCorrelation_DegenerateVariance(t *testing.T) {
	xs := []float64{0.50, 0.50, 0.50, 0.50}
	ys := []float64{0.30, 0.35, 0.32, 0.38}
	assert.Equal(t, 0.0, Correlation(xs, ys))
}

// TestCorrelation_MismatchedLengths verifies tail alignment on the shorter
// series rather than an error.
func TestCorrelation_MismatchedLengths(t *testing.T) {
	xs := []float64{9, 9, 9, 0.40, 0.42, 0.45}
	ys := []float64{0.40, 0.42, 0.45}
	assert.InDelta(t, 1.0, Correlation(xs, ys), 1e-9)
}

// TestCorrelation_TooShort verifies sub-minimal series yield zero.
func TestCorrelation_TooShort(t *testing.T) {
	assert.Equal(t, 0.0, Correlation([]float64{1}, []float64{2}))
}

// TestSpread_Alignment verifies element-wise difference over aligned tails.
func TestSpread_Alignment(t *testing.T) {
	xs := []float64{0.9, 0.50, 0.60}
	ys := []float64{0.40, 0.45}
	spread := Spread(xs, ys)
	assert.Equal(t, []float64{0.50 - 0.40, 0.60 - 0.45}, spread)
}

// TestWelford_MatchesDirect verifies the accumulator against the direct
// two-pass computation.
func TestWelford_MatchesDirect(t *testing.T) {
	xs := []float64{0.42, 0.45, 0.39, 0.47, 0.44, 0.41}

	var w Welford
	for _, x := range xs {
		w.Add(x)
	}

	assert.EqualValues(t, len(xs), w.Count())
	assert.InDelta(t, Mean(xs), w.Mean(), 1e-12)
	assert.InDelta(t, StdDev(xs), w.StdDev(), 1e-9)
}

// TestWelford_Reset verifies reuse after Reset.
func TestWelford_Reset(t *testing.T) {
	var w Welford
	w.Add(1)
	w.Add(2)
	w.Reset()
	assert.EqualValues(t, 0, w.Count())
	assert.Equal(t, 0.0, w.Mean())
	assert.Equal(t, 0.0, w.StdDev())
}
