package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// TestComputeMetrics_QuietBookIsLow verifies a flat, profitable book reports
// low risk.
func TestComputeMetrics_QuietBookIsLow(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.Exposure = 0.10

	metrics := m.ComputeMetrics(MetricsInput{
		State:        state,
		DailyReturns: []float64{0.001, 0.002, -0.001, 0.003, 0.001},
		EquityCurve:  []float64{25_000, 25_050, 25_100, 25_075, 25_150},
		TradePnLs:    []float64{50, 100, -25, 75},
		Now:          evalAt(),
	})

	assert.Equal(t, domain.RiskLow, metrics.Level)
	assert.Empty(t, metrics.Factors)
	assert.InDelta(t, 0.75, metrics.WinRate, 1e-9)
	assert.GreaterOrEqual(t, metrics.VaR95, 0.0)
}

// TestComputeMetrics_FactorsEscalateLevel verifies the level climbs with each
// limit under pressure.
func TestComputeMetrics_FactorsEscalateLevel(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.Exposure = 0.70 // past 80% of the 0.80 cap
	state.DailyRealizedPnL = -450

	metrics := m.ComputeMetrics(MetricsInput{
		State:        state,
		DailyReturns: []float64{0.001, -0.002, 0.001},
		EquityCurve:  []float64{25_000, 24_900, 25_000},
		Now:          evalAt(),
	})

	assert.Equal(t, domain.RiskHigh, metrics.Level)
	require.Len(t, metrics.Factors, 2)
	assert.Contains(t, metrics.Factors, "exposure near cap")
	assert.Contains(t, metrics.Factors, "daily loss near limit")
}

// TestComputeMetrics_CriticalAtThreeFactors verifies three pressured limits
// report critical.
func TestComputeMetrics_CriticalAtThreeFactors(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.Exposure = 0.75
	state.DailyRealizedPnL = -480
	state.OpenPositions = 9

	metrics := m.ComputeMetrics(MetricsInput{
		State:        state,
		DailyReturns: []float64{0.001, -0.001},
		EquityCurve:  []float64{25_000, 25_000},
		Now:          evalAt(),
	})

	assert.Equal(t, domain.RiskCritical, metrics.Level)
	assert.GreaterOrEqual(t, len(metrics.Factors), 3)
}

// TestComputeMetrics_EmptySeries verifies no history degrades to zeros, not
// panics.
func TestComputeMetrics_EmptySeries(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	metrics := m.ComputeMetrics(MetricsInput{State: flatState(25_000), Now: evalAt()})

	assert.Zero(t, metrics.VaR95)
	assert.Zero(t, metrics.SharpeRatio)
	assert.Zero(t, metrics.MaxDrawdown)
	assert.Zero(t, metrics.WinRate)
	assert.Equal(t, domain.RiskLow, metrics.Level)
}
