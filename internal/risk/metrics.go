package risk

import (
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/stats"
)

// MetricsInput bundles the series the periodic metrics computation consumes.
// All series run oldest first.
type MetricsInput struct {
	State        domain.PortfolioState
	DailyReturns []float64 // fractional daily returns of total value
	EquityCurve  []float64 // daily closing total values
	TradePnLs    []float64 // realized PnL per closing trade
	Now          time.Time
}

// ComputeMetrics derives the portfolio's statistical risk report and
// classifies the overall risk level from how many limits are under pressure.
func (m *Manager) ComputeMetrics(in MetricsInput) domain.RiskMetrics {
	limits := m.Limits()

	out := domain.RiskMetrics{
		VaR95:             stats.HistoricalVaR(in.DailyReturns, 0.95),
		VaR99:             stats.HistoricalVaR(in.DailyReturns, 0.99),
		ExpectedShortfall: stats.ExpectedShortfall(in.DailyReturns, limits.VaRConfidence),
		SharpeRatio:       stats.SharpeRatio(in.DailyReturns, 0),
		MaxDrawdown:       stats.MaxDrawdown(in.EquityCurve),
		CurrentDrawdown:   stats.CurrentDrawdown(in.EquityCurve),
		WinRate:           stats.WinRate(in.TradePnLs),
		ProfitFactor:      stats.ProfitFactor(in.TradePnLs),
		ComputedAt:        in.Now,
	}

	out.Level, out.Factors = m.classify(in.State, out, limits)
	return out
}

// classify counts the limits under pressure: none is low, one is medium, two
// is high, three or more is critical.
func (m *Manager) classify(state domain.PortfolioState, metrics domain.RiskMetrics, limits domain.RiskLimits) (domain.RiskLevel, []string) {
	var factors []string

	if limits.MaxPortfolioExposure > 0 && state.Exposure >= limits.WarnFraction*limits.MaxPortfolioExposure {
		factors = append(factors, "exposure near cap")
	}
	if lossLimit := limits.MaxDailyLoss * state.TotalValue; lossLimit > 0 && state.DailyLoss() >= limits.WarnFraction*lossLimit {
		factors = append(factors, "daily loss near limit")
	}
	if limits.MaxOpenPositions > 0 && float64(state.OpenPositions) >= limits.WarnFraction*float64(limits.MaxOpenPositions) {
		factors = append(factors, "position count near limit")
	}
	if limits.MaxDailyLoss > 0 && metrics.VaR95 >= limits.MaxDailyLoss {
		factors = append(factors, "VaR above daily loss budget")
	}
	if limits.MaxDailyLoss > 0 && metrics.CurrentDrawdown >= limits.MaxDailyLoss {
		factors = append(factors, "drawdown beyond daily loss budget")
	}

	switch len(factors) {
	case 0:
		return domain.RiskLow, factors
	case 1:
		return domain.RiskMedium, factors
	case 2:
		return domain.RiskHigh, factors
	default:
		return domain.RiskCritical, factors
	}
}
