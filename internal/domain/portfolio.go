package domain

import "time"

// RiskLevel classifies the portfolio's current risk posture.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PortfolioState is a derived, point-in-time view of the portfolio. It is
// recomputed from the ledger and latest prices on every risk check and on the
// metrics timer; it is never mutated independently and never cached across
// cycles.
type PortfolioState struct {
	CashBalance   float64
	PositionValue float64 // sum of open-position market values
	TotalValue    float64 // cash + position value
	Exposure      float64 // PositionValue / TotalValue, [0,1]

	OpenPositions    int
	StrategyExposure map[string]float64 // fraction of total value per strategy
	MarketExposure   map[string]float64 // fraction of total value per market

	RealizedPnL   float64
	UnrealizedPnL float64

	DailyRealizedPnL float64 // realized PnL since the daily reset
	DailyTradeCount  int

	// Correlations holds the latest pairwise price correlations for markets
	// with open exposure, keyed "marketA|marketB" with A < B.
	Correlations map[string]float64

	ComputedAt time.Time
}

// DailyLoss is the day's combined realized and unrealized loss as a positive
// number; zero when the day is flat or profitable.
func (s PortfolioState) DailyLoss() float64 {
	loss := s.DailyRealizedPnL + s.UnrealizedPnL
	if loss >= 0 {
		return 0
	}
	return -loss
}

// RiskMetrics is the slower-moving statistical report computed on the metrics
// timer from the trade log's realized daily-return series.
type RiskMetrics struct {
	VaR95             float64 // historical-simulation one-day VaR, fraction of value
	VaR99             float64
	ExpectedShortfall float64 // mean loss beyond VaR95
	SharpeRatio       float64 // annualized
	MaxDrawdown       float64 // worst peak-to-trough decline, [0,1]
	CurrentDrawdown   float64 // decline from the running peak, [0,1]
	WinRate           float64
	ProfitFactor      float64
	Level             RiskLevel
	Factors           []string // human-readable contributors to Level
	ComputedAt        time.Time
}

// RiskSnapshot is the persisted pairing of portfolio state and metrics.
type RiskSnapshot struct {
	ID         int64
	State      PortfolioState
	Metrics    RiskMetrics
	RecordedAt time.Time
}
