package stats

import "math"

// tradingDaysPerYear annualizes daily-return statistics.
const tradingDaysPerYear = 252

// SharpeRatio returns the annualized Sharpe ratio of a daily-return series.
// Zero or degenerate volatility yields 0 rather than an infinite ratio.
func SharpeRatio(dailyReturns []float64, riskFreeDaily float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	mean := Mean(dailyReturns)
	std := StdDev(dailyReturns)
	if std < 1e-10 {
		return 0
	}
	return (mean - riskFreeDaily) / std * math.Sqrt(tradingDaysPerYear)
}

// HistoricalVaR returns the one-period value-at-risk at the given confidence
// (e.g. 0.95) from a return series, expressed as a positive loss fraction.
// The estimate is the loss at the (1-confidence) percentile of the empirical
// distribution; a profitable tail yields 0.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	loss := -Percentile(returns, 1-confidence)
	if loss < 0 {
		return 0
	}
	return loss
}

// ExpectedShortfall returns the mean loss beyond the VaR cutoff at the given
// confidence, as a positive fraction. With no tail observations it falls back
// to the VaR itself.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cutoff := -HistoricalVaR(returns, confidence)
	var tail []float64
	for _, r := range returns {
		if r <= cutoff {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return HistoricalVaR(returns, confidence)
	}
	es := -Mean(tail)
	if es < 0 {
		return 0
	}
	return es
}

// MaxDrawdown returns the worst peak-to-trough decline of an equity curve as
// a fraction of the peak, in [0,1].
func MaxDrawdown(equity []float64) float64 {
	var peak, maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CurrentDrawdown returns the decline of the final equity value from the
// running peak, as a fraction of the peak.
func CurrentDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	var peak float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity[len(equity)-1]) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

// WinRate returns the fraction of strictly positive outcomes in pnls.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	var wins int
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// ProfitFactor returns gross profit divided by gross loss. All-winning
// series report 0 to avoid a misleading infinity; callers treat 0 with a
// positive win rate as "no losses yet".
func ProfitFactor(pnls []float64) float64 {
	var grossProfit, grossLoss float64
	for _, p := range pnls {
		if p > 0 {
			grossProfit += p
		} else {
			grossLoss += -p
		}
	}
	if grossLoss == 0 {
		return 0
	}
	return grossProfit / grossLoss
}
