package stats

import "math"

// Correlation returns the Pearson correlation coefficient of two equal-length
// series. Mismatched lengths are truncated to the shorter tail so two price
// histories sampled on the same cadence stay aligned on their most recent
// observations. Degenerate variance on either side yields 0.
func Correlation(xs, ys []float64) float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < 2 {
		return 0
	}
	xs = xs[len(xs)-n:]
	ys = ys[len(ys)-n:]

	meanX := Mean(xs)
	meanY := Mean(ys)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX <= 1e-12 || varY <= 1e-12 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// Spread returns the element-wise difference of two aligned price series,
// truncated to the shorter tail like Correlation.
func Spread(xs, ys []float64) []float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n == 0 {
		return nil
	}
	xs = xs[len(xs)-n:]
	ys = ys[len(ys)-n:]

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = xs[i] - ys[i]
	}
	return out
}
