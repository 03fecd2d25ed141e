package stats

import "math"

// Welford accumulates mean and variance in one pass without storing the
// series. Used where a window's members never need inspecting, only their
// aggregate.
type Welford struct {
	count int64
	mean  float64
	m2    float64
}

// Add folds one observation into the accumulator.
func (w *Welford) Add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observations folded in.
func (w *Welford) Count() int64 { return w.count }

// Mean returns the running mean, or 0 before any observation.
func (w *Welford) Mean() float64 { return w.mean }

// StdDev returns the running population standard deviation, matching the
// convention of StdDev on a slice. Fewer than two observations yields 0.
func (w *Welford) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// Reset clears the accumulator for reuse.
func (w *Welford) Reset() {
	w.count = 0
	w.mean = 0
	w.m2 = 0
}
