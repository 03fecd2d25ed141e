package strategy

import (
	"sync"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/stats"
)

// observation records a single price and volume reading at a point in time.
type observation struct {
	Price  float64
	Volume float64
	Time   time.Time
}

// MarketTracker maintains a sliding window of recent price and volume
// observations for each market and exposes the statistical helpers the
// sentiment strategy relies on.
type MarketTracker struct {
	mu      sync.RWMutex
	history map[string][]observation
	window  time.Duration
}

// NewMarketTracker creates a MarketTracker. The window parameter controls how
// far back the in-memory history extends; points older than the window are
// discarded on every Track call.
func NewMarketTracker(window time.Duration) *MarketTracker {
	return &MarketTracker{
		history: make(map[string][]observation),
		window:  window,
	}
}

// Track records a new observation for the given market and trims points that
// have fallen outside the sliding window.
func (mt *MarketTracker) Track(marketID string, price, volume float64, ts time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.history[marketID] = append(mt.history[marketID], observation{
		Price:  price,
		Volume: volume,
		Time:   ts,
	})
	mt.trim(marketID, ts)
}

// Count returns the number of observations currently inside the window.
func (mt *MarketTracker) Count(marketID string) int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.history[marketID])
}

// Momentum returns the relative price change from the oldest to the newest
// observation in the window. With fewer than two points, or a zero starting
// price, it returns 0.
func (mt *MarketTracker) Momentum(marketID string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[marketID]
	if len(pts) < 2 {
		return 0
	}
	first := pts[0].Price
	if first == 0 {
		return 0
	}
	last := pts[len(pts)-1].Price
	return (last - first) / first
}

// AvgVolume returns the arithmetic mean of the volumes in the window,
// excluding the most recent observation so a surge does not inflate its own
// baseline. With fewer than two points it returns 0.
func (mt *MarketTracker) AvgVolume(marketID string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[marketID]
	if len(pts) < 2 {
		return 0
	}
	vols := make([]float64, 0, len(pts)-1)
	for _, p := range pts[:len(pts)-1] {
		vols = append(vols, p.Volume)
	}
	return stats.Mean(vols)
}

// Volatility returns the population standard deviation of the prices in the
// window. With fewer than two points it returns 0.
func (mt *MarketTracker) Volatility(marketID string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[marketID]
	if len(pts) < 2 {
		return 0
	}
	prices := make([]float64, 0, len(pts))
	for _, p := range pts {
		prices = append(prices, p.Price)
	}
	return stats.StdDev(prices)
}

// trim removes all points older than the window relative to the reference
// time. The caller must hold mt.mu.
func (mt *MarketTracker) trim(marketID string, now time.Time) {
	cutoff := now.Add(-mt.window)
	pts := mt.history[marketID]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		mt.history[marketID] = pts[i:]
	}
}
