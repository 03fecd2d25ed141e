package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

type fakeHistory struct {
	series map[string][]domain.PricePoint
}

func (f fakeHistory) History(_ context.Context, marketID string, _ time.Duration) ([]domain.PricePoint, error) {
	return f.series[marketID], nil
}

func statArbTestParams() StatArbParams {
	return StatArbParams{
		MinCorrelation:   0.7,
		ZScoreThreshold:  2.0,
		ZScoreExit:       1.0,
		Lookback:         30 * 24 * time.Hour,
		MinDataPoints:    20,
		MaxPairs:         10,
		ProbSumThreshold: 1.10,
	}
}

// correlatedHistories builds two tightly correlated 20-point series whose
// spread has mean 0.10 and population standard deviation 0.01.
func correlatedHistories(now time.Time) map[string][]domain.PricePoint {
	series := map[string][]domain.PricePoint{}
	for i := 0; i < 20; i++ {
		at := now.Add(time.Duration(i-20) * time.Hour)
		a := 0.40 + float64(i)*0.01
		noise := 0.01
		if i%2 == 0 {
			noise = -0.01
		}
		b := a - 0.10 + noise
		series["MKTA"] = append(series["MKTA"], domain.PricePoint{MarketID: "MKTA", YesPrice: a, At: at})
		series["MKTB"] = append(series["MKTB"], domain.PricePoint{MarketID: "MKTB", YesPrice: b, At: at})
	}
	return series
}

// pairView builds a view with the two pair markets at the given current
// prices.
func pairView(now time.Time, priceA, priceB float64) MarketView {
	mk := func(id string, price float64) domain.Market {
		return domain.Market{
			ID:        id,
			Category:  "politics",
			YesPrice:  price,
			NoPrice:   1 - price,
			Volume:    500,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}
	}
	return MarketView{
		CycleID:   "cycle-1",
		Now:       now,
		Markets:   []domain.Market{mk("MKTA", priceA), mk("MKTB", priceB)},
		Positions: map[string][]domain.Position{},
		History:   fakeHistory{series: correlatedHistories(now)},
	}
}

func openLeg(marketID string, side domain.PositionSide) domain.Position {
	return domain.Position{
		ID:       "pos-" + marketID,
		MarketID: marketID,
		Side:     side,
		Quantity: 10,
		Strategy: NameStatArb,
		Status:   domain.PositionOpen,
	}
}

// TestStatArb_PairEntry verifies a wide spread on a qualified pair emits two
// coupled half-size legs: bearish on the rich market, bullish on the cheap
// one.
func TestStatArb_PairEntry(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	// Spread 0.125 against mean 0.10 and std 0.01: z = 2.5.
	view := pairView(now, 0.600, 0.475)

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	bySide := map[string]domain.Signal{}
	for _, s := range signals {
		bySide[s.MarketID] = s
		assert.Equal(t, NameStatArb, s.Strategy)
		assert.Equal(t, domain.DirectionBuy, s.Direction)
		assert.Equal(t, domain.PairKey("MKTA", "MKTB"), s.PairID)
		assert.False(t, s.Closing)
		assert.InDelta(t, s.Strength/2, s.Allocation, 1e-9)
	}

	require.Contains(t, bySide, "MKTA")
	require.Contains(t, bySide, "MKTB")
	assert.Equal(t, domain.SideNo, bySide["MKTA"].Side)
	assert.Equal(t, domain.SideYes, bySide["MKTB"].Side)

	pairs := sa.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, domain.PairQualified, pairs[0].Status)
	assert.GreaterOrEqual(t, pairs[0].Correlation, 0.7)
	assert.InDelta(t, 2.5, pairs[0].LastZScore, 0.05)
}

// TestStatArb_NoEntryBelowThreshold verifies a modest divergence is left
// alone.
func TestStatArb_NoEntryBelowThreshold(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	// Spread 0.11: z = 1.0, inside the entry threshold.
	view := pairView(now, 0.560, 0.450)

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)

	pairs := sa.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, domain.PairQualified, pairs[0].Status)
}

// TestStatArb_PairExit verifies open legs are closed once the spread reverts
// inside the exit threshold.
func TestStatArb_PairExit(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	// Spread 0.105: z = 0.5, inside the exit threshold.
	view := pairView(now, 0.555, 0.450)
	view.Positions = map[string][]domain.Position{
		"MKTA": {openLeg("MKTA", domain.SideNo)},
		"MKTB": {openLeg("MKTB", domain.SideYes)},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	for _, s := range signals {
		assert.True(t, s.Closing)
		assert.Equal(t, domain.DirectionSell, s.Direction)
		assert.Contains(t, s.Reason, "spread reverted")
	}
	assert.Equal(t, domain.SideNo, signals[0].Side)
	assert.Equal(t, domain.SideYes, signals[1].Side)
}

// TestStatArb_HoldBetweenThresholds verifies open legs ride while the spread
// sits between exit and entry.
func TestStatArb_HoldBetweenThresholds(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	// Spread 0.115: z = 1.5, between exit and entry.
	view := pairView(now, 0.565, 0.450)
	view.Positions = map[string][]domain.Position{
		"MKTA": {openLeg("MKTA", domain.SideNo)},
		"MKTB": {openLeg("MKTB", domain.SideYes)},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestStatArb_OrphanedLegFlattened verifies a lone leg is closed rather than
// re-hedged.
func TestStatArb_OrphanedLegFlattened(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	view := pairView(now, 0.565, 0.450)
	view.Positions = map[string][]domain.Position{
		"MKTA": {openLeg("MKTA", domain.SideNo)},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].Closing)
	assert.Equal(t, "MKTA", signals[0].MarketID)
	assert.Contains(t, signals[0].Reason, "orphaned")
}

// TestStatArb_SeedPairsSurviveRestart verifies a seeded book is visible
// without requalification.
func TestStatArb_SeedPairsSurviveRestart(t *testing.T) {
	sa := NewStatArb(statArbTestParams(), testLogger())
	sa.SeedPairs([]domain.MarketPair{{
		ID:          "pair-1",
		MarketA:     "MKTA",
		MarketB:     "MKTB",
		Correlation: 0.92,
		SpreadMean:  0.10,
		SpreadStd:   0.01,
		Status:      domain.PairQualified,
	}})

	pairs := sa.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "pair-1", pairs[0].ID)
}

// TestStatArb_UncorrelatedPairIgnored verifies noise pairs never qualify.
func TestStatArb_UncorrelatedPairIgnored(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	series := map[string][]domain.PricePoint{}
	up := []float64{}
	for i := 0; i < 20; i++ {
		up = append(up, 0.40+float64(i)*0.01)
	}
	for i := 0; i < 20; i++ {
		at := now.Add(time.Duration(i-20) * time.Hour)
		// Alternating series has near-zero correlation with a trend.
		b := 0.40
		if i%2 == 0 {
			b = 0.60
		}
		series["MKTA"] = append(series["MKTA"], domain.PricePoint{MarketID: "MKTA", YesPrice: up[i], At: at})
		series["MKTB"] = append(series["MKTB"], domain.PricePoint{MarketID: "MKTB", YesPrice: b, At: at})
	}

	view := pairView(now, 0.60, 0.40)
	view.History = fakeHistory{series: series}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Empty(t, sa.Pairs())
}

// TestStatArb_ProbabilityArbitrageOverround verifies an exclusive group
// pricing above certainty buys NO across every member.
func TestStatArb_ProbabilityArbitrageOverround(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	mk := func(id string, price float64) domain.Market {
		return domain.Market{
			ID:        id,
			Category:  "politics",
			YesPrice:  price,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}
	}
	members := []domain.Market{mk("CAND-A", 0.45), mk("CAND-B", 0.40), mk("CAND-C", 0.30)}

	view := MarketView{
		CycleID:   "cycle-1",
		Now:       now,
		Positions: map[string][]domain.Position{},
		Groups:    map[string][]domain.Market{"g1": members},
		History:   fakeHistory{series: map[string][]domain.PricePoint{}},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 3)

	for _, s := range signals {
		assert.Equal(t, domain.SideNo, s.Side)
		assert.Equal(t, domain.DirectionBuy, s.Direction)
		assert.Equal(t, "grp:g1", s.PairID)
		assert.InDelta(t, 1.0, s.Strength, 1e-9)
		assert.InDelta(t, 1.0/3.0, s.Allocation, 1e-9)
	}
}

// TestStatArb_ProbabilityArbitrageUnderround verifies a group pricing below
// its mirror threshold buys YES across every member.
func TestStatArb_ProbabilityArbitrageUnderround(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	mk := func(id string, price float64) domain.Market {
		return domain.Market{
			ID:        id,
			YesPrice:  price,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}
	}
	view := MarketView{
		Now:       now,
		Positions: map[string][]domain.Position{},
		Groups: map[string][]domain.Market{
			"g1": {mk("CAND-A", 0.25), mk("CAND-B", 0.30), mk("CAND-C", 0.30)},
		},
		History: fakeHistory{series: map[string][]domain.PricePoint{}},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	for _, s := range signals {
		assert.Equal(t, domain.SideYes, s.Side)
	}
}

// TestStatArb_GroupNearOneIgnored verifies a fairly priced group produces
// nothing.
func TestStatArb_GroupNearOneIgnored(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	mk := func(id string, price float64) domain.Market {
		return domain.Market{
			ID:        id,
			YesPrice:  price,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}
	}
	view := MarketView{
		Now:       now,
		Positions: map[string][]domain.Position{},
		Groups: map[string][]domain.Market{
			"g1": {mk("CAND-A", 0.50), mk("CAND-B", 0.52)},
		},
		History: fakeHistory{series: map[string][]domain.PricePoint{}},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestStatArb_GroupWithPositionSkipped verifies no stacking onto a group the
// book already holds.
func TestStatArb_GroupWithPositionSkipped(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	sa := NewStatArb(statArbTestParams(), testLogger())

	mk := func(id string, price float64) domain.Market {
		return domain.Market{
			ID:        id,
			YesPrice:  price,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}
	}
	view := MarketView{
		Now: now,
		Positions: map[string][]domain.Position{
			"CAND-A": {openLeg("CAND-A", domain.SideNo)},
		},
		Groups: map[string][]domain.Market{
			"g1": {mk("CAND-A", 0.45), mk("CAND-B", 0.40), mk("CAND-C", 0.30)},
		},
		History: fakeHistory{series: map[string][]domain.PricePoint{}},
	}

	signals, err := sa.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
