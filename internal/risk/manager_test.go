package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPortfolioExposure: 0.80,
		MaxPositionSize:      0.10,
		MaxOpenPositions:     10,
		MaxDailyTrades:       20,
		MaxDailyLoss:         0.02,
		StopLossEnabled:      true,
		StopLossPct:          0.05,
		MaxCorrelation:       0.70,
		VaRConfidence:        0.95,
		WarnFraction:         0.80,
	}
}

func flatState(totalValue float64) domain.PortfolioState {
	return domain.PortfolioState{
		CashBalance:      totalValue,
		TotalValue:       totalValue,
		StrategyExposure: map[string]float64{},
		MarketExposure:   map[string]float64{},
		Correlations:     map[string]float64{},
	}
}

func buyOrder(marketID string, qty int64, price float64) domain.Order {
	return domain.Order{
		ID:         "ord-1",
		MarketID:   marketID,
		Side:       domain.SideYes,
		Direction:  domain.DirectionBuy,
		Quantity:   qty,
		LimitPrice: price,
	}
}

func evalAt() time.Time {
	return time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
}

// TestEvaluateOrder_ApprovesWithinLimits verifies a clean book approves an
// in-bounds order untouched.
func TestEvaluateOrder_ApprovesWithinLimits(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	dec := m.EvaluateOrder(Request{
		Order: buyOrder("MKTA", 100, 0.50),
		State: flatState(25_000),
		Now:   evalAt(),
	})

	assert.True(t, dec.Approved)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(100), dec.Order.Quantity)
	assert.Zero(t, dec.ScaledFrom)
	assert.False(t, dec.Halt)
}

// TestEvaluateOrder_DailyTradeLimitFirst verifies the trade-count check fires
// before every other violation present in the same request.
func TestEvaluateOrder_DailyTradeLimitFirst(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyTradeCount = 20
	state.DailyRealizedPnL = -600 // also past the daily loss limit

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})

	assert.False(t, dec.Approved)
	assert.Equal(t, domain.RejectDailyTradeLimit, dec.Reason)
	assert.False(t, dec.Halt)
}

// TestEvaluateOrder_DailyLossHalts verifies a 510 loss against a 500 limit
// (2% of 25k) rejects and raises the halt flag.
func TestEvaluateOrder_DailyLossHalts(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyRealizedPnL = -300
	state.UnrealizedPnL = -210

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})

	assert.False(t, dec.Approved)
	assert.Equal(t, domain.RejectDailyLossLimit, dec.Reason)
	assert.True(t, dec.Halt)
}

// TestEvaluateOrder_ProfitableDayNotHalted verifies unrealized losses offset
// by realized gains stay under the limit.
func TestEvaluateOrder_ProfitableDayNotHalted(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyRealizedPnL = 400
	state.UnrealizedPnL = -350

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})
	assert.True(t, dec.Approved)
}

// TestEvaluateOrder_PositionCountLimit verifies a new market is rejected at
// the position cap while an add to a held market is not.
func TestEvaluateOrder_PositionCountLimit(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.OpenPositions = 10
	state.Exposure = 0.04
	state.PositionValue = 1000
	state.MarketExposure["MKTB"] = 0.004

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})
	assert.False(t, dec.Approved)
	assert.Equal(t, domain.RejectPositionLimit, dec.Reason)

	add := m.EvaluateOrder(Request{Order: buyOrder("MKTB", 100, 0.50), State: state, Now: evalAt()})
	assert.True(t, add.Approved)
}

// TestEvaluateOrder_PositionSizeScalesDown verifies an oversized order is
// scaled into the per-market headroom instead of being rejected.
func TestEvaluateOrder_PositionSizeScalesDown(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	// Cap is 10% of 10k = 1000; 3000 contracts at 0.50 ask for 1500.
	dec := m.EvaluateOrder(Request{
		Order: buyOrder("MKTA", 3000, 0.50),
		State: flatState(10_000),
		Now:   evalAt(),
	})

	assert.True(t, dec.Approved)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(2000), dec.Order.Quantity)
	assert.Equal(t, int64(3000), dec.ScaledFrom)
	assert.Contains(t, dec.Detail, "scaled from 3000 to 2000")
}

// TestEvaluateOrder_PositionSizeNoHeadroom verifies scaling below one
// contract rejects with the position reason.
func TestEvaluateOrder_PositionSizeNoHeadroom(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(10_000)
	state.Exposure = 0.10
	state.PositionValue = 1000
	state.MarketExposure["MKTA"] = 0.10 // market cap fully used

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})

	assert.False(t, dec.Approved)
	assert.Equal(t, domain.RejectPositionLimit, dec.Reason)
}

// TestEvaluateOrder_ExposureScalesAfterPositionCheck verifies the portfolio
// cap can shrink an order a second time.
func TestEvaluateOrder_ExposureScalesAfterPositionCheck(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSize = 0.50
	limits.MaxPortfolioExposure = 0.50
	m := NewManager(limits, testLogger())

	state := flatState(10_000)
	state.Exposure = 0.49
	state.PositionValue = 4900

	// Position headroom is 5000; exposure headroom is only 100.
	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 1000, 0.50), State: state, Now: evalAt()})

	assert.True(t, dec.Approved)
	require.NotNil(t, dec.Order)
	assert.Equal(t, int64(200), dec.Order.Quantity)
	assert.Equal(t, int64(1000), dec.ScaledFrom)
}

// TestEvaluateOrder_ExposureNoHeadroom verifies a fully deployed book rejects
// with the exposure reason.
func TestEvaluateOrder_ExposureNoHeadroom(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSize = 0.50
	limits.MaxPortfolioExposure = 0.50
	m := NewManager(limits, testLogger())

	state := flatState(10_000)
	state.Exposure = 0.50
	state.PositionValue = 5000

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})

	assert.False(t, dec.Approved)
	assert.Equal(t, domain.RejectExposureLimit, dec.Reason)
}

// TestEvaluateOrder_StopLossScopedToBreachedMarket verifies a position
// through its stop freezes new risk on that market only: the unwind and
// unrelated markets both pass.
func TestEvaluateOrder_StopLossScopedToBreachedMarket(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	stopped := domain.Position{
		ID:            "pos-1",
		MarketID:      "MKTB",
		Side:          domain.SideYes,
		Quantity:      100,
		AvgEntryPrice: 0.50,
		CurrentPrice:  0.47, // -6% against a 5% stop
		Status:        domain.PositionOpen,
	}
	state := flatState(25_000)
	state.OpenPositions = 1
	state.Exposure = 0.00188
	state.MarketExposure["MKTB"] = 0.00188

	addToBreached := m.EvaluateOrder(Request{
		Order:     buyOrder("MKTB", 100, 0.47),
		State:     state,
		Positions: []domain.Position{stopped},
		Now:       evalAt(),
	})
	assert.False(t, addToBreached.Approved)
	assert.Equal(t, domain.RejectStopLossActive, addToBreached.Reason)

	// An unrelated market is not frozen by someone else's stop.
	unrelated := m.EvaluateOrder(Request{
		Order:     buyOrder("MKTA", 100, 0.50),
		State:     state,
		Positions: []domain.Position{stopped},
		Now:       evalAt(),
	})
	assert.True(t, unrelated.Approved)

	closing := m.EvaluateOrder(Request{
		Order:     buyOrder("MKTB", 100, 0.47),
		Closing:   true,
		State:     state,
		Positions: []domain.Position{stopped},
		Now:       evalAt(),
	})
	assert.True(t, closing.Approved)
}

// TestEvaluateOrder_CorrelationBlocksDoubledExposure verifies same-direction
// exposure in correlated markets is rejected.
func TestEvaluateOrder_CorrelationBlocksDoubledExposure(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	held := domain.Position{
		ID:            "pos-1",
		MarketID:      "MKTB",
		Side:          domain.SideYes,
		Quantity:      100,
		AvgEntryPrice: 0.50,
		CurrentPrice:  0.51,
		Status:        domain.PositionOpen,
	}
	state := flatState(25_000)
	state.OpenPositions = 1
	state.Exposure = 0.002
	state.MarketExposure["MKTB"] = 0.002
	state.Correlations[domain.PairKey("MKTA", "MKTB")] = 0.80

	same := m.EvaluateOrder(Request{
		Order:     buyOrder("MKTA", 100, 0.50),
		State:     state,
		Positions: []domain.Position{held},
		Now:       evalAt(),
	})
	assert.False(t, same.Approved)
	assert.Equal(t, domain.RejectCorrelationLimit, same.Reason)

	// The opposite side of a positively correlated market hedges rather
	// than concentrates.
	hedge := buyOrder("MKTA", 100, 0.50)
	hedge.Side = domain.SideNo
	opposite := m.EvaluateOrder(Request{
		Order:     hedge,
		State:     state,
		Positions: []domain.Position{held},
		Now:       evalAt(),
	})
	assert.True(t, opposite.Approved)
}

// TestEvaluateOrder_ClosingBypassesChecks verifies closes are approved even
// with every limit breached.
func TestEvaluateOrder_ClosingBypassesChecks(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyTradeCount = 50
	state.DailyRealizedPnL = -1000
	state.OpenPositions = 12
	state.Exposure = 0.95

	dec := m.EvaluateOrder(Request{
		Order:   buyOrder("MKTA", 100, 0.50),
		Closing: true,
		State:   state,
		Now:     evalAt(),
	})

	assert.True(t, dec.Approved)
	assert.False(t, dec.Halt)
}

// TestEvaluateOrder_ProximityWarnings verifies warnings are raised near, but
// not at, the limits.
func TestEvaluateOrder_ProximityWarnings(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyRealizedPnL = -450 // 90% of the 500 limit
	state.OpenPositions = 8       // at 80% of 10 after this order opens a 9th
	state.Exposure = 0.004
	state.PositionValue = 100
	state.MarketExposure["MKTB"] = 0.004

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 100, 0.50), State: state, Now: evalAt()})
	require.True(t, dec.Approved)

	codes := make([]string, 0, len(dec.Warnings))
	for _, w := range dec.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, domain.AlertCodeDailyLossWarning)
	assert.Contains(t, codes, domain.AlertCodePositionWarning)
}

// TestEvaluateOrder_DeterministicForSameInput verifies evaluation is pure:
// identical input, identical verdict, untouched state.
func TestEvaluateOrder_DeterministicForSameInput(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(10_000)
	state.MarketExposure["MKTA"] = 0.05
	state.Exposure = 0.05
	state.PositionValue = 500

	req := Request{Order: buyOrder("MKTA", 3000, 0.50), State: state, Now: evalAt()}

	first := m.EvaluateOrder(req)
	second := m.EvaluateOrder(req)

	assert.Equal(t, first.Approved, second.Approved)
	assert.Equal(t, first.Reason, second.Reason)
	require.NotNil(t, first.Order)
	require.NotNil(t, second.Order)
	assert.Equal(t, first.Order.Quantity, second.Order.Quantity)
	assert.InDelta(t, 0.05, state.MarketExposure["MKTA"], 1e-12)
}

// TestStopLossBreaches verifies only open positions through the stop are
// reported.
func TestStopLossBreaches(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	positions := []domain.Position{
		{ID: "a", MarketID: "A", Quantity: 100, AvgEntryPrice: 0.50, CurrentPrice: 0.47, Status: domain.PositionOpen},
		{ID: "b", MarketID: "B", Quantity: 100, AvgEntryPrice: 0.50, CurrentPrice: 0.49, Status: domain.PositionOpen},
		{ID: "c", MarketID: "C", Quantity: 100, AvgEntryPrice: 0.50, CurrentPrice: 0.30, Status: domain.PositionClosed},
	}

	breaches := m.StopLossBreaches(positions)
	require.Len(t, breaches, 1)
	assert.Equal(t, "a", breaches[0].ID)
}

// TestCheckDailyLoss verifies the cycle-level sweep matches the per-order
// arithmetic.
func TestCheckDailyLoss(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	state := flatState(25_000)
	state.DailyRealizedPnL = -510

	breached, limit := m.CheckDailyLoss(state)
	assert.True(t, breached)
	assert.InDelta(t, 500, limit, 1e-9)

	state.DailyRealizedPnL = -200
	breached, _ = m.CheckDailyLoss(state)
	assert.False(t, breached)
}

// TestSetLimits verifies hot reconfiguration swaps the whole set.
func TestSetLimits(t *testing.T) {
	m := NewManager(testLimits(), testLogger())

	limits := testLimits()
	limits.MaxDailyTrades = 1
	m.SetLimits(limits)

	state := flatState(25_000)
	state.DailyTradeCount = 1

	dec := m.EvaluateOrder(Request{Order: buyOrder("MKTA", 10, 0.50), State: state, Now: evalAt()})
	assert.Equal(t, domain.RejectDailyTradeLimit, dec.Reason)
}
