package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

func TestRunCycleRequiresRunningState(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})

	_, err := fx.engine.RunCycle(ctx)
	require.ErrorIs(t, err, domain.ErrEngineNotRunning)
}

func TestRunCycleSerialized(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})
	require.NoError(t, fx.engine.Start(ctx))

	fx.engine.cycleMu.Lock()
	defer fx.engine.cycleMu.Unlock()

	_, err := fx.engine.RunCycle(ctx)
	require.ErrorIs(t, err, domain.ErrCycleInProgress)
}

func TestRunCycleMonitoringDiscardsApproved(t *testing.T) {
	ctx := context.Background()
	markets := []domain.Market{testMarket("MKT-A", 0.5)}
	fx := newTestEngine(t, markets, &stubStrategy{
		signals: []domain.Signal{buySignal("MKT-A", 0.05)},
	})
	require.NoError(t, fx.engine.Start(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.EngineMonitoring, report.State)
	assert.Equal(t, 1, report.MarketsEvaluated)
	assert.Equal(t, 1, report.SignalsGenerated)
	assert.Equal(t, 1, report.SignalsApproved)
	assert.Equal(t, 1, report.SignalsDiscarded)
	assert.Zero(t, report.OrdersSubmitted)

	// No order reached the store or the venue.
	assert.Empty(t, fx.orders.created)
	assert.Empty(t, fx.exec.submitted)

	require.Len(t, report.Records, 1)
	rec := report.Records[0]
	assert.Equal(t, domain.DispositionDiscarded, rec.Disposition)
	assert.Equal(t, "monitoring mode", rec.Reason)

	// Cycle report and signal audit rows are persisted either way.
	assert.Len(t, fx.cycles.reports, 1)
	assert.Len(t, fx.signals.records, 1)

	st := fx.engine.Status(ctx)
	assert.Equal(t, int64(1), st.CycleCount)
	assert.Equal(t, report.ID, st.LastCycleID)
}

func TestRunCycleTradingSubmitsAndAppliesFill(t *testing.T) {
	ctx := context.Background()
	markets := []domain.Market{testMarket("MKT-A", 0.5)}
	fx := newTestEngine(t, markets, &stubStrategy{
		signals: []domain.Signal{buySignal("MKT-A", 0.05)},
	})
	fx.exec.submitFn = func(order domain.Order) (domain.OrderAck, error) {
		return domain.OrderAck{
			VenueOrderID: "venue-1",
			Status:       domain.OrderFilled,
			FilledQty:    order.Quantity,
			FilledPrice:  order.LimitPrice,
		}, nil
	}
	require.NoError(t, fx.engine.Start(ctx))
	require.NoError(t, fx.engine.EnableTrading(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SignalsApproved)
	assert.Equal(t, 1, report.OrdersSubmitted)
	assert.Equal(t, 1, report.OrdersFilled)
	assert.Zero(t, report.OrdersUnknown)

	// Sizing: allocation 0.05 of a 10k book at 0.50 is 1000 contracts.
	require.Len(t, fx.orders.created, 1)
	created := fx.orders.created[0]
	assert.Equal(t, int64(1000), created.Quantity)
	assert.Equal(t, 0.5, created.LimitPrice)
	assert.Equal(t, report.ID, created.CycleID)

	require.Len(t, report.Records, 1)
	assert.Equal(t, domain.DispositionApproved, report.Records[0].Disposition)
	assert.Equal(t, created.ID, report.Records[0].OrderID)

	stored := fx.orders.get(t, created.ID)
	assert.Equal(t, domain.OrderFilled, stored.Status)
	assert.Equal(t, "venue-1", stored.VenueOrderID)
	assert.Equal(t, int64(1000), stored.FilledQty)

	// The fill landed in the book.
	positions := fx.book.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "MKT-A", positions[0].MarketID)
	assert.Equal(t, int64(1000), positions[0].Quantity)
	assert.Equal(t, 0.5, positions[0].AvgEntryPrice)
	assert.InDelta(t, 9_500, fx.book.State(time.Now().UTC()).CashBalance, 1e-9)
	require.Len(t, fx.trades.trades, 1)
}

// TestRunCycleApprovalsShareHeadroom verifies signals evaluated in the same
// cycle spend a shared exposure budget: the first approval debits the working
// portfolio state, the second is scaled into what remains, and a third finds
// no headroom at all. Exposure after the cycle lands exactly at the cap.
func TestRunCycleApprovalsShareHeadroom(t *testing.T) {
	ctx := context.Background()
	markets := []domain.Market{
		testMarket("MKT-A", 0.5),
		testMarket("MKT-B", 0.5),
		testMarket("MKT-C", 0.5),
	}
	fx := newTestEngine(t, markets, &stubStrategy{
		signals: []domain.Signal{
			buySignal("MKT-A", 0.45),
			buySignal("MKT-B", 0.45),
			buySignal("MKT-C", 0.45),
		},
	})
	limits := testLimits()
	limits.MaxPositionSize = 0.50
	limits.MaxPortfolioExposure = 0.60
	fx.engine.deps.Risk.SetLimits(limits)

	fx.exec.submitFn = func(order domain.Order) (domain.OrderAck, error) {
		return domain.OrderAck{
			VenueOrderID: "venue-" + order.MarketID,
			Status:       domain.OrderFilled,
			FilledQty:    order.Quantity,
			FilledPrice:  order.LimitPrice,
		}, nil
	}
	require.NoError(t, fx.engine.Start(ctx))
	require.NoError(t, fx.engine.EnableTrading(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.SignalsApproved)
	assert.Equal(t, 1, report.SignalsRejected)
	assert.Equal(t, 2, report.OrdersFilled)

	// First order takes its full 4500 notional; the second is scaled into
	// the remaining 1500 of the 6000 cap; the third finds nothing left.
	require.Len(t, fx.orders.created, 2)
	assert.Equal(t, "MKT-A", fx.orders.created[0].MarketID)
	assert.Equal(t, int64(9000), fx.orders.created[0].Quantity)
	assert.Equal(t, "MKT-B", fx.orders.created[1].MarketID)
	assert.Equal(t, int64(3000), fx.orders.created[1].Quantity)

	require.Len(t, report.Records, 3)
	rejected := report.Records[2]
	assert.Equal(t, domain.DispositionRejected, rejected.Disposition)
	assert.Contains(t, rejected.Reason, string(domain.RejectExposureLimit))

	state := fx.book.State(time.Now().UTC())
	assert.InDelta(t, 0.60, state.Exposure, 1e-9)
	assert.InDelta(t, 4_000, state.CashBalance, 1e-9)
}

func TestRunCycleSubmissionErrorParksOrderUnknown(t *testing.T) {
	ctx := context.Background()
	markets := []domain.Market{testMarket("MKT-A", 0.5)}
	fx := newTestEngine(t, markets, &stubStrategy{
		signals: []domain.Signal{buySignal("MKT-A", 0.05)},
	})
	fx.exec.submitFn = func(domain.Order) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("venue timeout")
	}
	require.NoError(t, fx.engine.Start(ctx))
	require.NoError(t, fx.engine.EnableTrading(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrdersUnknown)
	assert.Zero(t, report.OrdersSubmitted)
	assert.Zero(t, report.OrdersFilled)

	require.Len(t, fx.orders.created, 1)
	stored := fx.orders.get(t, fx.orders.created[0].ID)
	assert.Equal(t, domain.OrderUnknown, stored.Status)
	assert.Equal(t, "venue timeout", stored.Message)

	// No fill, no position.
	assert.Empty(t, fx.book.OpenPositions())
}

func TestRunCycleDailyLossHaltsEngine(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	markets := []domain.Market{testMarket("MKT-A", 0.5), testMarket("MKT-B", 0.5)}
	fx := newTestEngine(t, markets, &stubStrategy{
		signals: []domain.Signal{buySignal("MKT-B", 0.05)},
	})

	// Realize a loss well past 2% of the book: buy 1000 @ 0.50, dump @ 0.20.
	_, err := fx.book.ApplyFill(ctx, filledOrder("MKT-A", domain.DirectionBuy, 1000, 0.5), now)
	require.NoError(t, err)
	trade, err := fx.book.ApplyFill(ctx, filledOrder("MKT-A", domain.DirectionSell, 1000, 0.2), now)
	require.NoError(t, err)
	require.NotNil(t, trade.RealizedPnL)
	assert.InDelta(t, -300, *trade.RealizedPnL, 1e-9)

	require.NoError(t, fx.engine.Start(ctx))
	require.NoError(t, fx.engine.EnableTrading(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SignalsRejected)
	assert.Zero(t, report.SignalsApproved)
	assert.Zero(t, report.OrdersSubmitted)
	require.Len(t, report.Records, 1)
	assert.Equal(t, domain.DispositionRejected, report.Records[0].Disposition)
	assert.Equal(t, string(domain.RejectDailyLossLimit), report.Records[0].Reason)

	// The breach emergency-stops the engine within the same cycle.
	assert.Equal(t, domain.EngineEmergencyStopped, fx.engine.State())
	st := fx.engine.Status(ctx)
	assert.Equal(t, "daily loss limit breached", st.HaltReason)

	var codes []string
	for _, a := range st.Alerts {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, domain.AlertCodeDailyLossHalt)
	assert.Contains(t, codes, domain.AlertCodeEmergencyStop)

	_, err = fx.engine.RunCycle(ctx)
	require.ErrorIs(t, err, domain.ErrEmergencyStopped)
}

func TestRunCycleStopLossFlattensPosition(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	// Entry at 0.50; the market has since collapsed to 0.40, a -20% mark
	// against a 5% stop.
	markets := []domain.Market{testMarket("MKT-A", 0.4)}
	fx := newTestEngine(t, markets, &stubStrategy{})
	fx.exec.submitFn = func(order domain.Order) (domain.OrderAck, error) {
		return domain.OrderAck{
			VenueOrderID: "venue-1",
			Status:       domain.OrderFilled,
			FilledQty:    order.Quantity,
			FilledPrice:  order.LimitPrice,
		}, nil
	}

	_, err := fx.book.ApplyFill(ctx, filledOrder("MKT-A", domain.DirectionBuy, 100, 0.5), now)
	require.NoError(t, err)

	require.NoError(t, fx.engine.Start(ctx))
	require.NoError(t, fx.engine.EnableTrading(ctx))

	report, err := fx.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SignalsGenerated)
	assert.Equal(t, 1, report.OrdersFilled)

	// The closing order sells the full holding at the marked price.
	require.Len(t, fx.orders.created, 1)
	closing := fx.orders.created[0]
	assert.Equal(t, domain.DirectionSell, closing.Direction)
	assert.Equal(t, int64(100), closing.Quantity)
	assert.Equal(t, 0.4, closing.LimitPrice)

	assert.Empty(t, fx.book.OpenPositions())

	var codes []string
	for _, a := range fx.engine.Status(ctx).Alerts {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, domain.AlertCodeStopLossTriggered)
}

func TestSizeOrder(t *testing.T) {
	fx := newTestEngine(t, nil, &stubStrategy{})
	now := time.Now().UTC()

	view := strategy.MarketView{
		Now:     now,
		Markets: []domain.Market{testMarket("MKT-A", 0.5), testMarket("MKT-B", 0), testMarket("MKT-C", 0.3)},
		Positions: map[string][]domain.Position{
			"MKT-A": {{
				ID:       "pos-1",
				MarketID: "MKT-A",
				Side:     domain.SideYes,
				Quantity: 250,
				Strategy: "stub",
				Status:   domain.PositionOpen,
			}},
		},
	}

	t.Run("opening order sized from allocation", func(t *testing.T) {
		order, skip := fx.engine.sizeOrder(buySignal("MKT-A", 0.05), view, "cycle-1", now)
		require.Empty(t, skip)
		assert.Equal(t, int64(1000), order.Quantity)
		assert.Equal(t, 0.5, order.LimitPrice)
		assert.Equal(t, "cycle-1", order.CycleID)
		assert.Equal(t, domain.OrderPending, order.Status)
		assert.NotEmpty(t, order.ClientOrderID)
	})

	t.Run("no side uses the no price", func(t *testing.T) {
		sig := buySignal("MKT-C", 0.05)
		sig.Side = domain.SideNo
		order, skip := fx.engine.sizeOrder(sig, view, "cycle-1", now)
		require.Empty(t, skip)
		assert.InDelta(t, 0.7, order.LimitPrice, 1e-9)
	})

	t.Run("unknown market", func(t *testing.T) {
		_, skip := fx.engine.sizeOrder(buySignal("MKT-X", 0.05), view, "cycle-1", now)
		assert.Equal(t, "market not in view", skip)
	})

	t.Run("degenerate price", func(t *testing.T) {
		_, skip := fx.engine.sizeOrder(buySignal("MKT-B", 0.05), view, "cycle-1", now)
		assert.Equal(t, "no usable price", skip)
	})

	t.Run("zero allocation", func(t *testing.T) {
		_, skip := fx.engine.sizeOrder(buySignal("MKT-A", 0), view, "cycle-1", now)
		assert.Equal(t, "sized to zero contracts", skip)
	})

	t.Run("closing takes full position quantity", func(t *testing.T) {
		sig := buySignal("MKT-A", 0)
		sig.Direction = domain.DirectionSell
		sig.Closing = true
		order, skip := fx.engine.sizeOrder(sig, view, "cycle-1", now)
		require.Empty(t, skip)
		assert.Equal(t, int64(250), order.Quantity)
	})

	t.Run("closing without a position", func(t *testing.T) {
		sig := buySignal("MKT-A", 0)
		sig.Strategy = "other"
		sig.Closing = true
		_, skip := fx.engine.sizeOrder(sig, view, "cycle-1", now)
		assert.Equal(t, "no open position to close", skip)
	})
}

func TestEnforcePairCoupling(t *testing.T) {
	e := &Engine{}

	mkSignal := func(id, pairID string, closing bool) domain.Signal {
		return domain.Signal{ID: id, PairID: pairID, Closing: closing}
	}

	signals := []domain.Signal{
		mkSignal("a", "pair-1", false), // both legs approved, kept
		mkSignal("b", "pair-1", false),
		mkSignal("c", "pair-2", false), // orphaned leg, dropped
		mkSignal("d", "", false),       // unpaired, untouched
		mkSignal("e", "pair-3", true),  // closing legs never couple
	}

	var records []domain.SignalRecord
	var approved []approvedOrder
	for i, sig := range signals {
		records = append(records, domain.SignalRecord{
			SignalID:    sig.ID,
			Disposition: domain.DispositionApproved,
			OrderID:     "order-" + sig.ID,
		})
		approved = append(approved, approvedOrder{
			signal: sig,
			order:  domain.Order{ID: "order-" + sig.ID},
			recIdx: i,
		})
	}

	report := domain.CycleReport{SignalsApproved: len(signals)}
	kept := e.enforcePairCoupling(approved, records, &report)

	var keptIDs []string
	for _, a := range kept {
		keptIDs = append(keptIDs, a.signal.ID)
	}
	assert.Equal(t, []string{"a", "b", "d", "e"}, keptIDs)

	assert.Equal(t, 4, report.SignalsApproved)
	assert.Equal(t, 1, report.SignalsDiscarded)

	dropped := records[2]
	assert.Equal(t, domain.DispositionDiscarded, dropped.Disposition)
	assert.Equal(t, "pair leg rejected", dropped.Reason)
	assert.Empty(t, dropped.OrderID)

	assert.Equal(t, domain.DispositionApproved, records[0].Disposition)
	assert.Equal(t, domain.DispositionApproved, records[4].Disposition)
}
