package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/risk"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

// approvedOrder pairs a risk-approved order with its originating signal.
type approvedOrder struct {
	signal domain.Signal
	order  domain.Order
	// recIdx points at the signal's record in the cycle's record slice so
	// later stages (pair coupling, submission) can amend the disposition.
	recIdx int
}

// RunCycle executes one decision cycle: reconcile, observe, analyze, risk
// evaluation, then submission or discard depending on mode. Exactly one cycle
// runs at a time; a second caller gets ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	if e.emergency.Load() {
		return domain.CycleReport{}, domain.ErrEmergencyStopped
	}
	if !e.cycleMu.TryLock() {
		return domain.CycleReport{}, domain.ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	state := e.State()
	if !state.Running() {
		return domain.CycleReport{}, domain.ErrEngineNotRunning
	}

	now := time.Now().UTC()
	report := domain.CycleReport{
		ID:        uuid.New().String(),
		Seq:       e.seq.Add(1),
		State:     state,
		StartedAt: now,
	}

	var stopTimer func()
	if e.deps.Metrics != nil {
		stopTimer = e.deps.Metrics.Timer()
	}

	log := e.logger.With(slog.String("cycle_id", report.ID), slog.Int64("seq", report.Seq))
	log.Debug("cycle started", slog.String("state", string(state)))

	report.Reconciled = e.reconcile(ctx, report.ID)

	view, markets, err := e.buildView(ctx, report.ID, now)
	if err != nil {
		return report, fmt.Errorf("engine: build market view: %w", err)
	}
	report.MarketsEvaluated = len(view.Markets)

	e.deps.Ledger.MarkToMarket(ctx, markets)
	e.refreshCorrelations(ctx, view)

	signals := e.stopLossSignals(ctx, now)
	signals = append(signals, e.collectSignals(ctx, view)...)
	signals = dedupSignals(signals)
	report.SignalsGenerated = len(signals)

	records, approved := e.evaluateSignals(ctx, view, signals, &report, now)
	approved = e.enforcePairCoupling(approved, records, &report)

	if state == domain.EngineTrading {
		e.submitApproved(ctx, approved, records, &report, now)
	} else {
		for _, a := range approved {
			records[a.recIdx].Disposition = domain.DispositionDiscarded
			records[a.recIdx].Reason = "monitoring mode"
			report.SignalsDiscarded++
		}
	}

	report.Duration = time.Since(now)
	report.Records = records
	if stopTimer != nil {
		stopTimer()
	}

	e.persistCycle(ctx, report, records)
	e.publishCycle(ctx, report, records)

	e.mu.Lock()
	at := now
	e.lastCycleAt = &at
	e.lastCycleID = report.ID
	e.mu.Unlock()

	log.Info("cycle complete",
		slog.Int("markets", report.MarketsEvaluated),
		slog.Int("signals", report.SignalsGenerated),
		slog.Int("approved", report.SignalsApproved),
		slog.Int("rejected", report.SignalsRejected),
		slog.Int("discarded", report.SignalsDiscarded),
		slog.Int("submitted", report.OrdersSubmitted),
		slog.Int("filled", report.OrdersFilled),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// buildView assembles the immutable snapshot every strategy analyzes this
// cycle. The full active market list is returned separately for mark-to-market
// even when some markets are no longer tradable.
func (e *Engine) buildView(ctx context.Context, cycleID string, now time.Time) (strategy.MarketView, []domain.Market, error) {
	all, err := e.deps.Markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return strategy.MarketView{}, nil, err
	}

	tradable := make([]domain.Market, 0, len(all))
	for _, m := range all {
		if m.Tradable(now) {
			tradable = append(tradable, m)
		}
	}

	sentiment := make(map[string][]domain.SentimentObservation, len(tradable))
	since := now.Add(-e.sentimentWindow)
	for _, m := range tradable {
		obs, err := e.deps.Sentiment.Observations(ctx, m.ID, since)
		if err != nil {
			e.logger.Debug("sentiment read failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(obs) > 0 {
			sentiment[m.ID] = obs
		}
	}

	positions := make(map[string][]domain.Position)
	for _, p := range e.deps.Ledger.OpenPositions() {
		positions[p.MarketID] = append(positions[p.MarketID], p)
	}

	byID := make(map[string]domain.Market, len(tradable))
	for _, m := range tradable {
		byID[m.ID] = m
	}

	groups := make(map[string][]domain.Market)
	exclusive, err := e.deps.Groups.ListExclusive(ctx)
	if err != nil {
		e.logger.Debug("event group read failed", slog.String("error", err.Error()))
	} else {
		for _, g := range exclusive {
			ids, err := e.deps.Groups.ListMarkets(ctx, g.ID)
			if err != nil {
				continue
			}
			var members []domain.Market
			for _, id := range ids {
				if m, ok := byID[id]; ok {
					members = append(members, m)
				}
			}
			if len(members) >= 2 {
				groups[g.ID] = members
			}
		}
	}

	view := strategy.MarketView{
		CycleID:   cycleID,
		Now:       now,
		Markets:   tradable,
		Sentiment: sentiment,
		Positions: positions,
		Groups:    groups,
		History:   e.deps.History,
	}
	return view, all, nil
}

// stopLossSignals sweeps open positions for stop-loss breaches and emits a
// closing signal per breach. These run through risk like any other signal;
// closing orders pass unchecked, so a breach always flattens.
func (e *Engine) stopLossSignals(ctx context.Context, now time.Time) []domain.Signal {
	breaches := e.deps.Risk.StopLossBreaches(e.deps.Ledger.OpenPositions())
	if len(breaches) == 0 {
		return nil
	}

	signals := make([]domain.Signal, 0, len(breaches))
	for _, p := range breaches {
		e.raiseAlert(ctx, domain.Alert{
			Level:    domain.AlertWarning,
			Code:     domain.AlertCodeStopLossTriggered,
			Message:  fmt.Sprintf("stop loss triggered at %.1f%% unrealized loss", -p.UnrealizedReturn()*100),
			MarketID: p.MarketID,
			Detail: map[string]any{
				"position_id": p.ID,
				"strategy":    p.Strategy,
			},
			CreatedAt: now,
		})
		signals = append(signals, domain.Signal{
			ID:         uuid.New().String(),
			Strategy:   p.Strategy,
			MarketID:   p.MarketID,
			Side:       p.Side,
			Direction:  domain.DirectionSell,
			Strength:   1,
			Confidence: 1,
			Closing:    true,
			Reason:     "stop loss",
			CreatedAt:  now,
		})
	}
	return signals
}

// collectSignals runs every registered strategy concurrently against the
// shared view. A strategy error is counted and logged, never fatal to the
// cycle.
func (e *Engine) collectSignals(ctx context.Context, view strategy.MarketView) []domain.Signal {
	names := e.deps.Registry.List()
	results := make([][]domain.Signal, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		s, err := e.deps.Registry.Get(name)
		if err != nil {
			continue
		}
		g.Go(func() error {
			sigs, err := s.Analyze(gctx, view)
			if err != nil {
				e.deps.Registry.RecordError(name)
				e.logger.Warn("strategy analyze failed",
					slog.String("strategy", name),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = sigs
			e.deps.Registry.RecordSignals(name, len(sigs), view.Now)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Signal
	for _, sigs := range results {
		out = append(out, sigs...)
	}
	return out
}

// evaluateSignals runs the serial risk evaluation. Each signal is sized, then
// judged against a working copy of the portfolio state; every opening approval
// debits its notional from that copy before the next signal is judged, so one
// cycle can never hand the same headroom to two signals. Fills later commit
// the real changes to the ledger. A halt verdict emergency-stops the engine
// and abandons the remaining signals.
func (e *Engine) evaluateSignals(
	ctx context.Context,
	view strategy.MarketView,
	signals []domain.Signal,
	report *domain.CycleReport,
	now time.Time,
) ([]domain.SignalRecord, []approvedOrder) {
	records := make([]domain.SignalRecord, 0, len(signals))
	var approved []approvedOrder

	working := e.deps.Ledger.State(now)
	working.MarketExposure = maps.Clone(working.MarketExposure)
	working.StrategyExposure = maps.Clone(working.StrategyExposure)
	if working.MarketExposure == nil {
		working.MarketExposure = make(map[string]float64)
	}
	if working.StrategyExposure == nil {
		working.StrategyExposure = make(map[string]float64)
	}
	positions := append([]domain.Position(nil), e.deps.Ledger.OpenPositions()...)

	for _, sig := range signals {
		rec := signalRecord(sig, report.ID, now)

		order, skipReason := e.sizeOrder(sig, view, report.ID, now)
		if skipReason != "" {
			rec.Disposition = domain.DispositionDiscarded
			rec.Reason = skipReason
			records = append(records, rec)
			report.SignalsDiscarded++
			continue
		}

		dec := e.deps.Risk.EvaluateOrder(risk.Request{
			Order:     order,
			Closing:   sig.Closing,
			State:     working,
			Positions: positions,
			Now:       now,
		})
		for _, w := range dec.Warnings {
			e.raiseAlert(ctx, w)
		}

		if dec.Halt {
			rec.Disposition = domain.DispositionRejected
			rec.Reason = string(dec.Reason)
			records = append(records, rec)
			report.SignalsRejected++

			e.raiseAlert(ctx, domain.Alert{
				Level:   domain.AlertCritical,
				Code:    domain.AlertCodeDailyLossHalt,
				Message: "daily loss limit breached, halting trading",
				Detail:  map[string]any{"detail": dec.Detail},
			})
			e.EmergencyStop(ctx, "daily loss limit breached")
			break
		}

		if !dec.Approved {
			rec.Disposition = domain.DispositionRejected
			rec.Reason = string(dec.Reason)
			if dec.Detail != "" {
				rec.Reason += ": " + dec.Detail
			}
			records = append(records, rec)
			report.SignalsRejected++
			continue
		}

		rec.Disposition = domain.DispositionApproved
		rec.OrderID = dec.Order.ID
		records = append(records, rec)
		report.SignalsApproved++
		approved = append(approved, approvedOrder{
			signal: sig,
			order:  *dec.Order,
			recIdx: len(records) - 1,
		})

		if !sig.Closing {
			positions = debitApproval(&working, positions, *dec.Order)
		}
	}

	return records, approved
}

// debitApproval charges an approved opening order against the working state:
// cash moves into position value, per-market and per-strategy exposure grow by
// the order's notional, and a synthetic open position joins the list so the
// stop-loss and correlation checks see it. Closing approvals are not credited
// back; within a cycle headroom only shrinks.
func debitApproval(state *domain.PortfolioState, positions []domain.Position, order domain.Order) []domain.Position {
	if state.TotalValue <= 0 {
		return positions
	}
	notional := float64(order.Quantity) * order.LimitPrice
	if state.MarketExposure[order.MarketID] == 0 {
		state.OpenPositions++
	}
	state.CashBalance -= notional
	state.PositionValue += notional
	state.Exposure = state.PositionValue / state.TotalValue
	state.MarketExposure[order.MarketID] += notional / state.TotalValue
	state.StrategyExposure[order.Strategy] += notional / state.TotalValue
	state.DailyTradeCount++

	return append(positions, domain.Position{
		MarketID:      order.MarketID,
		Side:          order.Side,
		Quantity:      order.Quantity,
		AvgEntryPrice: order.LimitPrice,
		CurrentPrice:  order.LimitPrice,
		Strategy:      order.Strategy,
		Status:        domain.PositionOpen,
	})
}

// sizeOrder turns a signal into a concrete order. Opening quantity is the
// strategy's capital weight times the signal's allocation, as contracts at
// the current price; closing orders take the full open quantity. A non-empty
// return reason means the signal cannot produce an order.
func (e *Engine) sizeOrder(sig domain.Signal, view strategy.MarketView, cycleID string, now time.Time) (domain.Order, string) {
	m, ok := view.Market(sig.MarketID)
	if !ok {
		return domain.Order{}, "market not in view"
	}

	price := m.YesPrice
	if sig.Side == domain.SideNo {
		price = m.NoPrice
	}
	if price <= 0 || price >= 1 {
		return domain.Order{}, "no usable price"
	}

	var qty int64
	if sig.Closing {
		pos, ok := view.OpenPosition(sig.MarketID, sig.Strategy)
		if !ok {
			return domain.Order{}, "no open position to close"
		}
		qty = pos.Quantity
	} else {
		weight := e.deps.Registry.Weight(sig.Strategy)
		budget := weight * sig.Allocation * e.deps.Ledger.State(now).TotalValue
		qty = int64(math.Floor(budget / price))
		if qty < 1 {
			return domain.Order{}, "sized to zero contracts"
		}
	}

	return domain.Order{
		ID:            uuid.New().String(),
		ClientOrderID: uuid.New().String(),
		SignalID:      sig.ID,
		CycleID:       cycleID,
		MarketID:      sig.MarketID,
		Side:          sig.Side,
		Direction:     sig.Direction,
		Quantity:      qty,
		LimitPrice:    price,
		Strategy:      sig.Strategy,
		Status:        domain.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, ""
}

// enforcePairCoupling drops approved pair legs whose sibling did not survive
// risk. A statistical-arbitrage entry is only meaningful with both legs on.
func (e *Engine) enforcePairCoupling(approved []approvedOrder, records []domain.SignalRecord, report *domain.CycleReport) []approvedOrder {
	legs := make(map[string]int)
	for _, a := range approved {
		if a.signal.PairID != "" && !a.signal.Closing {
			legs[a.signal.PairID]++
		}
	}

	kept := approved[:0]
	for _, a := range approved {
		if a.signal.PairID != "" && !a.signal.Closing && legs[a.signal.PairID] < 2 {
			records[a.recIdx].Disposition = domain.DispositionDiscarded
			records[a.recIdx].Reason = "pair leg rejected"
			records[a.recIdx].OrderID = ""
			report.SignalsApproved--
			report.SignalsDiscarded++
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// submitApproved sends approved orders to the venue. The emergency flag is
// re-checked before every submission so a halt mid-cycle stops the remainder.
func (e *Engine) submitApproved(
	ctx context.Context,
	approved []approvedOrder,
	records []domain.SignalRecord,
	report *domain.CycleReport,
	now time.Time,
) {
	for _, a := range approved {
		if e.emergency.Load() {
			records[a.recIdx].Disposition = domain.DispositionDiscarded
			records[a.recIdx].Reason = "emergency stop"
			records[a.recIdx].OrderID = ""
			report.SignalsApproved--
			report.SignalsDiscarded++
			continue
		}

		switch e.executeOrder(ctx, &a.order) {
		case domain.OrderUnknown:
			report.OrdersUnknown++
		case domain.OrderFilled:
			report.OrdersSubmitted++
			report.OrdersFilled++
		default:
			report.OrdersSubmitted++
		}
		records[a.recIdx].OrderID = a.order.ID
	}
}

// executeOrder persists and submits one order under the execution timeout.
// A submission error or timeout parks the order as unknown; it is never
// retried blind, only reconciled by status polling.
func (e *Engine) executeOrder(ctx context.Context, order *domain.Order) domain.OrderStatus {
	if err := e.deps.Orders.Create(ctx, *order); err != nil {
		e.logger.Error("order create failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		// Without the local row the order cannot be reconciled later, so do
		// not submit it.
		return domain.OrderRejected
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout.Duration)
	ack, err := e.deps.Exec.Submit(tctx, *order)
	cancel()

	now := time.Now().UTC()
	order.UpdatedAt = now

	if err != nil {
		order.Status = domain.OrderUnknown
		order.Message = err.Error()
		if uerr := e.deps.Orders.Update(ctx, *order); uerr != nil {
			e.logger.Error("order update failed",
				slog.String("order_id", order.ID),
				slog.String("error", uerr.Error()),
			)
		}
		e.logger.Warn("order submission unresolved",
			slog.String("order_id", order.ID),
			slog.String("market_id", order.MarketID),
			slog.String("error", err.Error()),
		)
		return domain.OrderUnknown
	}

	order.VenueOrderID = ack.VenueOrderID
	order.Status = ack.Status
	order.FilledQty = ack.FilledQty
	order.FilledPrice = ack.FilledPrice
	order.Fee = ack.Fee
	order.Message = ack.Message
	if err := e.deps.Orders.Update(ctx, *order); err != nil {
		e.logger.Error("order update failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	if ack.Status == domain.OrderFilled {
		e.applyFill(ctx, *order, now)
	}
	return ack.Status
}

// applyFill commits a filled order to the ledger and publishes the fill.
func (e *Engine) applyFill(ctx context.Context, order domain.Order, at time.Time) {
	trade, err := e.deps.Ledger.ApplyFill(ctx, order, at)
	if err != nil {
		e.logger.Error("fill apply failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if e.deps.Bus != nil {
		if payload, err := json.Marshal(trade); err == nil {
			_ = e.deps.Bus.Publish(ctx, busChannelFills, payload)
		}
	}
}

// persistCycle writes the signal records, the pair book, and the cycle report.
func (e *Engine) persistCycle(ctx context.Context, report domain.CycleReport, records []domain.SignalRecord) {
	if len(records) > 0 {
		if err := e.deps.Signals.InsertBatch(ctx, records); err != nil {
			e.logger.Error("signal records insert failed", slog.String("error", err.Error()))
		}
	}

	if e.deps.StatArb != nil {
		for _, p := range e.deps.StatArb.Pairs() {
			if err := e.deps.Pairs.Upsert(ctx, p); err != nil {
				e.logger.Warn("pair upsert failed",
					slog.String("pair", p.Key()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := e.deps.Cycles.Insert(ctx, report); err != nil {
		e.logger.Error("cycle report insert failed", slog.String("error", err.Error()))
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCycle(report)
		for _, rec := range records {
			e.deps.Metrics.ObserveSignal(rec)
		}
	}
}

// publishCycle fans the cycle outcome out to the bus: the report on pub/sub
// for live consumers, each record on the durable stream for replay.
func (e *Engine) publishCycle(ctx context.Context, report domain.CycleReport, records []domain.SignalRecord) {
	if e.deps.Bus == nil {
		return
	}
	if payload, err := json.Marshal(report); err == nil {
		_ = e.deps.Bus.Publish(ctx, busChannelCycles, payload)
	}
	for _, rec := range records {
		if payload, err := json.Marshal(rec); err == nil {
			_ = e.deps.Bus.StreamAppend(ctx, streamSignals, payload)
		}
	}
}

func signalRecord(sig domain.Signal, cycleID string, now time.Time) domain.SignalRecord {
	return domain.SignalRecord{
		SignalID:   sig.ID,
		CycleID:    cycleID,
		Strategy:   sig.Strategy,
		MarketID:   sig.MarketID,
		Direction:  sig.Direction,
		Strength:   sig.Strength,
		Confidence: sig.Confidence,
		Allocation: sig.Allocation,
		CreatedAt:  now,
	}
}
