// Package engine contains the trading orchestrator: a state machine that runs
// periodic decision cycles, routes strategy signals through risk evaluation,
// and submits or discards the approved orders depending on its mode.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
	"github.com/alanyoungcy/kalshibot/internal/metrics"
	"github.com/alanyoungcy/kalshibot/internal/risk"
	"github.com/alanyoungcy/kalshibot/internal/stats"
	"github.com/alanyoungcy/kalshibot/internal/strategy"
)

const (
	// leaderLockKey is the distributed lock held while a cycle runs, so at
	// most one instance trades the portfolio at a time.
	leaderLockKey = "engine_leader"

	// Bus channels and streams for engine events.
	busChannelCycles = "engine.cycles"
	busChannelAlerts = "engine.alerts"
	busChannelFills  = "engine.fills"
	busChannelState  = "engine.state"
	streamSignals    = "engine.signals"

	// maxRecentAlerts bounds the in-memory alert ring served by Status.
	maxRecentAlerts = 50

	// metricsLookback is how far back the trade log is read when computing
	// the statistical risk report.
	metricsLookback = 90 * 24 * time.Hour

	// correlationLookback is the price-history window used to refresh
	// pairwise correlations for held markets.
	correlationLookback = 30 * 24 * time.Hour
)

// Alerter dispatches operator alerts. The notifier implements this.
type Alerter interface {
	Alert(ctx context.Context, a domain.Alert) error
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Registry  *strategy.Registry
	Risk      *risk.Manager
	Ledger    *ledger.Ledger
	Exec      domain.ExecutionClient
	Markets   domain.MarketStore
	Sentiment domain.SentimentSource
	History   strategy.HistorySource
	Groups    domain.EventGroupStore
	Orders    domain.OrderStore
	Signals   domain.SignalStore
	Cycles    domain.CycleStore
	Snapshots domain.RiskSnapshotStore
	Pairs     domain.PairStore
	Trades    domain.TradeStore
	StatArb   *strategy.StatArb // optional; enables pair-book persistence
	Locks     domain.LockManager
	Bus       domain.SignalBus
	Notifier  Alerter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// SentimentWindow bounds how far back sentiment observations are pulled
	// into each cycle's view. Zero means 30 minutes.
	SentimentWindow time.Duration
}

// Engine is the trading orchestrator.
//
// State machine: Stopped -> Monitoring <-> Trading -> Stopped. An emergency
// stop (operator-initiated or a daily-loss halt) moves any running state to
// EmergencyStopped, which only an explicit Restart leaves.
type Engine struct {
	cfg  config.EngineConfig
	deps Deps

	logger          *slog.Logger
	sentimentWindow time.Duration

	mu          sync.Mutex
	state       domain.EngineState
	haltReason  string
	startedAt   *time.Time
	stoppedAt   *time.Time
	lastCycleAt *time.Time
	lastCycleID string

	// emergency is readable without the state mutex so a cycle in flight can
	// stop submitting the moment the flag flips.
	emergency atomic.Bool

	seq atomic.Int64

	// cycleMu serializes decision cycles; a tick that arrives while a cycle
	// is still running is skipped.
	cycleMu sync.Mutex

	alertMu      sync.Mutex
	recentAlerts []domain.Alert

	riskLevelMu   sync.Mutex
	lastRiskLevel domain.RiskLevel
}

// New creates an Engine in the Stopped state.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	window := deps.SentimentWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	e := &Engine{
		cfg:             cfg,
		deps:            deps,
		logger:          deps.Logger.With(slog.String("component", "engine")),
		sentimentWindow: window,
		state:           domain.EngineStopped,
	}
	if deps.Metrics != nil {
		deps.Metrics.SetEngineState(domain.EngineStopped)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start moves the engine from Stopped to Monitoring. Cycles run but approved
// orders are discarded until trading is enabled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.emergency.Load() {
		return domain.ErrEmergencyStopped
	}
	if e.state.Running() {
		return domain.ErrEngineRunning
	}

	now := time.Now().UTC()
	e.state = domain.EngineMonitoring
	e.startedAt = &now
	e.stoppedAt = nil
	e.setStateMetricsLocked()
	e.publishState(ctx, domain.EngineMonitoring, "")
	e.logger.Info("engine started", slog.String("state", string(e.state)))
	return nil
}

// Stop moves a running engine to Stopped. With close_on_stop configured and
// trading enabled, open positions are flattened first.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.state.Running() {
		e.mu.Unlock()
		return domain.ErrEngineNotRunning
	}
	flatten := e.cfg.CloseOnStop && e.state == domain.EngineTrading
	e.mu.Unlock()

	if flatten {
		e.flatten(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	e.state = domain.EngineStopped
	e.stoppedAt = &now
	e.setStateMetricsLocked()
	e.publishState(ctx, domain.EngineStopped, "")
	e.logger.Info("engine stopped")
	return nil
}

// EnableTrading moves Monitoring to Trading. Enabling while already trading
// is a no-op.
func (e *Engine) EnableTrading(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.emergency.Load() {
		return domain.ErrEmergencyStopped
	}
	switch e.state {
	case domain.EngineTrading:
		return nil
	case domain.EngineMonitoring:
		e.state = domain.EngineTrading
		e.setStateMetricsLocked()
		e.publishState(ctx, domain.EngineTrading, "")
		e.logger.Info("trading enabled")
		return nil
	default:
		return domain.ErrEngineNotRunning
	}
}

// DisableTrading moves Trading back to Monitoring. Cycles keep running; the
// approved orders are discarded instead of submitted.
func (e *Engine) DisableTrading(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case domain.EngineMonitoring:
		return nil
	case domain.EngineTrading:
		e.state = domain.EngineMonitoring
		e.setStateMetricsLocked()
		e.publishState(ctx, domain.EngineMonitoring, "")
		e.logger.Info("trading disabled")
		return nil
	default:
		return domain.ErrEngineNotRunning
	}
}

// EmergencyStop halts everything immediately. The flag is visible to a cycle
// in flight, so no further orders go out after this returns, and every order
// already resting at the venue is cancelled so nothing can fill afterwards.
// Only Restart leaves the emergency state.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	if !e.emergency.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.state = domain.EngineEmergencyStopped
	e.haltReason = reason
	e.stoppedAt = &now
	e.setStateMetricsLocked()
	e.mu.Unlock()

	e.logger.Error("emergency stop", slog.String("reason", reason))
	e.cancelOutstanding(ctx)
	e.publishState(ctx, domain.EngineEmergencyStopped, reason)
	e.raiseAlert(ctx, domain.Alert{
		Level:     domain.AlertCritical,
		Code:      domain.AlertCodeEmergencyStop,
		Message:   "engine emergency stopped: " + reason,
		CreatedAt: now,
	})
}

// cancelOutstanding cancels every venue-acknowledged unresolved order. Orders
// the venue never acknowledged have nothing to cancel; reconciliation ages
// them out. A cancel failure leaves the order unresolved for status polling.
func (e *Engine) cancelOutstanding(ctx context.Context) {
	unresolved, err := e.deps.Orders.ListUnresolved(ctx)
	if err != nil {
		e.logger.Error("unresolved order list failed", slog.String("error", err.Error()))
		return
	}

	for _, o := range unresolved {
		if o.VenueOrderID == "" {
			continue
		}
		if err := e.deps.Exec.Cancel(ctx, o.VenueOrderID); err != nil {
			e.logger.Error("order cancel failed",
				slog.String("order_id", o.ID),
				slog.String("venue_order_id", o.VenueOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		o.Status = domain.OrderCanceled
		o.Message = "canceled by emergency stop"
		o.UpdatedAt = time.Now().UTC()
		if err := e.deps.Orders.Update(ctx, o); err != nil {
			e.logger.Error("order update failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
		e.logger.Info("order cancelled by emergency stop",
			slog.String("order_id", o.ID),
			slog.String("market_id", o.MarketID),
		)
	}
}

// Restart clears an emergency stop, returning the engine to Stopped. It does
// not start cycles; the operator starts again explicitly.
func (e *Engine) Restart(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.EngineEmergencyStopped {
		return domain.ErrEngineNotRunning
	}

	e.emergency.Store(false)
	e.state = domain.EngineStopped
	e.haltReason = ""
	e.setStateMetricsLocked()
	e.publishState(ctx, domain.EngineStopped, "")
	e.logger.Info("engine restarted after emergency stop")
	return nil
}

// Status returns the observability snapshot.
func (e *Engine) Status(ctx context.Context) domain.EngineStatus {
	e.mu.Lock()
	st := domain.EngineStatus{
		State:       e.state,
		StartedAt:   e.startedAt,
		StoppedAt:   e.stoppedAt,
		LastCycleAt: e.lastCycleAt,
		LastCycleID: e.lastCycleID,
		CycleCount:  e.seq.Load(),
		HaltReason:  e.haltReason,
	}
	e.mu.Unlock()

	st.ActiveStrategies = e.deps.Registry.List()

	if unresolved, err := e.deps.Orders.ListUnresolved(ctx); err == nil {
		st.PendingOrders = len(unresolved)
	}

	e.alertMu.Lock()
	st.Alerts = append([]domain.Alert(nil), e.recentAlerts...)
	e.alertMu.Unlock()

	return st
}

// Run drives the cycle and metrics tickers until the context is cancelled.
// It honors the configured autostart mode.
func (e *Engine) Run(ctx context.Context) error {
	switch e.cfg.Autostart {
	case "monitoring":
		if err := e.Start(ctx); err != nil {
			return err
		}
	case "trading":
		if err := e.Start(ctx); err != nil {
			return err
		}
		if err := e.EnableTrading(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.cycleLoop(ctx) })
	g.Go(func() error { return e.metricsLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// cycleLoop runs one decision cycle per trading interval while the engine is
// in a running state. Each cycle executes under the distributed leader lock;
// when another instance holds it, the tick is skipped.
func (e *Engine) cycleLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TradingInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.State().Running() {
				continue
			}
			e.runLeaderCycle(ctx)
		}
	}
}

func (e *Engine) runLeaderCycle(ctx context.Context) {
	unlock, err := e.deps.Locks.Acquire(ctx, leaderLockKey, e.cfg.LeaderLockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			e.logger.Debug("cycle skipped, another instance holds the leader lock")
		} else {
			e.logger.Warn("leader lock acquire failed", slog.String("error", err.Error()))
		}
		return
	}
	defer unlock()

	if _, err := e.RunCycle(ctx); err != nil {
		switch {
		case errors.Is(err, domain.ErrEmergencyStopped),
			errors.Is(err, domain.ErrCycleInProgress),
			errors.Is(err, domain.ErrEngineNotRunning):
			// expected skips
		default:
			e.logger.Error("cycle failed", slog.String("error", err.Error()))
		}
	}
}

// metricsLoop recomputes the portfolio state and statistical risk report on
// the metrics interval and persists the snapshot.
func (e *Engine) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MetricsInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.collectMetrics(ctx)
		}
	}
}

func (e *Engine) collectMetrics(ctx context.Context) {
	now := time.Now().UTC()
	state := e.deps.Ledger.State(now)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SetPortfolio(state)
	}

	input := risk.MetricsInput{State: state, Now: now}
	input.DailyReturns, input.EquityCurve, input.TradePnLs = e.metricSeries(ctx, state, now)

	met := e.deps.Risk.ComputeMetrics(input)

	snap := domain.RiskSnapshot{State: state, Metrics: met, RecordedAt: now}
	if err := e.deps.Snapshots.Insert(ctx, snap); err != nil {
		e.logger.Warn("risk snapshot insert failed", slog.String("error", err.Error()))
	}

	e.riskLevelMu.Lock()
	prev := e.lastRiskLevel
	e.lastRiskLevel = met.Level
	e.riskLevelMu.Unlock()

	if prev != "" && prev != met.Level {
		level := domain.AlertWarning
		if met.Level == domain.RiskCritical {
			level = domain.AlertCritical
		}
		e.raiseAlert(ctx, domain.Alert{
			Level:   level,
			Code:    domain.AlertCodeRiskLevelChange,
			Message: "risk level changed from " + string(prev) + " to " + string(met.Level),
			Detail:  map[string]any{"factors": met.Factors},
		})
	}
}

// metricSeries derives the daily return, equity, and per-trade PnL series
// from the trade log, oldest first. The equity curve is reconstructed by
// walking the current total value backwards through daily realized PnL.
func (e *Engine) metricSeries(ctx context.Context, state domain.PortfolioState, now time.Time) (returns, equity, pnls []float64) {
	since := now.Add(-metricsLookback)
	trades, err := e.deps.Trades.List(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		e.logger.Warn("trade history read failed", slog.String("error", err.Error()))
		return nil, nil, nil
	}
	if len(trades) == 0 {
		return nil, nil, nil
	}

	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })

	type dayPnL struct {
		day time.Time
		pnl float64
	}
	var days []dayPnL
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL - t.Fee
		pnls = append(pnls, pnl)

		day := t.ExecutedAt.UTC().Truncate(24 * time.Hour)
		if n := len(days); n > 0 && days[n-1].day.Equal(day) {
			days[n-1].pnl += pnl
		} else {
			days = append(days, dayPnL{day: day, pnl: pnl})
		}
	}
	if len(days) == 0 {
		return nil, nil, pnls
	}

	// Walk backwards from the current value to the value at the start of the
	// series, then forward to build the curve.
	start := state.TotalValue
	for _, d := range days {
		start -= d.pnl
	}

	equity = make([]float64, 0, len(days)+1)
	equity = append(equity, start)
	value := start
	for _, d := range days {
		value += d.pnl
		equity = append(equity, value)
	}
	return stats.Returns(equity), equity, pnls
}

// refreshCorrelations recomputes pairwise price correlations for markets with
// open exposure and hands them to the ledger for state snapshots.
func (e *Engine) refreshCorrelations(ctx context.Context, view strategy.MarketView) {
	held := make(map[string]struct{})
	for _, p := range e.deps.Ledger.OpenPositions() {
		held[p.MarketID] = struct{}{}
	}
	if len(held) < 2 {
		e.deps.Ledger.SetCorrelations(nil)
		return
	}

	ids := make([]string, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	series := make(map[string][]float64, len(ids))
	for _, id := range ids {
		points, err := view.History.History(ctx, id, correlationLookback)
		if err != nil || len(points) < 10 {
			continue
		}
		prices := make([]float64, len(points))
		for i, pt := range points {
			prices[i] = pt.YesPrice
		}
		series[id] = prices
	}

	corr := make(map[string]float64)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, okA := series[ids[i]]
			b, okB := series[ids[j]]
			if !okA || !okB {
				continue
			}
			n := min(len(a), len(b))
			corr[domain.PairKey(ids[i], ids[j])] = stats.Correlation(a[len(a)-n:], b[len(b)-n:])
		}
	}
	e.deps.Ledger.SetCorrelations(corr)
}

// flatten closes every open position with market orders. Used on stop when
// close_on_stop is configured.
func (e *Engine) flatten(ctx context.Context) {
	positions := e.deps.Ledger.OpenPositions()
	if len(positions) == 0 {
		return
	}
	e.logger.Info("flattening open positions", slog.Int("count", len(positions)))

	now := time.Now().UTC()
	for _, p := range positions {
		order := domain.Order{
			ID:            uuid.New().String(),
			ClientOrderID: uuid.New().String(),
			MarketID:      p.MarketID,
			Side:          p.Side,
			Direction:     domain.DirectionSell,
			Quantity:      p.Quantity,
			Strategy:      p.Strategy,
			Status:        domain.OrderPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		e.executeOrder(ctx, &order)
	}
}

// raiseAlert records an alert in the status ring and fans it out to metrics,
// the notifier, and the bus.
func (e *Engine) raiseAlert(ctx context.Context, a domain.Alert) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	e.alertMu.Lock()
	e.recentAlerts = append(e.recentAlerts, a)
	if len(e.recentAlerts) > maxRecentAlerts {
		e.recentAlerts = e.recentAlerts[len(e.recentAlerts)-maxRecentAlerts:]
	}
	e.alertMu.Unlock()

	e.logger.Warn("alert raised",
		slog.String("code", a.Code),
		slog.String("level", string(a.Level)),
		slog.String("message", a.Message),
	)

	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveAlert(a)
	}
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.Alert(ctx, a); err != nil {
			e.logger.Warn("alert dispatch failed", slog.String("error", err.Error()))
		}
	}
	if e.deps.Bus != nil {
		if payload, err := json.Marshal(a); err == nil {
			_ = e.deps.Bus.Publish(ctx, busChannelAlerts, payload)
		}
	}
}

// setStateMetricsLocked updates the state gauge; callers hold e.mu.
func (e *Engine) setStateMetricsLocked() {
	if e.deps.Metrics != nil {
		e.deps.Metrics.SetEngineState(e.state)
	}
}

func (e *Engine) publishState(ctx context.Context, state domain.EngineState, reason string) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"state":  string(state),
		"reason": reason,
	})
	if err != nil {
		return
	}
	_ = e.deps.Bus.Publish(ctx, busChannelState, payload)
}
