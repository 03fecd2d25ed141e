// Package risk enforces portfolio-level limits on every proposed order. The
// checks run in a fixed order so identical inputs always fail with the
// identical reason code, and the package never reaches into stores: each
// evaluation judges exactly the state it was handed.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Request bundles one proposed order with the portfolio context it is judged
// against. Positions must be the open positions backing State.
type Request struct {
	Order     domain.Order
	Closing   bool
	State     domain.PortfolioState
	Positions []domain.Position
	Now       time.Time
}

// Manager evaluates proposed orders against the configured limits. Limits are
// replaced wholesale on reconfiguration; evaluations in flight keep the set
// they started with.
type Manager struct {
	mu     sync.RWMutex
	limits domain.RiskLimits
	logger *slog.Logger
}

// NewManager creates a Manager with the given limits.
func NewManager(limits domain.RiskLimits, logger *slog.Logger) *Manager {
	return &Manager{
		limits: limits,
		logger: logger.With(slog.String("component", "risk")),
	}
}

// Limits returns the current limit set.
func (m *Manager) Limits() domain.RiskLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits replaces the limit set. The engine calls this between cycles
// only.
func (m *Manager) SetLimits(limits domain.RiskLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
}

// EvaluateOrder runs the ordered checks against one proposed order.
//
// Check order:
//  1. Daily trade limit
//  2. Daily loss limit (breach also halts the engine)
//  3. Position limit (count, then per-market size with scale-down)
//  4. Portfolio exposure limit (scale-down)
//  5. Stop loss active
//  6. Correlation limit
//
// Closing orders reduce risk and are approved without checks, so a stopped
// out or loss-capped book can always be flattened.
func (m *Manager) EvaluateOrder(req Request) domain.Decision {
	limits := m.Limits()

	dec := domain.Decision{EvaluatedAt: req.Now}
	order := req.Order

	if req.Closing {
		dec.Approved = true
		dec.Order = &order
		dec.Detail = "closing order; bypasses opening checks"
		return dec
	}

	state := req.State

	// 1. Daily trade limit.
	if limits.MaxDailyTrades > 0 && state.DailyTradeCount >= limits.MaxDailyTrades {
		return m.reject(dec, domain.RejectDailyTradeLimit,
			fmt.Sprintf("daily trades %d at limit %d", state.DailyTradeCount, limits.MaxDailyTrades))
	}

	// 2. Daily loss limit. A breach halts trading for the rest of the day.
	lossLimit := limits.MaxDailyLoss * state.TotalValue
	dailyLoss := state.DailyLoss()
	if lossLimit > 0 && dailyLoss >= lossLimit {
		dec = m.reject(dec, domain.RejectDailyLossLimit,
			fmt.Sprintf("daily loss %.2f at limit %.2f", dailyLoss, lossLimit))
		dec.Halt = true
		return dec
	}
	if lossLimit > 0 && dailyLoss >= limits.WarnFraction*lossLimit {
		dec.Warnings = append(dec.Warnings, m.warning(domain.AlertCodeDailyLossWarning,
			fmt.Sprintf("daily loss %.2f approaching limit %.2f", dailyLoss, lossLimit), order.MarketID, req.Now))
	}

	notional := float64(order.Quantity) * order.LimitPrice
	if order.Quantity <= 0 || order.LimitPrice <= 0 || state.TotalValue <= 0 {
		return m.reject(dec, domain.RejectPositionLimit,
			fmt.Sprintf("degenerate order: qty=%d price=%.4f portfolio=%.2f", order.Quantity, order.LimitPrice, state.TotalValue))
	}

	// 3a. Open position count. Adding to an existing market holding does not
	// open a new slot.
	newMarket := state.MarketExposure[order.MarketID] == 0
	if limits.MaxOpenPositions > 0 && newMarket && state.OpenPositions >= limits.MaxOpenPositions {
		return m.reject(dec, domain.RejectPositionLimit,
			fmt.Sprintf("open positions %d at limit %d", state.OpenPositions, limits.MaxOpenPositions))
	}

	// 3b. Per-market size, scaling the order into the remaining headroom.
	positionCap := limits.MaxPositionSize * state.TotalValue
	existing := state.MarketExposure[order.MarketID] * state.TotalValue
	headroom := positionCap - existing
	if notional > headroom {
		scaled := int64(math.Floor(headroom / order.LimitPrice))
		if scaled < 1 {
			return m.reject(dec, domain.RejectPositionLimit,
				fmt.Sprintf("market %s exposure %.2f leaves no headroom under cap %.2f", order.MarketID, existing, positionCap))
		}
		dec.ScaledFrom = order.Quantity
		order.Quantity = scaled
		notional = float64(scaled) * order.LimitPrice
	}

	// 4. Portfolio exposure, scaling further if needed.
	exposureCap := limits.MaxPortfolioExposure * state.TotalValue
	deployed := state.Exposure * state.TotalValue
	headroom = exposureCap - deployed
	if notional > headroom {
		scaled := int64(math.Floor(headroom / order.LimitPrice))
		if scaled < 1 {
			return m.reject(dec, domain.RejectExposureLimit,
				fmt.Sprintf("exposure %.2f leaves no headroom under cap %.2f", deployed, exposureCap))
		}
		if dec.ScaledFrom == 0 {
			dec.ScaledFrom = order.Quantity
		}
		order.Quantity = scaled
		notional = float64(scaled) * order.LimitPrice
	}

	// 5. Stop loss. A market whose position is through its stop accepts
	// closing orders only; unrelated markets are unaffected.
	if limits.StopLossEnabled {
		for _, p := range req.Positions {
			if p.Status != domain.PositionOpen || p.MarketID != order.MarketID {
				continue
			}
			if p.UnrealizedReturn() <= -limits.StopLossPct {
				return m.reject(dec, domain.RejectStopLossActive,
					fmt.Sprintf("position %s through stop (%.1f%%)", p.MarketID, 100*p.UnrealizedReturn()))
			}
		}
	}

	// 6. Correlation. Signed by held side so hedged pair legs pass while
	// doubled-up exposure does not.
	if limits.MaxCorrelation > 0 {
		for _, p := range req.Positions {
			if p.Status != domain.PositionOpen || p.MarketID == order.MarketID {
				continue
			}
			corr := state.Correlations[domain.PairKey(order.MarketID, p.MarketID)]
			effective := corr * sideSign(order.Side) * sideSign(p.Side)
			if effective > limits.MaxCorrelation {
				return m.reject(dec, domain.RejectCorrelationLimit,
					fmt.Sprintf("correlation %.2f with held %s above limit %.2f", corr, p.MarketID, limits.MaxCorrelation))
			}
		}
	}

	// Proximity warnings on the approved book shape.
	newExposure := deployed + notional
	if exposureCap > 0 && newExposure >= limits.WarnFraction*exposureCap {
		dec.Warnings = append(dec.Warnings, m.warning(domain.AlertCodeExposureWarning,
			fmt.Sprintf("exposure %.2f approaching cap %.2f", newExposure, exposureCap), order.MarketID, req.Now))
	}
	openAfter := state.OpenPositions
	if newMarket {
		openAfter++
	}
	if limits.MaxOpenPositions > 0 && float64(openAfter) >= limits.WarnFraction*float64(limits.MaxOpenPositions) {
		dec.Warnings = append(dec.Warnings, m.warning(domain.AlertCodePositionWarning,
			fmt.Sprintf("open positions %d approaching limit %d", openAfter, limits.MaxOpenPositions), order.MarketID, req.Now))
	}

	dec.Approved = true
	dec.Order = &order
	if dec.ScaledFrom != 0 {
		dec.Detail = fmt.Sprintf("scaled from %d to %d contracts", dec.ScaledFrom, order.Quantity)
	}
	return dec
}

// StopLossBreaches returns the open positions currently through their stop.
// The engine closes these via the normal order path each cycle.
func (m *Manager) StopLossBreaches(positions []domain.Position) []domain.Position {
	limits := m.Limits()
	if !limits.StopLossEnabled {
		return nil
	}

	var out []domain.Position
	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		if p.UnrealizedReturn() <= -limits.StopLossPct {
			out = append(out, p)
		}
	}
	return out
}

// CheckDailyLoss reports whether the day's loss has breached the limit,
// independent of any order flow, so the engine can halt even on a cycle that
// produced no signals.
func (m *Manager) CheckDailyLoss(state domain.PortfolioState) (breached bool, limit float64) {
	limits := m.Limits()
	limit = limits.MaxDailyLoss * state.TotalValue
	if limit <= 0 {
		return false, limit
	}
	return state.DailyLoss() >= limit, limit
}

func (m *Manager) reject(dec domain.Decision, reason domain.RejectReason, detail string) domain.Decision {
	dec.Approved = false
	dec.Order = nil
	dec.Reason = reason
	dec.Detail = detail
	m.logger.Warn("order rejected",
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	return dec
}

func (m *Manager) warning(code, message, marketID string, now time.Time) domain.Alert {
	return domain.Alert{
		ID:        uuid.NewString(),
		Level:     domain.AlertWarning,
		Code:      code,
		Message:   message,
		MarketID:  marketID,
		CreatedAt: now,
	}
}

func sideSign(s domain.PositionSide) float64 {
	if s == domain.SideNo {
		return -1
	}
	return 1
}
