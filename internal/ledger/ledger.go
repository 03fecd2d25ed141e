// Package ledger holds the authoritative portfolio book: cash, open
// positions, and the day's counters. All mutation happens through fills
// applied serially by the engine; stores are write-through durability, and
// the append-only trade log can rebuild the book from scratch.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Ledger is the single source of truth for portfolio state. It is safe for
// concurrent reads; mutation is serialized by the engine's cycle loop on top
// of the internal lock.
type Ledger struct {
	mu sync.Mutex

	cash        float64
	initialCash float64
	positions   map[string]*domain.Position // by position ID

	realized      float64
	dailyRealized float64
	dailyTrades   int
	dailyDate     time.Time // UTC midnight of the day the counters cover

	correlations map[string]float64

	posStore   domain.PositionStore
	tradeStore domain.TradeStore
	logger     *slog.Logger
}

// New creates a Ledger starting from the given cash balance.
func New(initialCash float64, positions domain.PositionStore, trades domain.TradeStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		cash:         initialCash,
		initialCash:  initialCash,
		positions:    make(map[string]*domain.Position),
		correlations: make(map[string]float64),
		posStore:     positions,
		tradeStore:   trades,
		logger:       logger.With(slog.String("component", "ledger")),
	}
}

// Load rebuilds the book by replaying the full trade log in execution order.
// Current prices start at entry prices until the first mark.
func (l *Ledger) Load(ctx context.Context, now time.Time) error {
	trades, err := l.tradeStore.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger: load trades: %w", err)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = l.initialCash
	l.positions = make(map[string]*domain.Position)
	l.realized = 0
	l.dailyRealized = 0
	l.dailyTrades = 0
	l.dailyDate = utcDate(now)

	today := utcDate(now)
	for _, t := range trades {
		l.replayTrade(t)
		if utcDate(t.ExecutedAt).Equal(today) {
			l.dailyTrades++
			if t.RealizedPnL != nil {
				l.dailyRealized += *t.RealizedPnL
			}
		}
	}

	l.logger.InfoContext(ctx, "ledger: book rebuilt",
		slog.Int("trades", len(trades)),
		slog.Int("open_positions", len(l.openLocked())),
		slog.Float64("cash", l.cash),
	)
	return nil
}

// replayTrade applies one historical trade to the in-memory book without
// touching the stores. The caller must hold l.mu.
func (l *Ledger) replayTrade(t domain.Trade) {
	switch t.Direction {
	case domain.DirectionBuy:
		l.cash -= t.Notional() + t.Fee

		p, ok := l.positions[t.PositionID]
		if !ok {
			l.positions[t.PositionID] = &domain.Position{
				ID:            t.PositionID,
				MarketID:      t.MarketID,
				Side:          t.Side,
				Quantity:      t.Quantity,
				AvgEntryPrice: t.Price,
				CurrentPrice:  t.Price,
				Strategy:      t.Strategy,
				Status:        domain.PositionOpen,
				OpenedAt:      t.ExecutedAt,
				UpdatedAt:     t.ExecutedAt,
			}
			return
		}
		newQty := p.Quantity + t.Quantity
		p.AvgEntryPrice = (float64(p.Quantity)*p.AvgEntryPrice + float64(t.Quantity)*t.Price) / float64(newQty)
		p.Quantity = newQty
		p.CurrentPrice = t.Price
		p.UpdatedAt = t.ExecutedAt

	case domain.DirectionSell:
		l.cash += t.Notional() - t.Fee
		if t.RealizedPnL != nil {
			l.realized += *t.RealizedPnL
		}

		p, ok := l.positions[t.PositionID]
		if !ok {
			// A sell without its buys means a truncated log; keep cash
			// honest and move on.
			l.logger.Warn("ledger: sell trade without position in replay", slog.String("trade", t.ID))
			return
		}
		if t.RealizedPnL != nil {
			p.RealizedPnL += *t.RealizedPnL
		}
		p.Quantity -= t.Quantity
		p.UpdatedAt = t.ExecutedAt
		if p.Quantity <= 0 {
			p.Quantity = 0
			p.Status = domain.PositionClosed
			at := t.ExecutedAt
			price := t.Price
			p.ClosedAt = &at
			p.ExitPrice = &price
		}
	}
}

// ApplyFill commits one filled order to the book: opens or grows a position
// on buys, realizes PnL and shrinks or closes it on sells. It returns the
// recorded trade. The order must carry its fill quantity, price, and fee.
func (l *Ledger) ApplyFill(ctx context.Context, order domain.Order, at time.Time) (domain.Trade, error) {
	if order.FilledQty <= 0 || order.FilledPrice <= 0 {
		return domain.Trade{}, fmt.Errorf("ledger: order %s has no fill to apply", order.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(at)

	switch order.Direction {
	case domain.DirectionBuy:
		return l.applyBuyLocked(ctx, order, at)
	case domain.DirectionSell:
		return l.applySellLocked(ctx, order, at)
	default:
		return domain.Trade{}, fmt.Errorf("ledger: order %s has direction %q", order.ID, order.Direction)
	}
}

func (l *Ledger) applyBuyLocked(ctx context.Context, order domain.Order, at time.Time) (domain.Trade, error) {
	qty, price, fee := order.FilledQty, order.FilledPrice, order.Fee
	cost := float64(qty)*price + fee
	if cost > l.cash {
		return domain.Trade{}, fmt.Errorf("ledger: fill cost %.2f exceeds cash %.2f", cost, l.cash)
	}

	pos := l.findOpenLocked(order.MarketID, order.Side, order.Strategy)
	created := false
	if pos == nil {
		created = true
		pos = &domain.Position{
			ID:            uuid.NewString(),
			MarketID:      order.MarketID,
			Side:          order.Side,
			Quantity:      qty,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			Strategy:      order.Strategy,
			Status:        domain.PositionOpen,
			OpenedAt:      at,
			UpdatedAt:     at,
		}
		l.positions[pos.ID] = pos
	} else {
		// Adds move the average entry; nothing else ever does.
		newQty := pos.Quantity + qty
		pos.AvgEntryPrice = (float64(pos.Quantity)*pos.AvgEntryPrice + float64(qty)*price) / float64(newQty)
		pos.Quantity = newQty
		pos.CurrentPrice = price
		pos.UpdatedAt = at
	}

	l.cash -= cost
	l.dailyTrades++

	trade := domain.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		OrderID:    order.ID,
		MarketID:   order.MarketID,
		Side:       order.Side,
		Direction:  domain.DirectionBuy,
		Quantity:   qty,
		Price:      price,
		Fee:        fee,
		Strategy:   order.Strategy,
		ExecutedAt: at,
	}

	l.persistLocked(ctx, *pos, created, trade)

	l.logger.InfoContext(ctx, "ledger: fill applied",
		slog.String("market", order.MarketID),
		slog.String("direction", "buy"),
		slog.Int64("quantity", qty),
		slog.Float64("price", price),
		slog.Float64("cash", l.cash),
	)
	return trade, nil
}

func (l *Ledger) applySellLocked(ctx context.Context, order domain.Order, at time.Time) (domain.Trade, error) {
	qty, price, fee := order.FilledQty, order.FilledPrice, order.Fee

	pos := l.findOpenLocked(order.MarketID, order.Side, order.Strategy)
	if pos == nil {
		return domain.Trade{}, fmt.Errorf("ledger: sell fill for %s %s/%s: %w",
			order.MarketID, order.Side, order.Strategy, domain.ErrNotFound)
	}
	if qty > pos.Quantity {
		return domain.Trade{}, fmt.Errorf("ledger: sell fill %d exceeds held %d in %s", qty, pos.Quantity, order.MarketID)
	}

	realized := float64(qty)*(price-pos.AvgEntryPrice) - fee

	l.cash += float64(qty)*price - fee
	l.realized += realized
	l.dailyRealized += realized
	l.dailyTrades++

	pos.RealizedPnL += realized
	pos.Quantity -= qty
	pos.CurrentPrice = price
	pos.UpdatedAt = at
	if pos.Quantity == 0 {
		pos.Status = domain.PositionClosed
		closedAt := at
		exit := price
		pos.ClosedAt = &closedAt
		pos.ExitPrice = &exit
	}

	trade := domain.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		OrderID:     order.ID,
		MarketID:    order.MarketID,
		Side:        order.Side,
		Direction:   domain.DirectionSell,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
		RealizedPnL: &realized,
		Strategy:    order.Strategy,
		ExecutedAt:  at,
	}

	l.persistLocked(ctx, *pos, false, trade)

	l.logger.InfoContext(ctx, "ledger: fill applied",
		slog.String("market", order.MarketID),
		slog.String("direction", "sell"),
		slog.Int64("quantity", qty),
		slog.Float64("price", price),
		slog.Float64("realized_pnl", realized),
	)
	return trade, nil
}

// persistLocked writes the position and trade through to the stores. The
// in-memory book has already committed; persistence failures are surfaced to
// the log and the book stays authoritative until the next replay.
func (l *Ledger) persistLocked(ctx context.Context, pos domain.Position, created bool, trade domain.Trade) {
	var err error
	if created {
		err = l.posStore.Create(ctx, pos)
	} else {
		err = l.posStore.Update(ctx, pos)
	}
	if err != nil {
		l.logger.WarnContext(ctx, "ledger: position write-through failed",
			slog.String("position", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := l.tradeStore.Insert(ctx, trade); err != nil {
		l.logger.WarnContext(ctx, "ledger: trade write-through failed",
			slog.String("trade", trade.ID),
			slog.String("error", err.Error()),
		)
	}
}

// MarkToMarket refreshes every open position's current price from the given
// market snapshots. Positions whose market is absent keep their last mark.
func (l *Ledger) MarkToMarket(ctx context.Context, markets []domain.Market) {
	byID := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		m, ok := byID[p.MarketID]
		if !ok {
			continue
		}
		price := m.YesPrice
		if p.Side == domain.SideNo {
			price = m.NoPrice
		}
		if price == p.CurrentPrice {
			continue
		}
		p.CurrentPrice = price
		p.UpdatedAt = m.ObservedAt
		if err := l.posStore.Update(ctx, *p); err != nil {
			l.logger.WarnContext(ctx, "ledger: mark write-through failed",
				slog.String("position", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SetCorrelations replaces the pairwise correlation map embedded in state
// snapshots. The engine refreshes it once per cycle for held markets.
func (l *Ledger) SetCorrelations(corr map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.correlations = make(map[string]float64, len(corr))
	for k, v := range corr {
		l.correlations[k] = v
	}
}

// OpenPositions returns copies of the open positions sorted by market.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.openLocked()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// State derives the point-in-time portfolio view used by the risk manager
// and the status APIs.
func (l *Ledger) State(now time.Time) domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)

	state := domain.PortfolioState{
		CashBalance:      l.cash,
		RealizedPnL:      l.realized,
		DailyRealizedPnL: l.dailyRealized,
		DailyTradeCount:  l.dailyTrades,
		StrategyExposure: make(map[string]float64),
		MarketExposure:   make(map[string]float64),
		Correlations:     make(map[string]float64, len(l.correlations)),
		ComputedAt:       now,
	}
	for k, v := range l.correlations {
		state.Correlations[k] = v
	}

	var posValue, unrealized float64
	for _, p := range l.positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		state.OpenPositions++
		posValue += p.MarketValue()
		unrealized += p.UnrealizedPnL()
	}

	state.PositionValue = posValue
	state.TotalValue = l.cash + posValue
	state.UnrealizedPnL = unrealized
	if state.TotalValue > 0 {
		state.Exposure = posValue / state.TotalValue
		for _, p := range l.positions {
			if p.Status != domain.PositionOpen {
				continue
			}
			frac := p.MarketValue() / state.TotalValue
			state.StrategyExposure[p.Strategy] += frac
			state.MarketExposure[p.MarketID] += frac
		}
	}
	return state
}

// Position returns a copy of the position with the given ID.
func (l *Ledger) Position(id string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// findOpenLocked locates the open position for a market, side, and strategy.
// The caller must hold l.mu.
func (l *Ledger) findOpenLocked(marketID string, side domain.PositionSide, strategy string) *domain.Position {
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen && p.MarketID == marketID && p.Side == side && p.Strategy == strategy {
			return p
		}
	}
	return nil
}

func (l *Ledger) openLocked() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// rolloverLocked resets the daily counters when the UTC date changes. The
// caller must hold l.mu.
func (l *Ledger) rolloverLocked(now time.Time) {
	day := utcDate(now)
	if l.dailyDate.IsZero() {
		l.dailyDate = day
		return
	}
	if day.After(l.dailyDate) {
		l.logger.Info("ledger: daily counters reset",
			slog.String("day", day.Format("2006-01-02")),
			slog.Float64("previous_daily_pnl", l.dailyRealized),
			slog.Int("previous_daily_trades", l.dailyTrades),
		)
		l.dailyRealized = 0
		l.dailyTrades = 0
		l.dailyDate = day
	}
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
