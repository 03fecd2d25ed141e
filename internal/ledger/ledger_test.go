package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memPositionStore struct {
	created []domain.Position
	updated []domain.Position
}

func (m *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	m.created = append(m.created, pos)
	return nil
}

func (m *memPositionStore) Update(_ context.Context, pos domain.Position) error {
	m.updated = append(m.updated, pos)
	return nil
}

func (m *memPositionStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositionStore) GetOpenByMarket(context.Context, string, domain.PositionSide) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositionStore) ListOpen(context.Context) ([]domain.Position, error) { return nil, nil }
func (m *memPositionStore) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memTradeStore struct {
	trades []domain.Trade
}

func (m *memTradeStore) Insert(_ context.Context, trade domain.Trade) error {
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memTradeStore) ListByPosition(context.Context, string) ([]domain.Trade, error) {
	return nil, nil
}

func (m *memTradeStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (m *memTradeStore) List(context.Context, domain.ListOpts) ([]domain.Trade, error) {
	return append([]domain.Trade(nil), m.trades...), nil
}

func (m *memTradeStore) DailyRealizedPnL(context.Context, time.Time) (float64, error) {
	return 0, nil
}

func newTestLedger(cash float64) (*Ledger, *memPositionStore, *memTradeStore) {
	positions := &memPositionStore{}
	trades := &memTradeStore{}
	return New(cash, positions, trades, testLogger()), positions, trades
}

func fillOrder(marketID string, dir domain.Direction, qty int64, price, fee float64) domain.Order {
	return domain.Order{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		Side:        domain.SideYes,
		Direction:   dir,
		Quantity:    qty,
		Strategy:    "sentiment_ensemble",
		Status:      domain.OrderFilled,
		FilledQty:   qty,
		FilledPrice: price,
		Fee:         fee,
	}
}

func TestApplyFillBuyOpensPosition(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, positions, trades := newTestLedger(1000)

	trade, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.4, 1), now)
	require.NoError(t, err)
	assert.Equal(t, int64(100), trade.Quantity)
	assert.Equal(t, 0.4, trade.Price)
	assert.Nil(t, trade.RealizedPnL)

	open := book.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "MKT-A", open[0].MarketID)
	assert.Equal(t, int64(100), open[0].Quantity)
	assert.Equal(t, 0.4, open[0].AvgEntryPrice)
	assert.Equal(t, domain.PositionOpen, open[0].Status)

	state := book.State(now)
	assert.InDelta(t, 1000-100*0.4-1, state.CashBalance, 1e-9)
	assert.Equal(t, 1, state.DailyTradeCount)

	// Write-through: position created once, trade logged.
	require.Len(t, positions.created, 1)
	require.Len(t, trades.trades, 1)
	assert.Equal(t, trade.ID, trades.trades[0].ID)
}

func TestApplyFillBuyAveragesEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, positions, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.4, 0), now)
	require.NoError(t, err)
	_, err = book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.6, 0), now)
	require.NoError(t, err)

	open := book.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, int64(200), open[0].Quantity)
	assert.InDelta(t, 0.5, open[0].AvgEntryPrice, 1e-9)

	// The add updates the existing row rather than creating a second one.
	assert.Len(t, positions.created, 1)
	assert.Len(t, positions.updated, 1)
}

func TestApplyFillBuyInsufficientCash(t *testing.T) {
	ctx := context.Background()
	book, _, trades := newTestLedger(10)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.5, 0), time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cash")

	assert.Empty(t, book.OpenPositions())
	assert.Empty(t, trades.trades)
}

func TestApplyFillSellRealizesPnL(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, _, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.4, 0), now)
	require.NoError(t, err)

	// Partial close at a profit.
	trade, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionSell, 40, 0.7, 2), now)
	require.NoError(t, err)
	require.NotNil(t, trade.RealizedPnL)
	assert.InDelta(t, 40*(0.7-0.4)-2, *trade.RealizedPnL, 1e-9)

	open := book.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, int64(60), open[0].Quantity)
	assert.Equal(t, 0.4, open[0].AvgEntryPrice, "reducing never moves the entry price")

	// Full close.
	trade, err = book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionSell, 60, 0.7, 0), now)
	require.NoError(t, err)
	assert.Empty(t, book.OpenPositions())

	state := book.State(now)
	assert.InDelta(t, 40*0.3-2+60*0.3, state.RealizedPnL, 1e-9)
	assert.InDelta(t, state.RealizedPnL, state.DailyRealizedPnL, 1e-9)
	assert.Equal(t, 3, state.DailyTradeCount)
	assert.InDelta(t, 1000+state.RealizedPnL, state.CashBalance, 1e-9)
}

func TestApplyFillSellWithoutPosition(t *testing.T) {
	ctx := context.Background()
	book, _, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionSell, 10, 0.5, 0), time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyFillSellExceedsHeld(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, _, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 50, 0.4, 0), now)
	require.NoError(t, err)

	_, err = book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionSell, 100, 0.5, 0), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds held")
}

func TestApplyFillRejectsEmptyFill(t *testing.T) {
	ctx := context.Background()
	book, _, _ := newTestLedger(1000)

	order := fillOrder("MKT-A", domain.DirectionBuy, 100, 0.5, 0)
	order.FilledQty = 0
	_, err := book.ApplyFill(ctx, order, time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fill to apply")
}

func TestLoadReplaysTradeLog(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)

	positions := &memPositionStore{}
	trades := &memTradeStore{}
	realized := 10.0
	trades.trades = []domain.Trade{
		{
			ID: "t1", PositionID: "p1", MarketID: "MKT-A", Side: domain.SideYes,
			Direction: domain.DirectionBuy, Quantity: 100, Price: 0.4,
			Strategy: "stat_arb", ExecutedAt: yesterday,
		},
		{
			ID: "t2", PositionID: "p1", MarketID: "MKT-A", Side: domain.SideYes,
			Direction: domain.DirectionSell, Quantity: 50, Price: 0.5,
			RealizedPnL: &realized, Strategy: "stat_arb", ExecutedAt: yesterday.Add(time.Hour),
		},
		{
			ID: "t3", PositionID: "p2", MarketID: "MKT-B", Side: domain.SideYes,
			Direction: domain.DirectionBuy, Quantity: 200, Price: 0.3,
			Strategy: "stat_arb", ExecutedAt: now,
		},
	}

	book := New(1000, positions, trades, testLogger())
	require.NoError(t, book.Load(ctx, now))

	open := book.OpenPositions()
	require.Len(t, open, 2)
	assert.Equal(t, "MKT-A", open[0].MarketID)
	assert.Equal(t, int64(50), open[0].Quantity)
	assert.Equal(t, "MKT-B", open[1].MarketID)
	assert.Equal(t, int64(200), open[1].Quantity)

	state := book.State(now)
	assert.InDelta(t, 1000-100*0.4+50*0.5-200*0.3, state.CashBalance, 1e-9)
	assert.InDelta(t, 10, state.RealizedPnL, 1e-9)

	// Only today's trades count against the daily limits.
	assert.Equal(t, 1, state.DailyTradeCount)
	assert.Zero(t, state.DailyRealizedPnL)

	// Replay is idempotent.
	require.NoError(t, book.Load(ctx, now))
	assert.InDelta(t, state.CashBalance, book.State(now).CashBalance, 1e-9)
}

func TestMarkToMarketAndState(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, _, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.4, 0), now)
	require.NoError(t, err)

	book.MarkToMarket(ctx, []domain.Market{{
		ID:         "MKT-A",
		YesPrice:   0.6,
		NoPrice:    0.4,
		Status:     domain.MarketStatusActive,
		ObservedAt: now,
	}})

	state := book.State(now)
	assert.InDelta(t, 100*0.6, state.PositionValue, 1e-9)
	assert.InDelta(t, 960+60, state.TotalValue, 1e-9)
	assert.InDelta(t, 100*(0.6-0.4), state.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 60.0/1020.0, state.Exposure, 1e-9)
	assert.InDelta(t, 60.0/1020.0, state.MarketExposure["MKT-A"], 1e-9)
	assert.Equal(t, 1, state.OpenPositions)
}

func TestDailyRollover(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	book, _, _ := newTestLedger(1000)

	_, err := book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionBuy, 100, 0.4, 0), now)
	require.NoError(t, err)
	_, err = book.ApplyFill(ctx, fillOrder("MKT-A", domain.DirectionSell, 100, 0.3, 0), now)
	require.NoError(t, err)

	state := book.State(now)
	assert.Equal(t, 2, state.DailyTradeCount)
	assert.InDelta(t, -10, state.DailyRealizedPnL, 1e-9)

	// The next UTC day starts with fresh counters but keeps lifetime PnL.
	tomorrow := now.Add(24 * time.Hour)
	state = book.State(tomorrow)
	assert.Zero(t, state.DailyTradeCount)
	assert.Zero(t, state.DailyRealizedPnL)
	assert.InDelta(t, -10, state.RealizedPnL, 1e-9)
}
