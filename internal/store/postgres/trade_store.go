package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trades table
// is append-only; there is no update path.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, position_id, order_id, market_id, side, direction,
	quantity, price, fee, realized_pnl, strategy_name, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var side, direction string

	err := row.Scan(
		&t.ID, &t.PositionID, &t.OrderID, &t.MarketID, &side, &direction,
		&t.Quantity, &t.Price, &t.Fee, &t.RealizedPnL, &t.Strategy, &t.ExecutedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.PositionSide(side)
	t.Direction = domain.Direction(direction)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a trade to the log.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, position_id, order_id, market_id, side, direction,
			quantity, price, fee, realized_pnl, strategy_name, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.OrderID, t.MarketID, string(t.Side), string(t.Direction),
		t.Quantity, t.Price, t.Fee, t.RealizedPnL, t.Strategy, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByPosition returns all trades for one position, oldest first. Replaying
// them in order reconstructs the position's entry price and realized PnL.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE position_id = $1
		 ORDER BY executed_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by position %s: %w", positionID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by position %s: %w", positionID, err)
	}
	return trades, nil
}

// ListByMarket returns trades for one market with pagination and optional
// time filtering, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	query, args = appendTimeFilters(query, args, argIdx, "executed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market %s: %w", marketID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market %s: %w", marketID, err)
	}
	return trades, nil
}

// List returns trades with pagination and optional time filtering, newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE 1=1`
	args := []any{}

	query, args = appendTimeFilters(query, args, 1, "executed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DailyRealizedPnL sums realized PnL net of fees for trades executed at or
// after the given cutoff.
func (s *TradeStore) DailyRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var pnl float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) - COALESCE(SUM(fee), 0)
		 FROM trades
		 WHERE executed_at >= $1`, since).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily realized pnl: %w", err)
	}
	return pnl, nil
}

// appendTimeFilters adds since/until predicates, descending order, and
// limit/offset to a list query.
func appendTimeFilters(query string, args []any, argIdx int, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", col, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", col, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", col)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
