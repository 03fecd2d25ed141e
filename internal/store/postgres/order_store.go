package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, client_order_id, venue_order_id, signal_id, cycle_id,
	market_id, side, direction, quantity, limit_price, strategy_name,
	status, filled_qty, filled_price, fee, message, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, direction, status string

	err := row.Scan(
		&o.ID, &o.ClientOrderID, &o.VenueOrderID, &o.SignalID, &o.CycleID,
		&o.MarketID, &side, &direction, &o.Quantity, &o.LimitPrice, &o.Strategy,
		&status, &o.FilledQty, &o.FilledPrice, &o.Fee, &o.Message,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.PositionSide(side)
	o.Direction = domain.Direction(direction)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, client_order_id, venue_order_id, signal_id, cycle_id,
			market_id, side, direction, quantity, limit_price, strategy_name,
			status, filled_qty, filled_price, fee, message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ClientOrderID, o.VenueOrderID, o.SignalID, o.CycleID,
		o.MarketID, string(o.Side), string(o.Direction), o.Quantity, o.LimitPrice, o.Strategy,
		string(o.Status), o.FilledQty, o.FilledPrice, o.Fee, o.Message, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of an order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			venue_order_id = $2,
			status         = $3,
			filled_qty     = $4,
			filled_price   = $5,
			fee            = $6,
			message        = $7,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.VenueOrderID, string(o.Status),
		o.FilledQty, o.FilledPrice, o.Fee, o.Message,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves an order by its primary key.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByClientOrderID retrieves an order by its idempotency key.
func (s *OrderStore) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE client_order_id = $1`, clientOrderID)

	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by client id %s: %w", clientOrderID, err)
	}
	return o, nil
}

// ListUnresolved returns orders whose status is not terminal, oldest first.
// These are the orders the reconciliation pass polls the venue about.
func (s *OrderStore) ListUnresolved(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status IN ('pending', 'submitted', 'unknown')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unresolved orders: %w", err)
	}
	return orders, nil
}

// ListByCycle returns all orders created during one engine cycle.
func (s *OrderStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE cycle_id = $1
		 ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by cycle %s: %w", cycleID, err)
	}
	return orders, nil
}

// CountSince counts orders created at or after the given cutoff, excluding
// rejected ones. This backs the daily trade-count limit.
func (s *OrderStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE created_at >= $1 AND status <> 'rejected'`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count orders since: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
