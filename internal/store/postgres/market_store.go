package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketUpsertQuery = `
	INSERT INTO markets (
		id, event_id, title, category,
		yes_price, no_price, volume, open_interest,
		status, close_time, observed_at, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		event_id      = EXCLUDED.event_id,
		title         = EXCLUDED.title,
		category      = EXCLUDED.category,
		yes_price     = EXCLUDED.yes_price,
		no_price      = EXCLUDED.no_price,
		volume        = EXCLUDED.volume,
		open_interest = EXCLUDED.open_interest,
		status        = EXCLUDED.status,
		close_time    = EXCLUDED.close_time,
		observed_at   = EXCLUDED.observed_at,
		updated_at    = NOW()`

func marketUpsertArgs(m domain.Market) []any {
	var closeTime any
	if !m.CloseTime.IsZero() {
		closeTime = m.CloseTime
	}
	return []any{
		m.ID, m.EventID, m.Title, m.Category,
		m.YesPrice, m.NoPrice, m.Volume, m.OpenInterest,
		string(m.Status), closeTime, m.ObservedAt,
	}
}

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx, marketUpsertQuery, marketUpsertArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch operation.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(marketUpsertQuery, marketUpsertArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `id, event_id, title, category,
	yes_price, no_price, volume, open_interest,
	status, close_time, observed_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var closeTime *time.Time
	err := row.Scan(
		&m.ID, &m.EventID, &m.Title, &m.Category,
		&m.YesPrice, &m.NoPrice, &m.Volume, &m.OpenInterest,
		&status, &closeTime, &m.ObservedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if closeTime != nil {
		m.CloseTime = *closeTime
	}
	return m, nil
}

// GetByID retrieves a market by its ticker.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns active markets with pagination and optional time filtering.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY volume DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active markets: %w", err)
	}
	return markets, nil
}

// ListByEvent returns all markets belonging to one venue event.
func (s *MarketStore) ListByEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by event %s: %w", eventID, err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets by event %s: %w", eventID, err)
	}
	return markets, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
