package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given connection pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

const priceInsertQuery = `
	INSERT INTO price_history (market_id, yes_price, volume, at)
	VALUES ($1, $2, $3, $4)`

// Insert appends a single price point.
func (s *PriceStore) Insert(ctx context.Context, p domain.PricePoint) error {
	_, err := s.pool.Exec(ctx, priceInsertQuery, p.MarketID, p.YesPrice, p.Volume, p.At)
	if err != nil {
		return fmt.Errorf("postgres: insert price point %s: %w", p.MarketID, err)
	}
	return nil
}

// InsertBatch appends multiple price points in a single batch operation.
func (s *PriceStore) InsertBatch(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(priceInsertQuery, p.MarketID, p.YesPrice, p.Volume, p.At)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert price batch item %d: %w", i, err)
		}
	}
	return nil
}

// History returns a market's price points at or after since, oldest first.
func (s *PriceStore) History(ctx context.Context, marketID string, since time.Time) ([]domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_price, volume, at
		 FROM price_history
		 WHERE market_id = $1 AND at >= $2
		 ORDER BY at`, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history %s: %w", marketID, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.MarketID, &p.YesPrice, &p.Volume, &p.At); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: price history rows %s: %w", marketID, err)
	}
	return points, nil
}

// Prune removes price points older than before and reports how many rows were
// deleted.
func (s *PriceStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune price history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.PriceStore = (*PriceStore)(nil)
