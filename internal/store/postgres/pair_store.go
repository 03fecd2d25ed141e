package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// PairStore implements domain.PairStore using PostgreSQL. Pairs are stored
// with market_a < market_b so each unordered pair has exactly one row.
type PairStore struct {
	pool *pgxpool.Pool
}

// NewPairStore creates a new PairStore backed by the given connection pool.
func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

const pairCols = `id, market_a, market_b, correlation, spread_mean,
	spread_std, last_z_score, status, qualified_at, updated_at`

func scanPair(row pgx.Row) (domain.MarketPair, error) {
	var p domain.MarketPair
	var status string

	err := row.Scan(
		&p.ID, &p.MarketA, &p.MarketB, &p.Correlation, &p.SpreadMean,
		&p.SpreadStd, &p.LastZScore, &status, &p.QualifiedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.MarketPair{}, err
	}
	p.Status = domain.PairStatus(status)
	return p, nil
}

func scanPairRows(rows pgx.Rows) ([]domain.MarketPair, error) {
	var pairs []domain.MarketPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// Upsert inserts or updates a pair. Markets are canonicalized so MarketA
// sorts before MarketB regardless of the caller's ordering.
func (s *PairStore) Upsert(ctx context.Context, p domain.MarketPair) error {
	a, b := p.MarketA, p.MarketB
	if b < a {
		a, b = b, a
	}

	const query = `
		INSERT INTO market_pairs (
			id, market_a, market_b, correlation, spread_mean,
			spread_std, last_z_score, status, qualified_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW()
		)
		ON CONFLICT (market_a, market_b) DO UPDATE SET
			correlation  = EXCLUDED.correlation,
			spread_mean  = EXCLUDED.spread_mean,
			spread_std   = EXCLUDED.spread_std,
			last_z_score = EXCLUDED.last_z_score,
			status       = EXCLUDED.status,
			qualified_at = EXCLUDED.qualified_at,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, a, b, p.Correlation, p.SpreadMean,
		p.SpreadStd, p.LastZScore, string(p.Status), p.QualifiedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pair %s: %w", domain.PairKey(a, b), err)
	}
	return nil
}

// GetByMarkets retrieves a pair by its two market IDs in either order.
func (s *PairStore) GetByMarkets(ctx context.Context, marketA, marketB string) (domain.MarketPair, error) {
	a, b := marketA, marketB
	if b < a {
		a, b = b, a
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pairCols+` FROM market_pairs
		 WHERE market_a = $1 AND market_b = $2`, a, b)

	p, err := scanPair(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketPair{}, domain.ErrNotFound
		}
		return domain.MarketPair{}, fmt.Errorf("postgres: get pair %s: %w", domain.PairKey(a, b), err)
	}
	return p, nil
}

// ListQualified returns all currently qualified pairs.
func (s *PairStore) ListQualified(ctx context.Context) ([]domain.MarketPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pairCols+` FROM market_pairs
		 WHERE status = 'qualified'
		 ORDER BY correlation DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list qualified pairs: %w", err)
	}
	defer rows.Close()

	pairs, err := scanPairRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan qualified pairs: %w", err)
	}
	return pairs, nil
}

// List returns pairs with pagination and optional time filtering, most
// recently updated first.
func (s *PairStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketPair, error) {
	query := `SELECT ` + pairCols + ` FROM market_pairs WHERE 1=1`
	args := []any{}

	query, args = appendTimeFilters(query, args, 1, "updated_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pairs: %w", err)
	}
	defer rows.Close()

	pairs, err := scanPairRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pairs: %w", err)
	}
	return pairs, nil
}

// Compile-time interface check.
var _ domain.PairStore = (*PairStore)(nil)
