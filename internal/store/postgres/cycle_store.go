package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

const cycleCols = `id, seq, state, markets_evaluated, signals_generated,
	signals_approved, signals_rejected, signals_discarded,
	orders_submitted, orders_filled, orders_unknown, reconciled,
	started_at, duration_ms`

func scanCycle(row pgx.Row) (domain.CycleReport, error) {
	var r domain.CycleReport
	var state string
	var durationMs int64

	err := row.Scan(
		&r.ID, &r.Seq, &state, &r.MarketsEvaluated, &r.SignalsGenerated,
		&r.SignalsApproved, &r.SignalsRejected, &r.SignalsDiscarded,
		&r.OrdersSubmitted, &r.OrdersFilled, &r.OrdersUnknown, &r.Reconciled,
		&r.StartedAt, &durationMs,
	)
	if err != nil {
		return domain.CycleReport{}, err
	}
	r.State = domain.EngineState(state)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

// Insert persists one cycle report.
func (s *CycleStore) Insert(ctx context.Context, r domain.CycleReport) error {
	const query = `
		INSERT INTO cycle_reports (
			id, seq, state, markets_evaluated, signals_generated,
			signals_approved, signals_rejected, signals_discarded,
			orders_submitted, orders_filled, orders_unknown, reconciled,
			started_at, duration_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Seq, string(r.State), r.MarketsEvaluated, r.SignalsGenerated,
		r.SignalsApproved, r.SignalsRejected, r.SignalsDiscarded,
		r.OrdersSubmitted, r.OrdersFilled, r.OrdersUnknown, r.Reconciled,
		r.StartedAt, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle report %s: %w", r.ID, err)
	}
	return nil
}

// GetByID retrieves a cycle report by its primary key.
func (s *CycleStore) GetByID(ctx context.Context, id string) (domain.CycleReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cycleCols+` FROM cycle_reports WHERE id = $1`, id)

	r, err := scanCycle(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CycleReport{}, domain.ErrNotFound
		}
		return domain.CycleReport{}, fmt.Errorf("postgres: get cycle report %s: %w", id, err)
	}
	return r, nil
}

// Latest returns the most recent cycle report.
func (s *CycleStore) Latest(ctx context.Context) (domain.CycleReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cycleCols+` FROM cycle_reports
		 ORDER BY started_at DESC
		 LIMIT 1`)

	r, err := scanCycle(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CycleReport{}, domain.ErrNotFound
		}
		return domain.CycleReport{}, fmt.Errorf("postgres: latest cycle report: %w", err)
	}
	return r, nil
}

// ListRecent returns up to limit cycle reports, newest first.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]domain.CycleReport, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleCols+` FROM cycle_reports
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent cycle reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.CycleReport
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan cycle report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent cycle reports rows: %w", err)
	}
	return reports, nil
}

// Compile-time interface check.
var _ domain.CycleStore = (*CycleStore)(nil)
