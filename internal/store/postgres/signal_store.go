package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL. Signal records
// are the append-only audit trail of every evaluated signal.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `signal_id, cycle_id, strategy_name, market_id, direction,
	strength, confidence, allocation, disposition, reason, order_id, created_at`

const signalInsertQuery = `
	INSERT INTO signal_records (
		signal_id, cycle_id, strategy_name, market_id, direction,
		strength, confidence, allocation, disposition, reason, order_id, created_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10, $11, $12
	)
	ON CONFLICT (signal_id) DO NOTHING`

// InsertBatch appends signal records in a single batch operation. Records are
// keyed by signal ID so a retried batch never duplicates rows.
func (s *SignalStore) InsertBatch(ctx context.Context, records []domain.SignalRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(signalInsertQuery,
			r.SignalID, r.CycleID, r.Strategy, r.MarketID, string(r.Direction),
			r.Strength, r.Confidence, r.Allocation, string(r.Disposition),
			r.Reason, r.OrderID, r.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert signal batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.SignalRecord, error) {
	var records []domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		var direction, disposition string

		if err := rows.Scan(
			&r.SignalID, &r.CycleID, &r.Strategy, &r.MarketID, &direction,
			&r.Strength, &r.Confidence, &r.Allocation, &disposition,
			&r.Reason, &r.OrderID, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Direction = domain.Direction(direction)
		r.Disposition = domain.Disposition(disposition)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListByCycle returns all signal records for one engine cycle.
func (s *SignalStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.SignalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalCols+` FROM signal_records
		 WHERE cycle_id = $1
		 ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals by cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	records, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals by cycle %s: %w", cycleID, err)
	}
	return records, nil
}

// List returns signal records with pagination and optional time filtering,
// newest first.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	query := `SELECT ` + signalCols + ` FROM signal_records WHERE 1=1`
	args := []any{}

	query, args = appendTimeFilters(query, args, 1, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	records, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
