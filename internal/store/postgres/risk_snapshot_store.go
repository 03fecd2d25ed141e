package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// RiskSnapshotStore implements domain.RiskSnapshotStore using PostgreSQL.
// State and metrics are stored as JSONB; snapshots are read back whole, never
// queried field by field.
type RiskSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewRiskSnapshotStore creates a new RiskSnapshotStore backed by the given
// connection pool.
func NewRiskSnapshotStore(pool *pgxpool.Pool) *RiskSnapshotStore {
	return &RiskSnapshotStore{pool: pool}
}

// Insert persists one snapshot.
func (s *RiskSnapshotStore) Insert(ctx context.Context, snap domain.RiskSnapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot state: %w", err)
	}
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot metrics: %w", err)
	}

	const query = `
		INSERT INTO risk_snapshots (state_json, metrics_json, recorded_at)
		VALUES ($1, $2, $3)`

	_, err = s.pool.Exec(ctx, query, stateJSON, metricsJSON, snap.RecordedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert risk snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (domain.RiskSnapshot, error) {
	var snap domain.RiskSnapshot
	var stateJSON, metricsJSON []byte

	if err := row.Scan(&snap.ID, &stateJSON, &metricsJSON, &snap.RecordedAt); err != nil {
		return domain.RiskSnapshot{}, err
	}
	if err := json.Unmarshal(stateJSON, &snap.State); err != nil {
		return domain.RiskSnapshot{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, &snap.Metrics); err != nil {
		return domain.RiskSnapshot{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return snap, nil
}

// Latest returns the most recent snapshot.
func (s *RiskSnapshotStore) Latest(ctx context.Context) (domain.RiskSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state_json, metrics_json, recorded_at
		 FROM risk_snapshots
		 ORDER BY recorded_at DESC
		 LIMIT 1`)

	snap, err := scanSnapshot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RiskSnapshot{}, domain.ErrNotFound
		}
		return domain.RiskSnapshot{}, fmt.Errorf("postgres: latest risk snapshot: %w", err)
	}
	return snap, nil
}

// ListRecent returns up to limit snapshots, newest first.
func (s *RiskSnapshotStore) ListRecent(ctx context.Context, limit int) ([]domain.RiskSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, state_json, metrics_json, recorded_at
		 FROM risk_snapshots
		 ORDER BY recorded_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent risk snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.RiskSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan risk snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent risk snapshots rows: %w", err)
	}
	return snaps, nil
}

// Compile-time interface check.
var _ domain.RiskSnapshotStore = (*RiskSnapshotStore)(nil)
