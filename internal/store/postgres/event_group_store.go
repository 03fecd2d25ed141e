package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// EventGroupStore implements domain.EventGroupStore using PostgreSQL.
type EventGroupStore struct {
	pool *pgxpool.Pool
}

// NewEventGroupStore creates a new EventGroupStore backed by the given
// connection pool.
func NewEventGroupStore(pool *pgxpool.Pool) *EventGroupStore {
	return &EventGroupStore{pool: pool}
}

const eventGroupCols = `id, title, category, mutually_exclusive, status, created_at, updated_at`

func scanEventGroup(row pgx.Row) (domain.EventGroup, error) {
	var g domain.EventGroup
	err := row.Scan(
		&g.ID, &g.Title, &g.Category, &g.MutuallyExclusive,
		&g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.EventGroup{}, err
	}
	return g, nil
}

// Upsert inserts or updates an event group.
func (s *EventGroupStore) Upsert(ctx context.Context, g domain.EventGroup) error {
	const query = `
		INSERT INTO event_groups (id, title, category, mutually_exclusive, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title              = EXCLUDED.title,
			category           = EXCLUDED.category,
			mutually_exclusive = EXCLUDED.mutually_exclusive,
			status             = EXCLUDED.status,
			updated_at         = NOW()`

	_, err := s.pool.Exec(ctx, query,
		g.ID, g.Title, g.Category, g.MutuallyExclusive, g.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert event group %s: %w", g.ID, err)
	}
	return nil
}

// GetByID retrieves an event group by its event ticker.
func (s *EventGroupStore) GetByID(ctx context.Context, id string) (domain.EventGroup, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventGroupCols+` FROM event_groups WHERE id = $1`, id)

	g, err := scanEventGroup(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.EventGroup{}, domain.ErrNotFound
		}
		return domain.EventGroup{}, fmt.Errorf("postgres: get event group %s: %w", id, err)
	}
	return g, nil
}

// LinkMarket records a market's membership in an event group. Linking the
// same pair twice is a no-op.
func (s *EventGroupStore) LinkMarket(ctx context.Context, groupID, marketID string) error {
	const query = `
		INSERT INTO event_group_markets (group_id, market_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, market_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, groupID, marketID)
	if err != nil {
		return fmt.Errorf("postgres: link market %s to group %s: %w", marketID, groupID, err)
	}
	return nil
}

// ListMarkets returns the market IDs belonging to one event group.
func (s *EventGroupStore) ListMarkets(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id FROM event_group_markets
		 WHERE group_id = $1
		 ORDER BY market_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan group market: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets for group %s rows: %w", groupID, err)
	}
	return ids, nil
}

// ListExclusive returns all active mutually exclusive event groups.
func (s *EventGroupStore) ListExclusive(ctx context.Context) ([]domain.EventGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventGroupCols+` FROM event_groups
		 WHERE mutually_exclusive AND status = 'active'
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exclusive event groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.EventGroup
	for rows.Next() {
		g, err := scanEventGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list exclusive event groups rows: %w", err)
	}
	return groups, nil
}

// Compile-time interface check.
var _ domain.EventGroupStore = (*EventGroupStore)(nil)
