package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata and latest snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByEvent(ctx context.Context, eventID string) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PriceStore persists market price history for momentum and spread windows.
type PriceStore interface {
	Insert(ctx context.Context, point PricePoint) error
	InsertBatch(ctx context.Context, points []PricePoint) error
	History(ctx context.Context, marketID string, since time.Time) ([]PricePoint, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByMarket(ctx context.Context, marketID string, side PositionSide) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// TradeStore persists the append-only trade log.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListByPosition(ctx context.Context, positionID string) ([]Trade, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
	// DailyRealizedPnL sums realized PnL net of fees for trades executed at or
	// after the given cutoff.
	DailyRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// OrderStore persists submitted orders, including unresolved ones awaiting
// reconciliation.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	Update(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByClientOrderID(ctx context.Context, clientOrderID string) (Order, error)
	ListUnresolved(ctx context.Context) ([]Order, error)
	ListByCycle(ctx context.Context, cycleID string) ([]Order, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// SignalStore persists the signal audit trail.
type SignalStore interface {
	InsertBatch(ctx context.Context, records []SignalRecord) error
	ListByCycle(ctx context.Context, cycleID string) ([]SignalRecord, error)
	List(ctx context.Context, opts ListOpts) ([]SignalRecord, error)
}

// CycleStore persists per-cycle reports.
type CycleStore interface {
	Insert(ctx context.Context, report CycleReport) error
	GetByID(ctx context.Context, id string) (CycleReport, error)
	Latest(ctx context.Context) (CycleReport, error)
	ListRecent(ctx context.Context, limit int) ([]CycleReport, error)
}

// RiskSnapshotStore persists periodic portfolio state and metrics snapshots.
type RiskSnapshotStore interface {
	Insert(ctx context.Context, snap RiskSnapshot) error
	Latest(ctx context.Context) (RiskSnapshot, error)
	ListRecent(ctx context.Context, limit int) ([]RiskSnapshot, error)
}

// PairStore persists qualified statistical-arbitrage pairs.
type PairStore interface {
	Upsert(ctx context.Context, pair MarketPair) error
	GetByMarkets(ctx context.Context, marketA, marketB string) (MarketPair, error)
	ListQualified(ctx context.Context) ([]MarketPair, error)
	List(ctx context.Context, opts ListOpts) ([]MarketPair, error)
}

// EventGroupStore persists event groups and their market links.
type EventGroupStore interface {
	Upsert(ctx context.Context, g EventGroup) error
	GetByID(ctx context.Context, id string) (EventGroup, error)
	LinkMarket(ctx context.Context, groupID, marketID string) error
	ListMarkets(ctx context.Context, groupID string) ([]string, error)
	ListExclusive(ctx context.Context) ([]EventGroup, error)
}

// StrategyConfig is a named strategy configuration blob for hot reloads.
type StrategyConfig struct {
	Name      string
	Config    map[string]any
	Enabled   bool
	UpdatedAt time.Time
}

// StrategyConfigStore persists strategy configurations.
type StrategyConfigStore interface {
	Get(ctx context.Context, name string) (StrategyConfig, error)
	Upsert(ctx context.Context, cfg StrategyConfig) error
	List(ctx context.Context) ([]StrategyConfig, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
