package domain

import "time"

// EngineState is the trading engine's lifecycle state.
type EngineState string

const (
	// EngineStopped is the initial and final state; no cycles run.
	EngineStopped EngineState = "stopped"
	// EngineMonitoring runs full decision cycles but discards approved orders
	// instead of submitting them, giving dry-run parity with trading.
	EngineMonitoring EngineState = "monitoring"
	// EngineTrading runs full decision cycles and submits approved orders.
	EngineTrading EngineState = "trading"
	// EngineEmergencyStopped is entered by an explicit emergency stop or an
	// automatic halt (daily-loss breach). Leaving it requires an explicit
	// operator restart; it is never exited automatically.
	EngineEmergencyStopped EngineState = "emergency_stopped"
)

// Running reports whether decision cycles execute in this state.
func (s EngineState) Running() bool {
	return s == EngineMonitoring || s == EngineTrading
}

// EngineStatus is the read-only snapshot served to the observability surface.
type EngineStatus struct {
	State            EngineState
	StartedAt        *time.Time
	StoppedAt        *time.Time
	LastCycleAt      *time.Time
	LastCycleID      string
	CycleCount       int64
	ActiveStrategies []string
	PendingOrders    int // orders awaiting reconciliation
	HaltReason       string
	Alerts           []Alert
}
