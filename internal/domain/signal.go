package domain

import "time"

// Direction is a strategy's recommended action for a market.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Signal is a strategy's recommendation for one market. Signals are ephemeral:
// each is evaluated exactly once by the risk manager and survives only in the
// audit trail.
type Signal struct {
	ID         string // uuid
	Strategy   string // producing strategy name
	MarketID   string
	Side       PositionSide // contract side the direction refers to
	Direction  Direction
	Strength   float64 // [0,1]; |adjusted sentiment| or z-derived magnitude
	Confidence float64 // [0,1]; composite ensemble confidence
	Allocation float64 // suggested fraction of portfolio value, [0,1]
	PairID     string  // non-empty when part of a coupled long/short pair
	Closing    bool    // true when the signal reduces or exits an open position
	Reason     string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Actionable reports whether the signal requests a trade at all.
func (s Signal) Actionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}

// Disposition is the terminal outcome of a signal's risk evaluation.
type Disposition string

const (
	// DispositionApproved means the signal passed risk and produced an order.
	DispositionApproved Disposition = "approved"
	// DispositionRejected means a risk check failed; Reason carries the code.
	DispositionRejected Disposition = "rejected"
	// DispositionDiscarded means the signal was approved but no order was
	// submitted: monitoring mode, emergency stop, or a dropped pair sibling.
	DispositionDiscarded Disposition = "discarded"
)

// SignalRecord is the persisted audit row for one evaluated signal.
type SignalRecord struct {
	SignalID    string
	CycleID     string
	Strategy    string
	MarketID    string
	Direction   Direction
	Strength    float64
	Confidence  float64
	Allocation  float64
	Disposition Disposition
	Reason      string
	OrderID     string // empty unless an order was submitted
	CreatedAt   time.Time
}
