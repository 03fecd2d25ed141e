package domain

import "time"

// Trade is an immutable executed-fill fact. Trades are append-only; replaying
// a position's trades in timestamp order reconstructs its average entry price
// and realized PnL exactly.
type Trade struct {
	ID          string // uuid
	PositionID  string // empty only while the opening trade is being applied
	OrderID     string
	MarketID    string
	Side        PositionSide
	Direction   Direction // buy adds to the position, sell reduces it
	Quantity    int64
	Price       float64
	Fee         float64
	RealizedPnL *float64 // set only on reducing or closing trades
	Strategy    string
	ExecutedAt  time.Time
}

// Notional is the cash value of the fill excluding fees.
func (t Trade) Notional() float64 {
	return float64(t.Quantity) * t.Price
}
