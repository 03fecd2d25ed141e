package domain

import "time"

// PositionSide is the contract side a position holds.
type PositionSide string

const (
	SideYes PositionSide = "yes"
	SideNo  PositionSide = "no"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is a holding in one market. Quantity is strictly positive while
// open; closing zeroes the quantity and flips the status atomically with the
// closing trade. AvgEntryPrice is the quantity-weighted mean of all adding
// trades and is never changed by reducing or closing trades.
type Position struct {
	ID            string // uuid
	MarketID      string
	Side          PositionSide
	Quantity      int64 // contracts
	AvgEntryPrice float64
	CurrentPrice  float64
	RealizedPnL   float64
	Strategy      string // attribution to the originating strategy
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
	UpdatedAt     time.Time
}

// MarketValue is the current mark-to-market value of the position.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// CostBasis is the total capital committed at entry.
func (p Position) CostBasis() float64 {
	return float64(p.Quantity) * p.AvgEntryPrice
}

// UnrealizedPnL is the open profit or loss at the current price.
func (p Position) UnrealizedPnL() float64 {
	return float64(p.Quantity) * (p.CurrentPrice - p.AvgEntryPrice)
}

// UnrealizedReturn is the unrealized PnL as a fraction of cost basis.
// Zero-cost positions report zero.
func (p Position) UnrealizedReturn() float64 {
	basis := p.CostBasis()
	if basis == 0 {
		return 0
	}
	return p.UnrealizedPnL() / basis
}
