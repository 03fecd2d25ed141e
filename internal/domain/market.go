package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is one observation of a prediction market. Snapshots are immutable;
// a fresh observation supersedes the previous one, it never mutates it.
type Market struct {
	ID           string // venue ticker, e.g. "INXD-24AUG21-B5500"
	EventID      string // owning event ticker; groups mutually exclusive markets
	Title        string
	Category     string
	YesPrice     float64 // probability price in [0,1]
	NoPrice      float64
	Volume       float64 // contracts traded over the venue's trailing window
	OpenInterest float64
	Status       MarketStatus
	CloseTime    time.Time
	ObservedAt   time.Time
}

// Tradable reports whether new orders may still be placed on the market.
func (m Market) Tradable(now time.Time) bool {
	return m.Status == MarketStatusActive && (m.CloseTime.IsZero() || now.Before(m.CloseTime))
}

// PricePoint is a single entry in a market's price history.
type PricePoint struct {
	MarketID string
	YesPrice float64
	Volume   float64
	At       time.Time
}
