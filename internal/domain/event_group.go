package domain

import "time"

// EventGroup wraps the markets that belong to one venue event. When the
// event's outcomes are mutually exclusive, the members' YES prices should sum
// to at most one plus fees; sums above that are a probability-arbitrage edge.
type EventGroup struct {
	ID                string // venue event ticker
	Title             string
	Category          string
	MutuallyExclusive bool
	Status            string // active, closed, settled
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EventGroupMarket is the junction row linking a group to a member market.
type EventGroupMarket struct {
	GroupID  string
	MarketID string
}
