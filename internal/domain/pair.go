package domain

import "time"

// PairStatus is the qualification state of a market pair.
type PairStatus string

const (
	// PairQualified means correlation holds above the entry minimum.
	PairQualified PairStatus = "qualified"
	// PairDropped means correlation decayed; the pair is ignored until it
	// requalifies.
	PairDropped PairStatus = "dropped"
)

// MarketPair is a correlated market pair tracked by the statistical-arbitrage
// strategy. MarketA sorts lexicographically before MarketB so each unordered
// pair has exactly one row.
type MarketPair struct {
	ID          string // uuid
	MarketA     string
	MarketB     string
	Correlation float64
	SpreadMean  float64
	SpreadStd   float64
	LastZScore  float64
	Status      PairStatus
	QualifiedAt time.Time
	UpdatedAt   time.Time
}

// Key returns the canonical "a|b" identifier for the unordered pair.
func (p MarketPair) Key() string {
	return PairKey(p.MarketA, p.MarketB)
}

// PairKey builds the canonical key for two market IDs in either order.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
