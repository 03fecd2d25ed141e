package domain

import "time"

// SentimentObservation is one model's sentiment reading for a market.
// Observations accumulate; they are combined downstream, never overwritten.
type SentimentObservation struct {
	MarketID   string
	Model      string  // scoring model identifier, e.g. "finbert-v2"
	Score      float64 // raw sentiment in [-1,1]
	Confidence float64 // model confidence in [0,1]
	ObservedAt time.Time
}

// Valid reports whether the observation is well formed. Malformed observations
// are dropped by consumers rather than treated as errors.
func (o SentimentObservation) Valid() bool {
	if o.MarketID == "" || o.Model == "" {
		return false
	}
	if o.Score < -1 || o.Score > 1 {
		return false
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return false
	}
	return !o.ObservedAt.IsZero()
}
