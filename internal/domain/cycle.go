package domain

import "time"

// CycleReport summarizes one engine decision cycle. One report is persisted
// per cycle regardless of outcome; the observability surface serves the most
// recent one as "last cycle".
type CycleReport struct {
	ID               string // uuid
	Seq              int64
	State            EngineState // state the cycle ran under
	MarketsEvaluated int
	SignalsGenerated int
	SignalsApproved  int
	SignalsRejected  int
	SignalsDiscarded int
	OrdersSubmitted  int
	OrdersFilled     int
	OrdersUnknown    int
	Reconciled       int
	Records          []SignalRecord `json:"-"` // persisted separately
	StartedAt        time.Time
	Duration         time.Duration
}
