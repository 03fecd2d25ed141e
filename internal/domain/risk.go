package domain

import "time"

// RejectReason identifies the first risk check a signal failed. The check
// order is fixed, so identical inputs always produce the identical reason.
type RejectReason string

const (
	RejectDailyTradeLimit  RejectReason = "DailyTradeLimitExceeded"
	RejectDailyLossLimit   RejectReason = "DailyLossLimitExceeded"
	RejectPositionLimit    RejectReason = "PositionLimitExceeded"
	RejectExposureLimit    RejectReason = "ExposureLimitExceeded"
	RejectStopLossActive   RejectReason = "StopLossActive"
	RejectCorrelationLimit RejectReason = "CorrelationLimitExceeded"
)

// RiskLimits is the immutable risk configuration. The risk manager only reads
// it; it is replaced wholesale on reconfiguration, never edited in place.
type RiskLimits struct {
	MaxPortfolioExposure float64 // fraction of total value, (0,1]
	MaxPositionSize      float64 // fraction of total value per market, (0,1]
	MaxOpenPositions     int
	MaxDailyTrades       int
	MaxDailyLoss         float64 // fraction of total value, (0,1]
	StopLossEnabled      bool
	StopLossPct          float64 // unrealized loss fraction triggering the stop
	MaxCorrelation       float64 // pairwise cap for same-direction exposure
	VaRConfidence        float64 // e.g. 0.95
	WarnFraction         float64 // proximity-warning threshold, e.g. 0.8
}

// Decision is the risk manager's verdict on one signal.
type Decision struct {
	Approved bool
	Order    *Order       // set when approved; quantity may be scaled down
	Reason   RejectReason // set when rejected
	Detail   string

	// ScaledFrom records the pre-scaling quantity when headroom forced the
	// order smaller than the signal suggested. Zero means no scaling.
	ScaledFrom int64

	// Halt signals the orchestrator that trading must stop immediately
	// (daily-loss breach). The engine transitions to emergency stop.
	Halt bool

	// Warnings carry proximity alerts raised while evaluating, regardless of
	// the verdict.
	Warnings []Alert

	EvaluatedAt time.Time
}
