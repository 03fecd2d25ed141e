package domain

import "time"

// AlertLevel is the severity of an operational alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert codes raised by the engine and risk manager.
const (
	AlertCodeDailyLossHalt     = "daily_loss_halt"
	AlertCodeEmergencyStop     = "emergency_stop"
	AlertCodeExposureWarning   = "exposure_warning"
	AlertCodePositionWarning   = "position_limit_warning"
	AlertCodeDailyLossWarning  = "daily_loss_warning"
	AlertCodeRiskLevelChange   = "risk_level_change"
	AlertCodeReconcileFailed   = "reconcile_failed"
	AlertCodeStopLossTriggered = "stop_loss_triggered"
)

// Alert is an operator-facing event. Active alerts are part of the
// observability snapshot; critical ones are also dispatched to notifiers.
type Alert struct {
	ID        string // uuid
	Level     AlertLevel
	Code      string
	Message   string
	MarketID  string // optional
	Detail    map[string]any
	CreatedAt time.Time
}
