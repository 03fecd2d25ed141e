package domain

import "time"

// OrderStatus is the engine's view of an order's execution state.
type OrderStatus string

const (
	// OrderPending means the order exists locally but no venue ack is recorded.
	OrderPending OrderStatus = "pending"
	// OrderSubmitted means the venue acknowledged the order.
	OrderSubmitted OrderStatus = "submitted"
	// OrderFilled means the venue confirmed a fill.
	OrderFilled OrderStatus = "filled"
	// OrderCanceled means the order was canceled before filling.
	OrderCanceled OrderStatus = "canceled"
	// OrderRejected means the venue refused the order.
	OrderRejected OrderStatus = "rejected"
	// OrderUnknown means submission timed out or returned ambiguously. The
	// order must be reconciled by status polling before it is resolved; it is
	// never assumed filled or dropped.
	OrderUnknown OrderStatus = "unknown"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	}
	return false
}

// Order is a risk-approved instruction sent (or about to be sent) to the
// execution venue. ClientOrderID is the idempotency key: resubmission with the
// same key can never produce a duplicate fill.
type Order struct {
	ID            string // uuid
	ClientOrderID string // uuid idempotency key, generated once per order
	VenueOrderID  string // venue-assigned id, set on ack
	SignalID      string
	CycleID       string
	MarketID      string
	Side          PositionSide
	Direction     Direction
	Quantity      int64
	LimitPrice    float64 // probability price in [0,1]; 0 means marketable
	Strategy      string
	Status        OrderStatus
	FilledQty     int64
	FilledPrice   float64
	Fee           float64
	Message       string // venue rejection or error detail
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderAck is the venue's synchronous response to a submission.
type OrderAck struct {
	VenueOrderID string
	Status       OrderStatus
	FilledQty    int64
	FilledPrice  float64
	Fee          float64
	Message      string
}

// OrderStatusResult is the venue's answer to a status poll.
type OrderStatusResult struct {
	VenueOrderID string
	Status       OrderStatus
	FilledQty    int64
	FilledPrice  float64
	Fee          float64
	Message      string
}
