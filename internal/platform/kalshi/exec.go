package kalshi

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// ExecutionClient adapts the REST client to the engine's execution boundary.
type ExecutionClient struct {
	client  *Client
	flatFee float64
}

// NewExecutionClient wraps a REST client as a domain.ExecutionClient.
func NewExecutionClient(client *Client) *ExecutionClient {
	return &ExecutionClient{client: client}
}

// SetFlatFee configures a per-contract fee in dollars, applied to fills when
// the venue reports no fee of its own.
func (e *ExecutionClient) SetFlatFee(fee float64) {
	e.flatFee = fee
}

func (e *ExecutionClient) fillFee(venueFee float64, filledQty int64) float64 {
	if venueFee > 0 || filledQty <= 0 {
		return venueFee
	}
	return e.flatFee * float64(filledQty)
}

// Submit places an order on the venue. The order's ClientOrderID is forwarded
// as the venue idempotency key, so a retried submission never double-fills.
func (e *ExecutionClient) Submit(ctx context.Context, order domain.Order) (domain.OrderAck, error) {
	req := KalshiOrder{
		Ticker:        order.MarketID,
		ClientOrderID: order.ClientOrderID,
		Action:        string(order.Direction),
		Side:          string(order.Side),
		Type:          "market",
		Count:         order.Quantity,
	}

	if order.LimitPrice > 0 {
		req.Type = "limit"
		cents := int64(math.Round(order.LimitPrice * 100))
		if cents < 1 {
			cents = 1
		}
		if cents > 99 {
			cents = 99
		}
		if order.Side == domain.SideNo {
			req.NoPrice = &cents
		} else {
			req.YesPrice = &cents
		}
	}

	state, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("kalshi: submit order %s: %w", order.ClientOrderID, err)
	}

	return domain.OrderAck{
		VenueOrderID: state.OrderID,
		Status:       state.DomainStatus(),
		FilledQty:    state.FilledCount(),
		FilledPrice:  state.AvgFillPrice(),
		Fee:          e.fillFee(float64(state.TakerFees)/100, state.FilledCount()),
	}, nil
}

// Status polls the venue for an order's current state.
func (e *ExecutionClient) Status(ctx context.Context, venueOrderID string) (domain.OrderStatusResult, error) {
	state, err := e.client.GetOrder(ctx, venueOrderID)
	if err != nil {
		return domain.OrderStatusResult{}, fmt.Errorf("kalshi: order status %s: %w", venueOrderID, err)
	}

	return domain.OrderStatusResult{
		VenueOrderID: state.OrderID,
		Status:       state.DomainStatus(),
		FilledQty:    state.FilledCount(),
		FilledPrice:  state.AvgFillPrice(),
		Fee:          e.fillFee(float64(state.TakerFees)/100, state.FilledCount()),
	}, nil
}

// Cancel cancels a resting order.
func (e *ExecutionClient) Cancel(ctx context.Context, venueOrderID string) error {
	return e.client.CancelOrder(ctx, venueOrderID)
}

// Balance returns the available cash balance in dollars.
func (e *ExecutionClient) Balance(ctx context.Context) (float64, error) {
	cents, err := e.client.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return float64(cents) / 100, nil
}

// Compile-time interface check.
var _ domain.ExecutionClient = (*ExecutionClient)(nil)
