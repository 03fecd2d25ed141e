package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// unackedGrace is how long an order with no venue ID may stay unresolved
// before it is written off as never acknowledged.
const unackedGrace = 15 * time.Minute

// reconcile polls the venue for every unresolved order and applies what it
// learns. Orders that cannot be resolved stay unknown; they are retried next
// cycle and never assumed filled or dropped.
func (e *Engine) reconcile(ctx context.Context, cycleID string) int {
	unresolved, err := e.deps.Orders.ListUnresolved(ctx)
	if err != nil {
		e.logger.Error("unresolved order list failed", slog.String("error", err.Error()))
		return 0
	}
	if len(unresolved) == 0 {
		return 0
	}

	now := time.Now().UTC()
	resolved := 0
	failures := 0

	for _, o := range unresolved {
		if o.VenueOrderID == "" {
			// Never acknowledged: the venue has no handle to poll. The
			// idempotency key guarantees a lost submission cannot fill later
			// under a different identity, so after the grace period the order
			// is closed out as canceled.
			if now.Sub(o.CreatedAt) > unackedGrace {
				o.Status = domain.OrderCanceled
				o.Message = "no venue acknowledgement"
				o.UpdatedAt = now
				if err := e.deps.Orders.Update(ctx, o); err != nil {
					e.logger.Error("order update failed",
						slog.String("order_id", o.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				resolved++
			}
			continue
		}

		res, err := e.deps.Exec.Status(ctx, o.VenueOrderID)
		if err != nil {
			failures++
			e.logger.Debug("order status poll failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if res.Status == o.Status && res.FilledQty == o.FilledQty {
			continue
		}

		wasFilled := o.Status == domain.OrderFilled
		o.Status = res.Status
		o.FilledQty = res.FilledQty
		o.FilledPrice = res.FilledPrice
		if res.Fee > 0 {
			o.Fee = res.Fee
		}
		if res.Message != "" {
			o.Message = res.Message
		}
		o.UpdatedAt = now

		if err := e.deps.Orders.Update(ctx, o); err != nil {
			e.logger.Error("order update failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if res.Status == domain.OrderFilled && !wasFilled {
			e.applyFill(ctx, o, now)
		}
		if res.Status.Terminal() {
			resolved++
			e.logger.Info("order reconciled",
				slog.String("order_id", o.ID),
				slog.String("status", string(res.Status)),
			)
		}
	}

	if failures > 0 {
		e.raiseAlert(ctx, domain.Alert{
			Level:   domain.AlertWarning,
			Code:    domain.AlertCodeReconcileFailed,
			Message: "some unresolved orders could not be reconciled",
			Detail: map[string]any{
				"cycle_id":   cycleID,
				"failures":   failures,
				"unresolved": len(unresolved),
			},
			CreatedAt: now,
		})
	}
	return resolved
}
