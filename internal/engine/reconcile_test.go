package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func TestReconcileUnackedOrders(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})
	now := time.Now().UTC()

	fx.orders.unresolved = []domain.Order{
		{
			ID:        "stale",
			MarketID:  "MKT-A",
			Status:    domain.OrderPending,
			CreatedAt: now.Add(-20 * time.Minute),
		},
		{
			ID:        "fresh",
			MarketID:  "MKT-A",
			Status:    domain.OrderPending,
			CreatedAt: now.Add(-1 * time.Minute),
		},
	}

	resolved := fx.engine.reconcile(ctx, "cycle-1")
	assert.Equal(t, 1, resolved)

	// Past the grace period with no venue handle, the order is written off.
	stale := fx.orders.get(t, "stale")
	assert.Equal(t, domain.OrderCanceled, stale.Status)
	assert.Equal(t, "no venue acknowledgement", stale.Message)

	// A fresh unacked order is left for the next cycle.
	_, err := fx.orders.GetByID(ctx, "fresh")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcileAppliesPolledFill(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})
	now := time.Now().UTC()

	fx.orders.unresolved = []domain.Order{
		{
			ID:           "o1",
			VenueOrderID: "v1",
			MarketID:     "MKT-A",
			Side:         domain.SideYes,
			Direction:    domain.DirectionBuy,
			Quantity:     100,
			Strategy:     "stub",
			Status:       domain.OrderSubmitted,
			CreatedAt:    now.Add(-2 * time.Minute),
		},
	}
	fx.exec.statuses["v1"] = domain.OrderStatusResult{
		VenueOrderID: "v1",
		Status:       domain.OrderFilled,
		FilledQty:    100,
		FilledPrice:  0.4,
		Fee:          2,
	}

	resolved := fx.engine.reconcile(ctx, "cycle-1")
	assert.Equal(t, 1, resolved)

	stored := fx.orders.get(t, "o1")
	assert.Equal(t, domain.OrderFilled, stored.Status)
	assert.Equal(t, int64(100), stored.FilledQty)
	assert.Equal(t, 0.4, stored.FilledPrice)
	assert.Equal(t, 2.0, stored.Fee)

	// The late fill flows into the ledger like any other.
	positions := fx.book.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "MKT-A", positions[0].MarketID)
	assert.Equal(t, int64(100), positions[0].Quantity)
	assert.InDelta(t, 10_000-100*0.4-2, fx.book.State(now).CashBalance, 1e-9)
}

func TestReconcileSkipsUnchangedOrders(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})
	now := time.Now().UTC()

	fx.orders.unresolved = []domain.Order{
		{
			ID:           "o1",
			VenueOrderID: "v1",
			Status:       domain.OrderSubmitted,
			CreatedAt:    now.Add(-2 * time.Minute),
		},
	}
	fx.exec.statuses["v1"] = domain.OrderStatusResult{
		VenueOrderID: "v1",
		Status:       domain.OrderSubmitted,
	}

	resolved := fx.engine.reconcile(ctx, "cycle-1")
	assert.Zero(t, resolved)

	// Still resting: nothing written.
	_, err := fx.orders.GetByID(ctx, "o1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcilePollFailureRaisesAlert(t *testing.T) {
	ctx := context.Background()
	fx := newTestEngine(t, nil, &stubStrategy{})
	now := time.Now().UTC()

	fx.orders.unresolved = []domain.Order{
		{
			ID:           "o1",
			VenueOrderID: "v1",
			Status:       domain.OrderUnknown,
			CreatedAt:    now.Add(-2 * time.Minute),
		},
	}
	fx.exec.statusErr = errors.New("venue unavailable")

	resolved := fx.engine.reconcile(ctx, "cycle-1")
	assert.Zero(t, resolved)

	alerts := fx.engine.Status(ctx).Alerts
	require.NotEmpty(t, alerts)
	last := alerts[len(alerts)-1]
	assert.Equal(t, domain.AlertCodeReconcileFailed, last.Code)
	assert.Equal(t, domain.AlertWarning, last.Level)
}
