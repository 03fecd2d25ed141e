package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func TestDedupSignals(t *testing.T) {
	mk := func(id, strategy, market string, side domain.PositionSide, dir domain.Direction, confidence float64) domain.Signal {
		return domain.Signal{
			ID:         id,
			Strategy:   strategy,
			MarketID:   market,
			Side:       side,
			Direction:  dir,
			Confidence: confidence,
		}
	}

	in := []domain.Signal{
		mk("a", "stub", "MKT-1", domain.SideYes, domain.DirectionBuy, 0.6),
		mk("b", "stub", "MKT-1", domain.SideYes, domain.DirectionHold, 0.9), // dropped: not actionable
		mk("c", "stub", "MKT-2", domain.SideYes, domain.DirectionBuy, 0.7),
		mk("d", "stub", "MKT-1", domain.SideYes, domain.DirectionBuy, 0.8), // duplicate of a, higher confidence
		mk("e", "stub", "MKT-1", domain.SideNo, domain.DirectionBuy, 0.5),  // different side, kept
		mk("f", "other", "MKT-1", domain.SideYes, domain.DirectionBuy, 0.4), // different strategy, kept
		mk("g", "stub", "MKT-1", domain.SideYes, domain.DirectionBuy, 0.3),  // duplicate of a, lower confidence
	}

	out := dedupSignals(in)

	var ids []string
	for _, s := range out {
		ids = append(ids, s.ID)
	}

	// The winning duplicate replaces the first occurrence in place, so the
	// evaluation order is stable.
	assert.Equal(t, []string{"d", "c", "e", "f"}, ids)
	assert.Equal(t, 0.8, out[0].Confidence)
}

func TestDedupSignalsEmpty(t *testing.T) {
	assert.Empty(t, dedupSignals(nil))
	assert.Empty(t, dedupSignals([]domain.Signal{
		{Direction: domain.DirectionHold},
	}))
}
