package engine

import "github.com/alanyoungcy/kalshibot/internal/domain"

// dedupSignals drops non-actionable signals and collapses duplicates that
// target the same (strategy, market, side, direction) within one cycle,
// keeping the highest-confidence instance. The first occurrence's position in
// the slice is preserved so evaluation order stays deterministic.
func dedupSignals(in []domain.Signal) []domain.Signal {
	type key struct {
		strategy  string
		marketID  string
		side      domain.PositionSide
		direction domain.Direction
	}

	out := make([]domain.Signal, 0, len(in))
	index := make(map[key]int, len(in))

	for _, sig := range in {
		if !sig.Actionable() {
			continue
		}
		k := key{sig.Strategy, sig.MarketID, sig.Side, sig.Direction}
		if i, ok := index[k]; ok {
			if sig.Confidence > out[i].Confidence {
				out[i] = sig
			}
			continue
		}
		index[k] = len(out)
		out = append(out, sig)
	}
	return out
}
