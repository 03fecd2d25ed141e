package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/stats"
)

// NameStatArb is the registry name of the statistical-arbitrage strategy.
const NameStatArb = "stat_arb"

// StatArbParams holds the tunable parameters of the stat-arb strategy.
type StatArbParams struct {
	// MinCorrelation is the minimum absolute price correlation for a pair
	// to qualify.
	MinCorrelation float64

	// ZScoreThreshold is the spread z-score that opens a pair trade.
	ZScoreThreshold float64

	// ZScoreExit is the spread z-score at or below which an open pair
	// trade is closed. Always below ZScoreThreshold.
	ZScoreExit float64

	// Lookback is how far back price history is fetched for qualification.
	Lookback time.Duration

	// MinDataPoints is the minimum aligned history length per pair.
	MinDataPoints int

	// MaxPairs caps how many pairs may be qualified at once.
	MaxPairs int

	// ProbSumThreshold triggers probability arbitrage when the YES prices
	// of a mutually exclusive group sum above it (or below its mirror).
	ProbSumThreshold float64
}

// StatArb trades temporary divergences between historically correlated market
// pairs, and mispriced probability sums across mutually exclusive event
// groups. Pair state is kept in memory and exposed for persistence.
type StatArb struct {
	params StatArbParams
	logger *slog.Logger

	mu    sync.Mutex
	pairs map[string]*domain.MarketPair // keyed by PairKey
}

// NewStatArb creates the strategy with an empty pair book.
func NewStatArb(params StatArbParams, logger *slog.Logger) *StatArb {
	return &StatArb{
		params: params,
		logger: logger.With(slog.String("strategy", NameStatArb)),
		pairs:  make(map[string]*domain.MarketPair),
	}
}

// Name returns the strategy identifier.
func (sa *StatArb) Name() string { return NameStatArb }

// Init performs one-time setup. Pair state arrives via SeedPairs.
func (sa *StatArb) Init(_ context.Context) error { return nil }

// Close releases resources. StatArb has nothing to release.
func (sa *StatArb) Close() error { return nil }

// SeedPairs loads previously persisted pairs so a restart does not lose the
// qualification book.
func (sa *StatArb) SeedPairs(pairs []domain.MarketPair) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	for _, p := range pairs {
		cp := p
		sa.pairs[p.Key()] = &cp
	}
}

// Pairs returns a snapshot of the pair book sorted by key. The engine
// persists and reports these after each cycle.
func (sa *StatArb) Pairs() []domain.MarketPair {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	keys := make([]string, 0, len(sa.pairs))
	for k := range sa.pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.MarketPair, 0, len(keys))
	for _, k := range keys {
		out = append(out, *sa.pairs[k])
	}
	return out
}

// Analyze requalifies the pair book against fresh history, then evaluates
// spread entries and exits, then scans mutually exclusive groups for
// probability arbitrage.
func (sa *StatArb) Analyze(ctx context.Context, view MarketView) ([]domain.Signal, error) {
	if err := sa.requalify(ctx, view); err != nil {
		return nil, err
	}

	signals := sa.evaluatePairs(view)
	signals = append(signals, sa.evaluateGroups(view)...)
	return signals, nil
}

// requalify recomputes correlations for candidate pairs within each market
// category and updates the pair book. Pairs that no longer meet the
// correlation floor are marked dropped, not removed, so open trades on them
// can still be unwound.
func (sa *StatArb) requalify(ctx context.Context, view MarketView) error {
	byCategory := make(map[string][]domain.Market)
	for _, m := range view.Markets {
		if !m.Tradable(view.Now) {
			continue
		}
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}

	histories := make(map[string][]float64)
	fetch := func(marketID string) ([]float64, error) {
		if h, ok := histories[marketID]; ok {
			return h, nil
		}
		points, err := view.History.History(ctx, marketID, sa.params.Lookback)
		if err != nil {
			return nil, err
		}
		prices := make([]float64, 0, len(points))
		for _, p := range points {
			prices = append(prices, p.YesPrice)
		}
		histories[marketID] = prices
		return prices, nil
	}

	type candidate struct {
		a, b   string
		corr   float64
		spread []float64
	}
	var qualified []candidate

	for _, markets := range byCategory {
		for i := 0; i < len(markets); i++ {
			for j := i + 1; j < len(markets); j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				a, b := markets[i].ID, markets[j].ID

				histA, err := fetch(a)
				if err != nil {
					sa.logger.Warn("history fetch failed", slog.String("market", a), slog.String("error", err.Error()))
					continue
				}
				histB, err := fetch(b)
				if err != nil {
					sa.logger.Warn("history fetch failed", slog.String("market", b), slog.String("error", err.Error()))
					continue
				}

				n := len(histA)
				if len(histB) < n {
					n = len(histB)
				}
				if n < sa.params.MinDataPoints {
					continue
				}

				corr := stats.Correlation(histA, histB)
				if corr < sa.params.MinCorrelation && corr > -sa.params.MinCorrelation {
					continue
				}

				// Canonical ordering keeps the spread sign stable across
				// cycles regardless of discovery order.
				first, second := a, b
				sA, sB := histA, histB
				if first > second {
					first, second = second, first
					sA, sB = sB, sA
				}
				qualified = append(qualified, candidate{
					a:      first,
					b:      second,
					corr:   corr,
					spread: stats.Spread(sA, sB),
				})
			}
		}
	}

	sort.Slice(qualified, func(i, j int) bool {
		ai, aj := qualified[i].corr, qualified[j].corr
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		return ai > aj
	})
	if len(qualified) > sa.params.MaxPairs {
		qualified = qualified[:sa.params.MaxPairs]
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	seen := make(map[string]bool, len(qualified))
	for _, c := range qualified {
		key := domain.PairKey(c.a, c.b)
		seen[key] = true

		p, ok := sa.pairs[key]
		if !ok {
			p = &domain.MarketPair{
				ID:          uuid.NewString(),
				MarketA:     c.a,
				MarketB:     c.b,
				QualifiedAt: view.Now,
			}
			sa.pairs[key] = p
		}
		if p.Status != domain.PairQualified {
			p.Status = domain.PairQualified
			p.QualifiedAt = view.Now
		}
		var agg stats.Welford
		for _, s := range c.spread {
			agg.Add(s)
		}
		p.Correlation = c.corr
		p.SpreadMean = agg.Mean()
		p.SpreadStd = agg.StdDev()
		p.UpdatedAt = view.Now
	}

	for key, p := range sa.pairs {
		if !seen[key] && p.Status == domain.PairQualified {
			p.Status = domain.PairDropped
			p.UpdatedAt = view.Now
			sa.logger.Info("pair dropped",
				slog.String("pair", key),
				slog.Float64("last_correlation", p.Correlation),
			)
		}
	}

	return nil
}

// evaluatePairs computes the current spread z-score for each pair and emits
// coupled entry or exit signals.
func (sa *StatArb) evaluatePairs(view MarketView) []domain.Signal {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	var signals []domain.Signal
	for key, p := range sa.pairs {
		mktA, okA := view.Market(p.MarketA)
		mktB, okB := view.Market(p.MarketB)
		if !okA || !okB {
			continue
		}

		legA, openA := view.OpenPosition(p.MarketA, NameStatArb)
		legB, openB := view.OpenPosition(p.MarketB, NameStatArb)

		if p.SpreadStd <= 0 {
			if openA && openB && p.Status == domain.PairDropped {
				reason := "pair disqualified: degenerate spread"
				signals = append(signals,
					sa.closeSignal(legA, key, reason, view.Now),
					sa.closeSignal(legB, key, reason, view.Now),
				)
			}
			continue
		}
		z := stats.ZScore(mktA.YesPrice-mktB.YesPrice, p.SpreadMean, p.SpreadStd)
		p.LastZScore = z
		p.UpdatedAt = view.Now

		absZ := z
		if absZ < 0 {
			absZ = -absZ
		}

		switch {
		case openA && openB:
			// Unwind when the spread has reverted, or when the pair no
			// longer qualifies.
			reason := ""
			if absZ <= sa.params.ZScoreExit {
				reason = fmt.Sprintf("spread reverted: z=%.2f below exit %.2f", z, sa.params.ZScoreExit)
			} else if p.Status == domain.PairDropped {
				reason = fmt.Sprintf("pair disqualified: correlation %.2f below floor", p.Correlation)
			}
			if reason == "" {
				continue
			}
			signals = append(signals,
				sa.closeSignal(legA, key, reason, view.Now),
				sa.closeSignal(legB, key, reason, view.Now),
			)
			sa.logger.Info("pair exit", slog.String("pair", key), slog.Float64("z", z))

		case !openA && !openB:
			if p.Status != domain.PairQualified || absZ < sa.params.ZScoreThreshold {
				continue
			}
			signals = append(signals, sa.entrySignals(p, key, z, view.Now)...)
			sa.logger.Info("pair entry", slog.String("pair", key), slog.Float64("z", z))

		default:
			// One leg missing, usually because a fill failed or stop loss
			// closed it. Flatten the orphan instead of re-legging.
			orphan := legA
			if openB {
				orphan = legB
			}
			signals = append(signals, sa.closeSignal(orphan, key, "orphaned pair leg", view.Now))
			sa.logger.Warn("orphaned pair leg", slog.String("pair", key), slog.String("market", orphan.MarketID))
		}
	}
	return signals
}

// entrySignals builds the two coupled half-size legs for a pair entry.
// Positive z means market A is rich relative to B, so the trade is bearish A
// and bullish B; negative z reverses the legs.
func (sa *StatArb) entrySignals(p *domain.MarketPair, key string, z float64, now time.Time) []domain.Signal {
	absZ := z
	if absZ < 0 {
		absZ = -absZ
	}
	strength := stats.Clamp(absZ/(2*sa.params.ZScoreThreshold), 0, 1)
	confidence := p.Correlation
	if confidence < 0 {
		confidence = -confidence
	}

	richSide, cheapSide := domain.SideNo, domain.SideYes
	richMarket, cheapMarket := p.MarketA, p.MarketB
	if z < 0 {
		richMarket, cheapMarket = p.MarketB, p.MarketA
	}

	reason := fmt.Sprintf("spread z=%.2f beyond %.2f (corr %.2f)", z, sa.params.ZScoreThreshold, p.Correlation)
	meta := map[string]string{
		"zscore":      fmt.Sprintf("%.4f", z),
		"spread_mean": fmt.Sprintf("%.4f", p.SpreadMean),
		"spread_std":  fmt.Sprintf("%.4f", p.SpreadStd),
		"correlation": fmt.Sprintf("%.4f", p.Correlation),
	}

	build := func(marketID string, side domain.PositionSide) domain.Signal {
		return domain.Signal{
			ID:         uuid.NewString(),
			Strategy:   NameStatArb,
			MarketID:   marketID,
			Side:       side,
			Direction:  domain.DirectionBuy,
			Strength:   strength,
			Confidence: confidence,
			Allocation: strength / 2,
			PairID:     key,
			Reason:     reason,
			Metadata:   meta,
			CreatedAt:  now,
		}
	}

	return []domain.Signal{
		build(richMarket, richSide),
		build(cheapMarket, cheapSide),
	}
}

// closeSignal builds a full-exit signal for an open pair leg.
func (sa *StatArb) closeSignal(pos domain.Position, key, reason string, now time.Time) domain.Signal {
	return domain.Signal{
		ID:         uuid.NewString(),
		Strategy:   NameStatArb,
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		Direction:  domain.DirectionSell,
		Strength:   1,
		Confidence: 1,
		Allocation: 0,
		PairID:     key,
		Closing:    true,
		Reason:     reason,
		CreatedAt:  now,
	}
}

// evaluateGroups scans mutually exclusive event groups for probability sums
// far enough from 1 to cover fees. An overpriced book buys NO on every
// member; an underpriced book buys YES on every member.
func (sa *StatArb) evaluateGroups(view MarketView) []domain.Signal {
	var signals []domain.Signal

	groupIDs := make([]string, 0, len(view.Groups))
	for id := range view.Groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	for _, groupID := range groupIDs {
		members := view.Groups[groupID]
		if len(members) < 2 {
			continue
		}

		var sum float64
		tradable := true
		held := false
		for _, m := range members {
			if !m.Tradable(view.Now) {
				tradable = false
				break
			}
			sum += m.YesPrice
			if _, ok := view.OpenPosition(m.ID, NameStatArb); ok {
				held = true
			}
		}
		if !tradable || held {
			continue
		}

		var side domain.PositionSide
		switch {
		case sum >= sa.params.ProbSumThreshold:
			side = domain.SideNo
		case sum <= 2-sa.params.ProbSumThreshold:
			side = domain.SideYes
		default:
			continue
		}

		overround := sum - 1
		if overround < 0 {
			overround = -overround
		}
		strength := stats.Clamp(overround/(sa.params.ProbSumThreshold-1), 0, 1)

		reason := fmt.Sprintf("exclusive group prices sum to %.3f", sum)
		pairID := "grp:" + groupID
		for _, m := range members {
			signals = append(signals, domain.Signal{
				ID:         uuid.NewString(),
				Strategy:   NameStatArb,
				MarketID:   m.ID,
				Side:       side,
				Direction:  domain.DirectionBuy,
				Strength:   strength,
				Confidence: strength,
				Allocation: strength / float64(len(members)),
				PairID:     pairID,
				Reason:     reason,
				Metadata: map[string]string{
					"event_group": groupID,
					"prob_sum":    fmt.Sprintf("%.4f", sum),
				},
				CreatedAt: view.Now,
			})
		}
		sa.logger.Info("probability arbitrage",
			slog.String("group", groupID),
			slog.Float64("prob_sum", sum),
			slog.String("side", string(side)),
		)
	}

	return signals
}
