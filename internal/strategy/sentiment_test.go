package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sentimentTestParams() SentimentParams {
	return SentimentParams{
		ModelWeights: map[string]float64{
			"gpt4":     0.4,
			"claude":   0.3,
			"fintwit":  0.2,
			"newswire": 0.1,
		},
		ConfidenceThreshold: 0.7,
		SentimentThreshold:  0.6,
		MomentumGain:        0.5,
		MomentumDamp:        0.3,
		VolumeThreshold:     1.5,
		ObservationWindow:   30 * time.Minute,
	}
}

// warmedEnsemble returns a strategy whose tracker already holds two prior
// observations at 0.50 and 0.52 with volume 100 each, so the 0.55 view price
// reads as upward momentum.
func warmedEnsemble(t *testing.T, now time.Time) *SentimentEnsemble {
	t.Helper()
	tracker := NewMarketTracker(time.Hour)
	tracker.Track("MKT", 0.50, 100, now.Add(-2*time.Minute))
	tracker.Track("MKT", 0.52, 100, now.Add(-time.Minute))
	return NewSentimentEnsemble(sentimentTestParams(), tracker, testLogger())
}

// fallingEnsemble warms the tracker with declining prices so the 0.55 view
// price reads as downward momentum, aligned with bearish sentiment.
func fallingEnsemble(t *testing.T, now time.Time) *SentimentEnsemble {
	t.Helper()
	tracker := NewMarketTracker(time.Hour)
	tracker.Track("MKT", 0.62, 100, now.Add(-2*time.Minute))
	tracker.Track("MKT", 0.58, 100, now.Add(-time.Minute))
	return NewSentimentEnsemble(sentimentTestParams(), tracker, testLogger())
}

func sentimentView(now time.Time, volume float64, obs ...domain.SentimentObservation) MarketView {
	return MarketView{
		CycleID: "cycle-1",
		Now:     now,
		Markets: []domain.Market{{
			ID:        "MKT",
			Category:  "politics",
			YesPrice:  0.55,
			NoPrice:   0.45,
			Volume:    volume,
			Status:    domain.MarketStatusActive,
			CloseTime: now.Add(24 * time.Hour),
		}},
		Sentiment: map[string][]domain.SentimentObservation{"MKT": obs},
		Positions: map[string][]domain.Position{},
	}
}

func obsAt(model string, score, conf float64, at time.Time) domain.SentimentObservation {
	return domain.SentimentObservation{
		MarketID:   "MKT",
		Model:      model,
		Score:      score,
		Confidence: conf,
		ObservedAt: at,
	}
}

// TestSentimentEnsemble_BuySignal verifies the full pipeline: strong agreeing
// sentiment, aligned momentum, and a volume surge produce a buy with strength
// clearing the sentiment threshold.
func TestSentimentEnsemble_BuySignal(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.8, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.Equal(t, domain.SideYes, sig.Side)
	assert.Equal(t, NameSentimentEnsemble, sig.Strategy)
	assert.GreaterOrEqual(t, sig.Strength, 0.6)
	assert.GreaterOrEqual(t, sig.Confidence, 0.7)
	assert.False(t, sig.Closing)
}

// TestSentimentEnsemble_NegativeSentimentBuysNo verifies a bearish composite
// opens the NO side rather than shorting.
func TestSentimentEnsemble_NegativeSentimentBuysNo(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := fallingEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", -0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", -0.8, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SideNo, signals[0].Side)
	assert.Equal(t, domain.DirectionBuy, signals[0].Direction)
}

// TestSentimentEnsemble_ConfidenceGate verifies weak model confidence blocks
// the signal even when the score is strong.
func TestSentimentEnsemble_ConfidenceGate(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.2, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_SentimentGate verifies a mild composite score is not
// traded.
func TestSentimentEnsemble_SentimentGate(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.3, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.3, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_LowVolumeScalesStrength verifies volume below the
// confirmation threshold shrinks the emitted strength proportionally rather
// than suppressing the signal. Flat volume (1.0x average against a 1.5x
// threshold) still trades, at two thirds size.
func TestSentimentEnsemble_LowVolumeScalesStrength(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 100,
		obsAt("gpt4", 0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.8, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	// Momentum saturates the adjusted score at 1.0; the 100/150 volume
	// ratio scales it down.
	assert.InDelta(t, 100.0/150.0, sig.Strength, 1e-9)
	assert.InDelta(t, 100.0/150.0, sig.Allocation, 1e-9)
	assert.Equal(t, "0.6667", sig.Metadata["volume_scale"])
}

// TestSentimentEnsemble_NoVolumeBaseline verifies the first sighting of a
// market trades on raw sentiment at a confidence haircut: no momentum
// adjustment, no volume scaling, confidence discounted.
func TestSentimentEnsemble_NoVolumeBaseline(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := NewSentimentEnsemble(sentimentTestParams(), NewMarketTracker(time.Hour), testLogger())

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.8, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	// Raw composite score, untouched by momentum or volume.
	assert.InDelta(t, 0.8, sig.Strength, 1e-9)
	// Discounted composite confidence still clears the 0.7 threshold.
	assert.InDelta(t, rawSentimentDiscount*0.8433333, sig.Confidence, 1e-4)
	assert.Contains(t, sig.Reason, "no volume baseline")
}

// TestSentimentEnsemble_WeakSignalStillDiscountedBelowThreshold verifies the
// confidence haircut on a baseline-less market can still push a marginal
// composite under the confidence gate.
func TestSentimentEnsemble_WeakSignalStillDiscountedBelowThreshold(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := NewSentimentEnsemble(sentimentTestParams(), NewMarketTracker(time.Hour), testLogger())

	// Single-model coverage drags composite confidence to 0.753, above the
	// gate on its own; the discount tips it under 0.7.
	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.8, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_StaleObservationsIgnored verifies observations older
// than the window are excluded.
func TestSentimentEnsemble_StaleObservationsIgnored(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.9, now.Add(-2*time.Hour)),
		obsAt("claude", 0.8, 0.9, now.Add(-2*time.Hour)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_OpposedMomentumDamps verifies damping can hold an
// otherwise marginal score below the threshold.
func TestSentimentEnsemble_OpposedMomentumDamps(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	// Falling price against a bullish score of 0.65: damped below 0.6.
	tracker := NewMarketTracker(time.Hour)
	tracker.Track("MKT", 0.60, 100, now.Add(-2*time.Minute))
	tracker.Track("MKT", 0.57, 100, now.Add(-time.Minute))
	se := NewSentimentEnsemble(sentimentTestParams(), tracker, testLogger())

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.65, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.65, 0.9, now.Add(-5*time.Minute)),
	)

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_ReversalClosesPosition verifies a strong contrary
// composite closes the held side instead of opening the opposite one.
func TestSentimentEnsemble_ReversalClosesPosition(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := fallingEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", -0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", -0.8, 0.9, now.Add(-5*time.Minute)),
	)
	view.Positions["MKT"] = []domain.Position{{
		ID:       "pos-1",
		MarketID: "MKT",
		Side:     domain.SideYes,
		Quantity: 10,
		Strategy: NameSentimentEnsemble,
		Status:   domain.PositionOpen,
	}}

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.True(t, sig.Closing)
	assert.Equal(t, domain.DirectionSell, sig.Direction)
	assert.Equal(t, domain.SideYes, sig.Side)
}

// TestSentimentEnsemble_AlreadyPositionedHolds verifies no duplicate adds when
// the view already holds the signalled side.
func TestSentimentEnsemble_AlreadyPositionedHolds(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.9, now.Add(-5*time.Minute)),
		obsAt("claude", 0.8, 0.9, now.Add(-5*time.Minute)),
	)
	view.Positions["MKT"] = []domain.Position{{
		ID:       "pos-1",
		MarketID: "MKT",
		Side:     domain.SideYes,
		Quantity: 10,
		Strategy: NameSentimentEnsemble,
		Status:   domain.PositionOpen,
	}}

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// TestSentimentEnsemble_ConfidenceWeightsScore verifies the ensemble weight
// of each observation is its model confidence, so a sure model dominates an
// unsure one regardless of the static per-model weights.
func TestSentimentEnsemble_ConfidenceWeightsScore(t *testing.T) {
	se := NewSentimentEnsemble(sentimentTestParams(), NewMarketTracker(time.Hour), testLogger())
	at := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	t.Run("sure model dominates", func(t *testing.T) {
		score := se.compositeScore([]domain.SentimentObservation{
			obsAt("gpt4", 0.9, 0.9, at),
			obsAt("claude", 0.1, 0.1, at),
		})
		// gpt4 carries weight 0.9*0.4 against claude's 0.1*0.3.
		assert.InDelta(t, (0.36*0.9+0.03*0.1)/0.39, score, 1e-9)
		assert.Greater(t, score, 0.8)
	})

	t.Run("unconfigured model weighs by bare confidence", func(t *testing.T) {
		score := se.compositeScore([]domain.SentimentObservation{
			obsAt("gpt4", 0.5, 0.5, at),
			obsAt("quant", -0.5, 0.5, at),
		})
		assert.InDelta(t, (0.2*0.5-0.5*0.5)/0.7, score, 1e-9)
	})

	t.Run("zero confidence is neutral", func(t *testing.T) {
		score := se.compositeScore([]domain.SentimentObservation{
			obsAt("gpt4", 0.9, 0, at),
		})
		assert.Zero(t, score)
	})
}

// TestSentimentEnsemble_ClosedMarketSkipped verifies closed markets are never
// evaluated.
func TestSentimentEnsemble_ClosedMarketSkipped(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	se := warmedEnsemble(t, now)

	view := sentimentView(now, 200,
		obsAt("gpt4", 0.8, 0.9, now.Add(-5*time.Minute)),
	)
	view.Markets[0].Status = domain.MarketStatusClosed

	signals, err := se.Analyze(context.Background(), view)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
