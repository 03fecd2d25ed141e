package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/stats"
)

// NameSentimentEnsemble is the registry name of the sentiment strategy.
const NameSentimentEnsemble = "sentiment_ensemble"

// Confidence is a weighted blend of model agreement, coverage, and freshness.
const (
	confWeightModel     = 0.4
	confWeightAgreement = 0.3
	confWeightCoverage  = 0.2
	confWeightFreshness = 0.1
)

// momentumFullScale is the relative price move treated as a saturated
// momentum signal. A 10 % move over the momentum window maps to 1.0.
const momentumFullScale = 10.0

// rawSentimentDiscount is applied to the composite confidence when a market
// has no price or volume baseline yet, so first sightings trade on raw
// sentiment alone at a confidence haircut instead of being ignored.
const rawSentimentDiscount = 0.9

// SentimentParams holds the tunable parameters of the sentiment strategy.
type SentimentParams struct {
	// ModelWeights maps sentiment model names to ensemble weights.
	ModelWeights map[string]float64

	// ConfidenceThreshold is the minimum composite confidence to act.
	ConfidenceThreshold float64

	// SentimentThreshold is the minimum absolute adjusted score to act.
	SentimentThreshold float64

	// MomentumGain amplifies the score when momentum agrees with it.
	MomentumGain float64

	// MomentumDamp shrinks the score when momentum opposes it.
	MomentumDamp float64

	// VolumeThreshold is the multiple of average volume required to act.
	VolumeThreshold float64

	// ObservationWindow bounds how old a sentiment observation may be.
	ObservationWindow time.Duration
}

// SentimentEnsemble combines scores from multiple sentiment models into a
// confidence-weighted composite, adjusts it by recent price momentum, and
// emits a signal when confidence and score clear their thresholds, scaled by
// how far volume confirms the move.
type SentimentEnsemble struct {
	params  SentimentParams
	tracker *MarketTracker
	logger  *slog.Logger
}

// NewSentimentEnsemble creates the strategy. The tracker is shared with the
// engine so its price history survives reconfiguration.
func NewSentimentEnsemble(params SentimentParams, tracker *MarketTracker, logger *slog.Logger) *SentimentEnsemble {
	return &SentimentEnsemble{
		params:  params,
		tracker: tracker,
		logger:  logger.With(slog.String("strategy", NameSentimentEnsemble)),
	}
}

// Name returns the strategy identifier.
func (se *SentimentEnsemble) Name() string { return NameSentimentEnsemble }

// Init performs one-time setup. For SentimentEnsemble this is a no-op.
func (se *SentimentEnsemble) Init(_ context.Context) error { return nil }

// Close releases resources. SentimentEnsemble has nothing to release.
func (se *SentimentEnsemble) Close() error { return nil }

// Analyze evaluates every market in the view independently.
func (se *SentimentEnsemble) Analyze(ctx context.Context, view MarketView) ([]domain.Signal, error) {
	var signals []domain.Signal

	for _, m := range view.Markets {
		if err := ctx.Err(); err != nil {
			return signals, err
		}
		if !m.Tradable(view.Now) {
			continue
		}

		se.tracker.Track(m.ID, m.YesPrice, m.Volume, view.Now)

		sig, ok := se.evaluate(m, view)
		if !ok {
			continue
		}
		signals = append(signals, sig)
	}

	return signals, nil
}

// evaluate runs the full pipeline for one market and reports whether a signal
// was produced.
func (se *SentimentEnsemble) evaluate(m domain.Market, view MarketView) (domain.Signal, bool) {
	obs := freshObservations(view.Sentiment[m.ID], view.Now, se.params.ObservationWindow)
	if len(obs) == 0 {
		return domain.Signal{}, false
	}

	score := se.compositeScore(obs)
	confidence := se.compositeConfidence(obs, view.Now)

	momentum := se.tracker.Momentum(m.ID)
	adjusted := se.adjustForMomentum(score, momentum)
	strength := stats.Clamp(adjusted, -1, 1)
	if strength < 0 {
		strength = -strength
	}

	// Volume confirmation scales strength down proportionally when volume
	// sits below the threshold multiple of the trailing average. It never
	// suppresses the signal outright: weak early moves trade at reduced
	// size. A market with no baseline yet trades the raw sentiment at a
	// confidence haircut instead.
	volumeScale := 1.0
	volumeNote := "no volume baseline"
	avgVol := se.tracker.AvgVolume(m.ID)
	if avgVol > 0 {
		if want := se.params.VolumeThreshold * avgVol; want > 0 {
			volumeScale = stats.Clamp(m.Volume/want, 0, 1)
		}
		volumeNote = fmt.Sprintf("volume %.1fx avg", m.Volume/avgVol)
	} else {
		confidence *= rawSentimentDiscount
	}

	// Gates run in a fixed order so the recorded reason names the first
	// failing one. They judge the momentum-adjusted strength; the volume
	// scale only shrinks what is emitted.
	if confidence < se.params.ConfidenceThreshold {
		return domain.Signal{}, false
	}
	if strength < se.params.SentimentThreshold {
		return domain.Signal{}, false
	}
	strength *= volumeScale

	bullish := adjusted > 0
	openSide := domain.SideYes
	if !bullish {
		openSide = domain.SideNo
	}

	sig := domain.Signal{
		ID:         uuid.NewString(),
		Strategy:   NameSentimentEnsemble,
		MarketID:   m.ID,
		Side:       openSide,
		Direction:  domain.DirectionBuy,
		Strength:   strength,
		Confidence: confidence,
		Allocation: strength,
		Reason: fmt.Sprintf("sentiment %.2f adjusted %.2f (conf %.2f), momentum %.3f, %s",
			score, adjusted, confidence, momentum, volumeNote),
		Metadata: map[string]string{
			"score":        fmt.Sprintf("%.4f", score),
			"adjusted":     fmt.Sprintf("%.4f", adjusted),
			"momentum":     fmt.Sprintf("%.4f", momentum),
			"models":       fmt.Sprintf("%d", len(obs)),
			"volume_avg":   fmt.Sprintf("%.2f", avgVol),
			"volume_scale": fmt.Sprintf("%.4f", volumeScale),
		},
		CreatedAt: view.Now,
	}

	// A strong contrary view on a market we already hold closes the
	// position instead of opening the reverse side.
	if held, ok := view.OpenPosition(m.ID, NameSentimentEnsemble); ok {
		if held.Side == openSide {
			// Already positioned this way; nothing to add.
			return domain.Signal{}, false
		}
		sig.Side = held.Side
		sig.Direction = domain.DirectionSell
		sig.Closing = true
		sig.Reason = "sentiment reversal: " + sig.Reason
	}

	se.logger.Info("sentiment signal",
		slog.String("market", m.ID),
		slog.String("side", string(sig.Side)),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("score", score),
		slog.Float64("adjusted", adjusted),
		slog.Float64("confidence", confidence),
	)
	return sig, true
}

// compositeScore returns the confidence-weighted mean of the latest score per
// model: each observation is weighted by its own reported confidence, scaled
// by the configured ensemble weight when the model has one. Zero total
// confidence yields a neutral score.
func (se *SentimentEnsemble) compositeScore(obs []domain.SentimentObservation) float64 {
	var weightedSum, weightTotal float64
	for _, o := range obs {
		w := o.Confidence
		if mw, ok := se.params.ModelWeights[o.Model]; ok {
			w *= mw
		}
		weightedSum += w * o.Score
		weightTotal += w
	}
	if weightTotal <= 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// compositeConfidence blends mean model confidence, cross-model agreement,
// model coverage, and observation freshness into one [0,1] figure.
func (se *SentimentEnsemble) compositeConfidence(obs []domain.SentimentObservation, now time.Time) float64 {
	scores := make([]float64, 0, len(obs))
	var confSum, ageSum float64
	for _, o := range obs {
		scores = append(scores, o.Score)
		confSum += o.Confidence
		ageSum += now.Sub(o.ObservedAt).Seconds()
	}
	n := float64(len(obs))

	meanConf := confSum / n
	agreement := stats.Clamp(1-stats.StdDev(scores), 0, 1)

	coverage := 1.0
	if len(se.params.ModelWeights) > 0 {
		covered := 0
		for _, o := range obs {
			if _, ok := se.params.ModelWeights[o.Model]; ok {
				covered++
			}
		}
		coverage = stats.Clamp(float64(covered)/float64(len(se.params.ModelWeights)), 0, 1)
	}

	freshness := 1.0
	if window := se.params.ObservationWindow.Seconds(); window > 0 {
		freshness = stats.Clamp(1-(ageSum/n)/window, 0, 1)
	}

	return confWeightModel*meanConf +
		confWeightAgreement*agreement +
		confWeightCoverage*coverage +
		confWeightFreshness*freshness
}

// adjustForMomentum amplifies the score when price momentum points the same
// way and damps it when momentum opposes it.
func (se *SentimentEnsemble) adjustForMomentum(score, momentum float64) float64 {
	momSignal := stats.Clamp(momentum*momentumFullScale, -1, 1)
	mag := momSignal
	if mag < 0 {
		mag = -mag
	}

	switch {
	case score*momSignal > 0:
		return stats.Clamp(score*(1+se.params.MomentumGain*mag), -1, 1)
	case score*momSignal < 0:
		return stats.Clamp(score*(1-se.params.MomentumDamp*mag), -1, 1)
	default:
		return score
	}
}

// freshObservations keeps the latest observation per model inside the window.
func freshObservations(obs []domain.SentimentObservation, now time.Time, window time.Duration) []domain.SentimentObservation {
	cutoff := now.Add(-window)
	latest := make(map[string]domain.SentimentObservation)
	for _, o := range obs {
		if o.ObservedAt.Before(cutoff) || !o.Valid() {
			continue
		}
		if cur, ok := latest[o.Model]; !ok || o.ObservedAt.After(cur.ObservedAt) {
			latest[o.Model] = o
		}
	}

	out := make([]domain.SentimentObservation, 0, len(latest))
	for _, o := range latest {
		out = append(out, o)
	}
	return out
}
