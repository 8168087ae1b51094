package router

import (
	"fmt"
	"math"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// Input gathers what the router needs for one cycle.
type Input struct {
	Regime    models.Regime
	Signals   map[models.StrategyID]models.Signal
	Sentiment models.Sentiment
	Features  models.FeatureSet
}

// Router picks the single intent for a cycle. Every ambiguous path resolves
// to FLAT.
type Router struct {
	policy                  map[models.Regime][]models.StrategyID
	volumeBreakoutThreshold float64
}

func NewRouter(cfg config.RouterConfig) *Router {
	return &Router{
		policy: map[models.Regime][]models.StrategyID{
			models.RegimeTrend: toIDs(cfg.TrendStrategies),
			models.RegimeRange: toIDs(cfg.RangeStrategies),
		},
		volumeBreakoutThreshold: cfg.VolumeBreakoutThreshold,
	}
}

func toIDs(names []string) []models.StrategyID {
	ids := make([]models.StrategyID, 0, len(names))
	for _, n := range names {
		ids = append(ids, models.StrategyID(n))
	}
	return ids
}

// Strategies returns the strategies consulted for a regime, in priority order.
func (r *Router) Strategies(regime models.Regime) []models.StrategyID {
	return r.policy[regime]
}

// Route applies the sentiment filter and regime gating.
func (r *Router) Route(in Input) models.RoutedIntent {
	flat := func(source models.StrategyID, rationale string) models.RoutedIntent {
		return models.RoutedIntent{Intent: models.IntentFlat, Regime: in.Regime, Source: source, Rationale: rationale}
	}

	if !in.Sentiment.Class.Known() {
		return flat("", fmt.Sprintf("sentiment unavailable (%q)", in.Sentiment.Class))
	}
	if in.Sentiment.Class == models.SentimentExtremeFear {
		return flat("", "extreme fear: standing aside")
	}

	candidates := r.policy[in.Regime]
	if len(candidates) == 0 {
		return flat("", fmt.Sprintf("no strategy routed for regime %s", in.Regime))
	}

	for _, id := range candidates {
		sig, ok := in.Signals[id]
		if !ok {
			return flat(id, "missing signal")
		}
		if sig.Indeterminate || math.IsNaN(sig.Strength) {
			return flat(id, "indeterminate signal")
		}
		if sig.Source != id {
			return flat(id, fmt.Sprintf("signal source mismatch: %s", sig.Source))
		}
		if sig.Intent != models.IntentLong {
			continue
		}

		if in.Sentiment.Class == models.SentimentExtremeGreed {
			ratio := in.Features.Get(models.FeatureVolumeBreakoutRatio)
			if math.IsNaN(ratio) || ratio < r.volumeBreakoutThreshold {
				return flat(id, "extreme greed without volume breakout")
			}
		}
		return models.RoutedIntent{
			Intent:    models.IntentLong,
			Regime:    in.Regime,
			Source:    id,
			Rationale: sig.Reason,
		}
	}

	return flat(candidates[0], "no long signal")
}
