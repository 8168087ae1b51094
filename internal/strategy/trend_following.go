package strategy

import (
	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// TrendFollowing goes long on a fast-over-slow moving average cross confirmed
// by the daily trend, and holds until the fast average drops below the slow.
type TrendFollowing struct {
	entryThresholdPct float64
	stopMultiplier    float64
}

func NewTrendFollowing(cfg config.StrategyConfig, stopMultiplier float64) *TrendFollowing {
	return &TrendFollowing{entryThresholdPct: cfg.EntryThresholdPct, stopMultiplier: stopMultiplier}
}

func (s *TrendFollowing) ID() models.StrategyID { return models.StrategyTrendFollowing }

func (s *TrendFollowing) Evaluate(in Input) models.Signal {
	fs := in.Features
	if !fs.Determinate(models.FeatureSMAFast, models.FeatureSMASlow, models.FeatureClose, models.FeatureATR) {
		return indeterminate(s.ID())
	}
	fast := fs.Get(models.FeatureSMAFast)
	slow := fs.Get(models.FeatureSMASlow)

	if in.Holding {
		if fast < slow {
			return flat(s.ID(), "fast average below slow")
		}
		return long(s.ID(), s.strength(fs), fs, s.stopMultiplier, "trend intact")
	}

	crossed := false
	if fs.Determinate(models.FeatureSMAFastPrev, models.FeatureSMASlowPrev) {
		crossed = fs.Get(models.FeatureSMAFastPrev) <= fs.Get(models.FeatureSMASlowPrev) && fast > slow
	}
	above := fast > slow && (fast-slow)/slow > s.entryThresholdPct
	if !crossed && !above {
		return flat(s.ID(), "no bullish crossover")
	}

	if !fs.Determinate(models.FeatureDailySMAFast, models.FeatureDailySMASlow) {
		return indeterminate(s.ID())
	}
	if fs.Get(models.FeatureDailySMAFast) <= fs.Get(models.FeatureDailySMASlow) {
		return flat(s.ID(), "daily trend not confirmed")
	}

	reason := "fast above slow with daily confirmation"
	if crossed {
		reason = "bullish crossover with daily confirmation"
	}
	return long(s.ID(), s.strength(fs), fs, s.stopMultiplier, reason)
}

func (s *TrendFollowing) strength(fs models.FeatureSet) float64 {
	ts := fs.Get(models.FeatureTrendStrength)
	if !fs.Determinate(models.FeatureTrendStrength) {
		return 0
	}
	return clamp01(ts / 2)
}
