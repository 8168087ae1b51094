package strategy

import (
	"github.com/irfndi/regimebot/internal/models"
)

// BollingerBreakout goes long when the close breaks above the daily upper band
// and exits once it falls back under the daily middle band.
type BollingerBreakout struct {
	stopMultiplier float64
}

func NewBollingerBreakout(stopMultiplier float64) *BollingerBreakout {
	return &BollingerBreakout{stopMultiplier: stopMultiplier}
}

func (s *BollingerBreakout) ID() models.StrategyID { return models.StrategyBollingerBreakout }

func (s *BollingerBreakout) Evaluate(in Input) models.Signal {
	fs := in.Features
	if !fs.Determinate(models.FeatureClose, models.FeatureATR, models.FeatureDailyBBUpper, models.FeatureDailyBBMid) {
		return indeterminate(s.ID())
	}
	closePrice := fs.Get(models.FeatureClose)
	upper := fs.Get(models.FeatureDailyBBUpper)
	mid := fs.Get(models.FeatureDailyBBMid)

	if in.Holding {
		if closePrice < mid {
			return flat(s.ID(), "close back under daily middle band")
		}
		return long(s.ID(), 0.5, fs, s.stopMultiplier, "breakout holding")
	}

	if closePrice > upper {
		strength := 1.0
		if width := upper - mid; width > 0 {
			strength = clamp01((closePrice - upper) / width)
		}
		return long(s.ID(), strength, fs, s.stopMultiplier, "close above daily upper band")
	}
	return flat(s.ID(), "inside daily bands")
}
