package strategy

import (
	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// MeanReversion buys oversold closes at or under the lower Bollinger band and
// holds until RSI recovers or price regains the middle band.
type MeanReversion struct {
	oversold       float64
	exit           float64
	bandTolerance  float64
	stopMultiplier float64
}

func NewMeanReversion(cfg config.StrategyConfig, stopMultiplier float64) *MeanReversion {
	return &MeanReversion{
		oversold:       cfg.RSIOversold,
		exit:           cfg.RSIExit,
		bandTolerance:  cfg.BandTolerance,
		stopMultiplier: stopMultiplier,
	}
}

func (s *MeanReversion) ID() models.StrategyID { return models.StrategyMeanReversion }

func (s *MeanReversion) Evaluate(in Input) models.Signal {
	fs := in.Features
	if !fs.Determinate(models.FeatureRSI, models.FeatureClose, models.FeatureBBLower, models.FeatureBBMid, models.FeatureATR) {
		return indeterminate(s.ID())
	}
	rsi := fs.Get(models.FeatureRSI)
	closePrice := fs.Get(models.FeatureClose)

	if in.Holding {
		if rsi > s.exit || closePrice > fs.Get(models.FeatureBBMid) {
			return flat(s.ID(), "reverted to mean")
		}
		return long(s.ID(), s.strength(rsi), fs, s.stopMultiplier, "awaiting reversion")
	}

	if rsi < s.oversold && closePrice <= fs.Get(models.FeatureBBLower)*(1+s.bandTolerance) {
		return long(s.ID(), s.strength(rsi), fs, s.stopMultiplier, "oversold at lower band")
	}
	return flat(s.ID(), "not oversold at lower band")
}

func (s *MeanReversion) strength(rsi float64) float64 {
	if s.oversold <= 0 {
		return 0
	}
	return clamp01((s.oversold - rsi) / s.oversold)
}
