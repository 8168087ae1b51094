package regime

import (
	"math"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// Classification is the regime label with the strength it was derived from.
type Classification struct {
	Regime        models.Regime
	TrendStrength float64
	Indeterminate bool
}

// Classifier labels a FeatureSet as TREND or RANGE.
type Classifier struct {
	threshold float64
}

func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{threshold: cfg.TrendThreshold}
}

// Classify returns TREND when the normalized moving-average separation
// reaches the threshold. Anything not provably trending is RANGE.
func (c *Classifier) Classify(fs models.FeatureSet) Classification {
	strength := fs.Get(models.FeatureTrendStrength)
	if math.IsNaN(strength) {
		// recompute from components when the engine did not provide it
		strength = normalizedSeparation(fs)
	}
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return Classification{Regime: models.RegimeRange, TrendStrength: math.NaN(), Indeterminate: true}
	}
	if strength >= c.threshold {
		return Classification{Regime: models.RegimeTrend, TrendStrength: strength}
	}
	return Classification{Regime: models.RegimeRange, TrendStrength: strength}
}

func normalizedSeparation(fs models.FeatureSet) float64 {
	atr := fs.Get(models.FeatureATR)
	if !fs.Determinate(models.FeatureSMAFast, models.FeatureSMASlow, models.FeatureATR) || atr <= 0 {
		return math.NaN()
	}
	return math.Abs(fs.Get(models.FeatureSMAFast)-fs.Get(models.FeatureSMASlow)) / atr
}
