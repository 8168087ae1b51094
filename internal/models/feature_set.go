package models

import (
	"math"
	"time"
)

// Feature names produced by the feature engine.
const (
	FeatureClose               = "close"
	FeatureHigh                = "high"
	FeatureLow                 = "low"
	FeatureSMAFast             = "sma_fast"
	FeatureSMASlow             = "sma_slow"
	FeatureSMAFastPrev         = "sma_fast_prev"
	FeatureSMASlowPrev         = "sma_slow_prev"
	FeatureRSI                 = "rsi"
	FeatureATR                 = "atr"
	FeatureBBUpper             = "bb_upper"
	FeatureBBMid               = "bb_mid"
	FeatureBBLower             = "bb_lower"
	FeatureVolumeBreakoutRatio = "volume_breakout_ratio"
	FeatureTrendStrength       = "trend_strength"
	FeatureDailyClose          = "daily_close"
	FeatureDailySMAFast        = "daily_sma_fast"
	FeatureDailySMASlow        = "daily_sma_slow"
	FeatureDailyBBUpper        = "daily_bb_upper"
	FeatureDailyBBMid          = "daily_bb_mid"
	FeatureDailyATR            = "daily_atr"
)

// FeatureSet holds the indicator values for one candle index. It is immutable
// after construction; unknown names read as NaN.
type FeatureSet struct {
	index     int
	timestamp time.Time
	values    map[string]float64
}

// NewFeatureSet copies values so later mutation of the input map has no effect.
func NewFeatureSet(index int, timestamp time.Time, values map[string]float64) FeatureSet {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return FeatureSet{index: index, timestamp: timestamp, values: copied}
}

func (f FeatureSet) Index() int           { return f.index }
func (f FeatureSet) Timestamp() time.Time { return f.timestamp }

// Get returns the named value, or NaN when it was never computed.
func (f FeatureSet) Get(name string) float64 {
	v, ok := f.values[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Determinate reports whether every named value is a finite number.
func (f FeatureSet) Determinate(names ...string) bool {
	for _, name := range names {
		v := f.Get(name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Names returns the computed feature names.
func (f FeatureSet) Names() []string {
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	return names
}

// Fields renders finite values for structured logging.
func (f FeatureSet) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, len(f.values))
	for k, v := range f.values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fields[k] = "NaN"
			continue
		}
		fields[k] = v
	}
	return fields
}
