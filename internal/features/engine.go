package features

import (
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// InsufficientDataError is returned when a candle series is shorter than the
// longest indicator lookback.
type InsufficientDataError struct {
	Timeframe string
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient %s data: have %d candles, need %d", e.Timeframe, e.Have, e.Need)
}

// Engine computes FeatureSets from normalized candle series.
type Engine struct {
	cfg config.IndicatorConfig
}

func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{cfg: cfg}
}

// MinCandles is the shortest primary series that yields a fully determinate
// latest FeatureSet, including the previous moving-average values.
func (e *Engine) MinCandles() int {
	need := max(e.cfg.FastWindow, e.cfg.SlowWindow, e.cfg.RSIPeriod+1, e.cfg.ATRPeriod, e.cfg.BBWindow, e.cfg.VolumeWindow)
	return need + 1
}

type series struct {
	timestamps []time.Time
	close      []float64
	high       []float64
	low        []float64
	volume     []float64
}

func toSeries(candles []models.Candle) series {
	s := series{
		timestamps: make([]time.Time, len(candles)),
		close:      make([]float64, len(candles)),
		high:       make([]float64, len(candles)),
		low:        make([]float64, len(candles)),
		volume:     make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.timestamps[i] = c.Timestamp
		s.close[i] = c.Close.InexactFloat64()
		s.high[i] = c.High.InexactFloat64()
		s.low[i] = c.Low.InexactFloat64()
		s.volume[i] = c.Volume.InexactFloat64()
	}
	return s
}

// Sequence returns one FeatureSet per primary candle. Indicator columns are
// computed up front from trailing windows only; each FeatureSet is assembled
// when the iterator reaches it, and the iterator can be ranged more than once.
// Both inputs must already be normalized.
func (e *Engine) Sequence(primary, daily []models.Candle) (iter.Seq2[int, models.FeatureSet], error) {
	if need := e.MinCandles(); len(primary) < need {
		return nil, &InsufficientDataError{Timeframe: "primary", Have: len(primary), Need: need}
	}

	p := toSeries(primary)
	columns := map[string][]float64{
		models.FeatureClose: p.close,
		models.FeatureHigh:  p.high,
		models.FeatureLow:   p.low,
	}

	fast := movingAverage(e.cfg.MAType, p.close, e.cfg.FastWindow)
	slow := movingAverage(e.cfg.MAType, p.close, e.cfg.SlowWindow)
	columns[models.FeatureSMAFast] = fast
	columns[models.FeatureSMASlow] = slow
	columns[models.FeatureSMAFastPrev] = lag(fast)
	columns[models.FeatureSMASlowPrev] = lag(slow)
	columns[models.FeatureRSI] = rsi(p.close, e.cfg.RSIPeriod)

	atrValues := atr(p.high, p.low, p.close, e.cfg.ATRPeriod)
	columns[models.FeatureATR] = atrValues
	columns[models.FeatureTrendStrength] = trendStrength(fast, slow, atrValues)

	upper, mid, lower := bollinger(p.close, e.cfg.BBWindow, e.cfg.BBStdDev)
	columns[models.FeatureBBUpper] = upper
	columns[models.FeatureBBMid] = mid
	columns[models.FeatureBBLower] = lower
	columns[models.FeatureVolumeBreakoutRatio] = ratio(p.volume, sma(p.volume, e.cfg.VolumeWindow))

	for name, values := range e.dailyColumns(p.timestamps, daily) {
		columns[name] = values
	}

	timestamps := p.timestamps
	return func(yield func(int, models.FeatureSet) bool) {
		for i := range timestamps {
			values := make(map[string]float64, len(columns))
			for name, col := range columns {
				values[name] = col[i]
			}
			if !yield(i, models.NewFeatureSet(i, timestamps[i], values)) {
				return
			}
		}
	}, nil
}

// Latest returns the FeatureSet of the last primary candle.
func (e *Engine) Latest(primary, daily []models.Candle) (models.FeatureSet, error) {
	seq, err := e.Sequence(primary, daily)
	if err != nil {
		return models.FeatureSet{}, err
	}
	var latest models.FeatureSet
	for i, fs := range seq {
		if i == len(primary)-1 {
			latest = fs
		}
	}
	return latest, nil
}

// dailyColumns maps confirmation-timeframe indicators onto primary indices.
// For a primary candle at t the daily bar opened at or before t is still
// forming, so the bar before it supplies the values.
func (e *Engine) dailyColumns(primaryTimes []time.Time, daily []models.Candle) map[string][]float64 {
	n := len(primaryTimes)
	names := []string{
		models.FeatureDailyClose,
		models.FeatureDailySMAFast,
		models.FeatureDailySMASlow,
		models.FeatureDailyBBUpper,
		models.FeatureDailyBBMid,
		models.FeatureDailyATR,
	}
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		out[name] = nanSeries(n)
	}
	if len(daily) == 0 {
		return out
	}

	d := toSeries(daily)
	upper, mid, _ := bollinger(d.close, e.cfg.DailyBBWindow, e.cfg.BBStdDev)
	source := map[string][]float64{
		models.FeatureDailyClose:   d.close,
		models.FeatureDailySMAFast: movingAverage(e.cfg.MAType, d.close, e.cfg.DailyFast),
		models.FeatureDailySMASlow: movingAverage(e.cfg.MAType, d.close, e.cfg.DailySlow),
		models.FeatureDailyBBUpper: upper,
		models.FeatureDailyBBMid:   mid,
		models.FeatureDailyATR:     atr(d.high, d.low, d.close, e.cfg.DailyATRPeriod),
	}

	for i, t := range primaryTimes {
		// index of the first daily bar opened after t
		next := sort.Search(len(d.timestamps), func(j int) bool {
			return d.timestamps[j].After(t)
		})
		completed := next - 2
		if completed < 0 {
			continue
		}
		for name, values := range source {
			out[name][i] = values[completed]
		}
	}
	return out
}

func lag(values []float64) []float64 {
	out := nanSeries(len(values))
	for i := 1; i < len(values); i++ {
		out[i] = values[i-1]
	}
	return out
}

// trendStrength is |fast - slow| / atr, NaN when atr cannot normalize it.
func trendStrength(fast, slow, atrValues []float64) []float64 {
	out := make([]float64, len(fast))
	for i := range fast {
		if math.IsNaN(atrValues[i]) || atrValues[i] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Abs(fast[i]-slow[i]) / atrValues[i]
	}
	return out
}
