package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeCandles(start time.Time, step time.Duration, closes []float64) []models.Candle {
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(100),
		}
	}
	return candles
}

func linear(n int, from float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)
	}
	return out
}

func smallConfig() config.IndicatorConfig {
	return config.IndicatorConfig{
		MAType:         "sma",
		FastWindow:     3,
		SlowWindow:     5,
		RSIPeriod:      3,
		ATRPeriod:      3,
		BBWindow:       5,
		BBStdDev:       2,
		VolumeWindow:   5,
		DailyFast:      2,
		DailySlow:      3,
		DailyBBWindow:  3,
		DailyATRPeriod: 2,
	}
}

func TestEngine_InsufficientData(t *testing.T) {
	engine := NewEngine(config.Default().Indicators)
	primary := makeCandles(testStart, 4*time.Hour, linear(engine.MinCandles()-1, 100))

	_, err := engine.Sequence(primary, nil)
	require.Error(t, err)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "primary", insufficient.Timeframe)
	assert.Equal(t, engine.MinCandles()-1, insufficient.Have)
	assert.Equal(t, 51, insufficient.Need)

	_, err = engine.Latest(nil, nil)
	assert.True(t, errors.As(err, &insufficient))
}

func TestEngine_SequenceLengthAndRestart(t *testing.T) {
	engine := NewEngine(smallConfig())
	primary := makeCandles(testStart, 4*time.Hour, linear(30, 100))

	seq, err := engine.Sequence(primary, nil)
	require.NoError(t, err)

	first := make([]models.FeatureSet, 0, len(primary))
	for i, fs := range seq {
		assert.Equal(t, i, fs.Index())
		assert.Equal(t, primary[i].Timestamp, fs.Timestamp())
		first = append(first, fs)
	}
	require.Len(t, first, len(primary))

	// warm-up bars are NaN, so compare bit patterns rather than values
	assert.True(t, math.IsNaN(first[0].Get(models.FeatureSMAFast)))
	count := 0
	for i, fs := range seq {
		for _, name := range []string{models.FeatureSMAFast, models.FeatureSMASlow, models.FeatureATR, models.FeatureRSI} {
			assert.Equal(t, math.Float64bits(first[i].Get(name)), math.Float64bits(fs.Get(name)), "bar %d %s", i, name)
		}
		count++
	}
	assert.Equal(t, len(primary), count)

	// early stop must not panic
	for range seq {
		break
	}
}

func TestEngine_MovingAveragesOnLinearSeries(t *testing.T) {
	engine := NewEngine(smallConfig())
	primary := makeCandles(testStart, 4*time.Hour, linear(30, 1))

	fs, err := engine.Latest(primary, nil)
	require.NoError(t, err)

	// closes are 1..30
	assert.InDelta(t, 29.0, fs.Get(models.FeatureSMAFast), 1e-9)
	assert.InDelta(t, 28.0, fs.Get(models.FeatureSMASlow), 1e-9)
	assert.InDelta(t, 28.0, fs.Get(models.FeatureSMAFastPrev), 1e-9)
	assert.InDelta(t, 27.0, fs.Get(models.FeatureSMASlowPrev), 1e-9)
	assert.InDelta(t, 28.0, fs.Get(models.FeatureBBMid), 1e-9)
	assert.Greater(t, fs.Get(models.FeatureBBUpper), fs.Get(models.FeatureBBMid))
	assert.Less(t, fs.Get(models.FeatureBBLower), fs.Get(models.FeatureBBMid))

	// true range is 2 for every bar: high-low and high minus the previous close are both 2
	assert.InDelta(t, 2.0, fs.Get(models.FeatureATR), 1e-9)
	assert.InDelta(t, 0.5, fs.Get(models.FeatureTrendStrength), 1e-9)
	assert.InDelta(t, 1.0, fs.Get(models.FeatureVolumeBreakoutRatio), 1e-9)
	assert.InDelta(t, 30.0, fs.Get(models.FeatureClose), 1e-9)

	rsiValue := fs.Get(models.FeatureRSI)
	assert.False(t, math.IsNaN(rsiValue))
	assert.InDelta(t, 100.0, rsiValue, 1e-6)
}

func TestEngine_NoLookAhead(t *testing.T) {
	engine := NewEngine(smallConfig())
	closes := []float64{
		100, 102, 101, 105, 107, 104, 103, 108, 110, 109,
		111, 115, 112, 108, 106, 107, 103, 101, 99, 104,
		106, 109, 112, 111, 114, 113, 117, 119, 116, 118,
	}
	primary := makeCandles(testStart, 4*time.Hour, closes)
	daily := makeCandles(testStart, 24*time.Hour, linear(6, 100))

	seq, err := engine.Sequence(primary, daily)
	require.NoError(t, err)

	full := make(map[int]models.FeatureSet)
	for i, fs := range seq {
		full[i] = fs
	}

	for k := engine.MinCandles() - 1; k < len(primary); k++ {
		prefix, err := engine.Latest(primary[:k+1], daily)
		require.NoError(t, err)
		for _, name := range full[k].Names() {
			expected := full[k].Get(name)
			got := prefix.Get(name)
			if math.IsNaN(expected) {
				assert.True(t, math.IsNaN(got), "index %d feature %s", k, name)
				continue
			}
			assert.InDelta(t, expected, got, 1e-9, "index %d feature %s", k, name)
		}
	}
}

func TestEngine_ZeroVarianceIsIndeterminate(t *testing.T) {
	engine := NewEngine(smallConfig())
	primary := make([]models.Candle, 20)
	for i := range primary {
		price := decimal.NewFromInt(100)
		primary[i] = models.Candle{
			Timestamp: testStart.Add(time.Duration(i) * 4 * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: decimal.Zero,
		}
	}

	fs, err := engine.Latest(primary, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, fs.Get(models.FeatureATR))
	assert.True(t, math.IsNaN(fs.Get(models.FeatureTrendStrength)))
	assert.True(t, math.IsNaN(fs.Get(models.FeatureVolumeBreakoutRatio)))
	assert.Equal(t, fs.Get(models.FeatureBBUpper), fs.Get(models.FeatureBBLower))
}

func TestEngine_DailyAlignmentUsesCompletedBar(t *testing.T) {
	engine := NewEngine(smallConfig())
	primary := makeCandles(testStart, 4*time.Hour, linear(20, 100))
	daily := makeCandles(testStart, 24*time.Hour, []float64{10, 20, 30, 40})

	seq, err := engine.Sequence(primary, daily)
	require.NoError(t, err)

	byTime := make(map[time.Time]models.FeatureSet)
	for _, fs := range seq {
		byTime[fs.Timestamp()] = fs
	}

	// Day one has no completed daily bar yet.
	assert.True(t, math.IsNaN(byTime[testStart.Add(8*time.Hour)].Get(models.FeatureDailyClose)))
	// During day two, day one is the last completed bar.
	assert.Equal(t, 10.0, byTime[testStart.Add(28*time.Hour)].Get(models.FeatureDailyClose))
	// Day three 04:00 sees day two.
	assert.Equal(t, 20.0, byTime[testStart.Add(52*time.Hour)].Get(models.FeatureDailyClose))
	// Daily fast MA (window 2) over days one and two.
	assert.Equal(t, 15.0, byTime[testStart.Add(52*time.Hour)].Get(models.FeatureDailySMAFast))
}

func TestNormalize(t *testing.T) {
	base := makeCandles(testStart, time.Hour, []float64{1, 2, 3})
	dup := base[1]
	dup.Close = decimal.NewFromInt(99)
	invalid := models.Candle{Timestamp: testStart.Add(10 * time.Hour), Close: decimal.Zero}

	input := []models.Candle{base[2], base[1], dup, base[0], invalid}
	out := Normalize(input)

	require.Len(t, out, 3)
	assert.Equal(t, base[0].Timestamp, out[0].Timestamp)
	assert.Equal(t, base[1].Timestamp, out[1].Timestamp)
	assert.Equal(t, base[2].Timestamp, out[2].Timestamp)
	assert.Equal(t, "2", out[1].Close.String(), "first duplicate wins")
	assert.Equal(t, base[2].Timestamp, input[0].Timestamp, "input untouched")
}
