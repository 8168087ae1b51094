package features

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// The cinar indicators drop their idle period, so every output is shorter than
// its input and ends on the same candle. alignTail pads the front with NaN to
// restore one value per input index.
func alignTail(out []float64, n int) []float64 {
	aligned := make([]float64, n)
	offset := n - len(out)
	for i := range aligned {
		if i < offset {
			aligned[i] = math.NaN()
			continue
		}
		aligned[i] = out[i-offset]
	}
	return aligned
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func sma(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nanSeries(len(values))
	}
	indicator := trend.NewSmaWithPeriod[float64](period)
	return alignTail(helper.ChanToSlice(indicator.Compute(helper.SliceToChan(values))), len(values))
}

func ema(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nanSeries(len(values))
	}
	indicator := trend.NewEmaWithPeriod[float64](period)
	return alignTail(helper.ChanToSlice(indicator.Compute(helper.SliceToChan(values))), len(values))
}

func movingAverage(kind string, values []float64, period int) []float64 {
	if kind == "ema" {
		return ema(values, period)
	}
	return sma(values, period)
}

// rsi uses Wilder smoothing.
func rsi(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) <= period {
		return nanSeries(len(closes))
	}
	indicator := momentum.NewRsiWithPeriod[float64](period)
	return alignTail(helper.ChanToSlice(indicator.Compute(helper.SliceToChan(closes))), len(closes))
}

// trueRange uses high-low for the first bar, which has no previous close.
func trueRange(high, low, closes []float64) []float64 {
	tr := make([]float64, len(closes))
	for i := range closes {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

func atr(high, low, closes []float64, period int) []float64 {
	return sma(trueRange(high, low, closes), period)
}

// bollinger returns upper, middle and lower bands using population standard deviation.
func bollinger(closes []float64, period int, k float64) (upper, mid, lower []float64) {
	n := len(closes)
	mid = sma(closes, period)
	upper = nanSeries(n)
	lower = nanSeries(n)
	for i := period - 1; i < n; i++ {
		if i < 0 || math.IsNaN(mid[i]) {
			continue
		}
		sd := standardDeviation(closes[i-period+1:i+1], mid[i])
		upper[i] = mid[i] + k*sd
		lower[i] = mid[i] - k*sd
	}
	return upper, mid, lower
}

func standardDeviation(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range window {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(window)))
}

// ratio divides element-wise and yields NaN where the denominator is not positive.
func ratio(num, den []float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		if math.IsNaN(den[i]) || den[i] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = num[i] / den[i]
	}
	return out
}
