package analysis

import "math"

// Series helpers. Undefined values are NaN.

func diff(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i] - x[i-1]
	}
	return out
}

// rollingMean averages the last window values. Positions with fewer than
// minPeriods values are NaN.
func rollingMean(x []float64, window, minPeriods int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		start := max(0, i-window+1)
		n := i - start + 1
		if n < minPeriods {
			out[i] = math.NaN()
			continue
		}
		sum, valid := 0.0, 0
		for _, v := range x[start : i+1] {
			if !math.IsNaN(v) {
				sum += v
				valid++
			}
		}
		if valid < minPeriods || valid == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(valid)
	}
	return out
}

func rollingExtreme(x []float64, window int, better func(a, b float64) bool) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		m := x[i-window+1]
		for _, v := range x[i-window+2 : i+1] {
			if better(v, m) {
				m = v
			}
		}
		out[i] = m
	}
	return out
}

// ema is an exponential moving average seeded with the first value and
// smoothing factor 2/(span+1).
func ema(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	alpha := 2 / (float64(span) + 1)
	for i, v := range x {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return out
}

// RSI uses simple rolling means of gains and losses, defined from the
// first observation on.
func RSI(prices []float64, period int) []float64 {
	d := diff(prices)
	gain := make([]float64, len(d))
	loss := make([]float64, len(d))
	for i, v := range d {
		if v > 0 {
			gain[i] = v
		} else if v < 0 {
			loss[i] = -v
		}
	}
	avgGain := rollingMean(gain, period, 1)
	avgLoss := rollingMean(loss, period, 1)

	out := make([]float64, len(prices))
	for i := range out {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			out[i] = math.NaN()
		case avgLoss[i] == 0:
			out[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// Stochastic returns %K over period and its 3-point simple mean %D.
func Stochastic(close, low, high []float64, period int) (k, d []float64) {
	lows := rollingExtreme(low, period, func(a, b float64) bool { return a < b })
	highs := rollingExtreme(high, period, func(a, b float64) bool { return a > b })

	k = make([]float64, len(close))
	for i := range close {
		span := highs[i] - lows[i]
		if math.IsNaN(span) || span == 0 {
			k[i] = math.NaN()
			continue
		}
		k[i] = 100 * (close[i] - lows[i]) / span
	}
	d = rollingMean(k, 3, 3)
	return k, d
}

func MACD(prices []float64, short, long, signal int) (macd, sig []float64) {
	s := ema(prices, short)
	l := ema(prices, long)
	macd = make([]float64, len(prices))
	for i := range prices {
		macd[i] = s[i] - l[i]
	}
	return macd, ema(macd, signal)
}

func SMA(prices []float64, period int) []float64 {
	return rollingMean(prices, period, period)
}

func EMA(prices []float64, period int) []float64 {
	return ema(prices, period)
}
