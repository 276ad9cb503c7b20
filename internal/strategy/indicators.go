package strategy

import "math"

// sma returns the simple moving average of the last period values, or NaN
// when there is not enough history.
func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// ema returns the full exponential moving average series for the input.
func ema(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// stddev returns the sample standard deviation of the last period values.
func stddev(values []float64, period int) float64 {
	if period < 2 || len(values) < period {
		return math.NaN()
	}
	window := values[len(values)-period:]
	var mean float64
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)
	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(period-1))
}

// rsi computes Wilder's relative strength index over the closing prices.
func rsi(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return math.NaN()
	}
	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// macd returns the MACD line, signal line, and histogram series.
func macd(prices []float64, fast, slow, signalPeriod int) (line, sig, hist []float64) {
	if len(prices) < slow+signalPeriod {
		return nil, nil, nil
	}
	fastE := ema(prices, fast)
	slowE := ema(prices, slow)
	line = make([]float64, len(prices))
	for i := range prices {
		line[i] = fastE[i] - slowE[i]
	}
	sig = ema(line, signalPeriod)
	hist = make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// zscore returns how many window standard deviations the latest return sits
// from the window mean.
func zscore(returns []float64, window int) float64 {
	if window < 3 || len(returns) < window {
		return math.NaN()
	}
	tail := returns[len(returns)-window:]
	var mean float64
	for _, r := range tail {
		mean += r
	}
	mean /= float64(window)
	var ss float64
	for _, r := range tail {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(window-1))
	if sd == 0 {
		return 0
	}
	return (tail[len(tail)-1] - mean) / sd
}
