package marketdata

// SMA over the trailing period; zero when there is not enough data.
func SMA(data []float64, period int) float64 {
	if period <= 0 || len(data) < period {
		return 0
	}
	sum := 0.0
	for _, v := range data[len(data)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA returns the full exponential moving average series. Entries before
// the first full period are zero; the seed is the SMA of that period.
func EMA(data []float64, period int) []float64 {
	if period <= 0 || len(data) < period {
		return nil
	}
	ema := make([]float64, len(data))
	k := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// RSI computes Wilder's relative strength index over the whole series,
// returning the latest value. Zero until period+1 points are available.
func RSI(data []float64, period int) float64 {
	if period <= 0 || len(data) < period+1 {
		return 0
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var gain, loss float64
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the latest macd line, signal line and histogram using the
// standard 12/26/9 setup.
func MACD(data []float64) (macd, signal, hist float64) {
	if len(data) < 35 {
		return 0, 0, 0
	}
	fast := EMA(data, 12)
	slow := EMA(data, 26)

	line := make([]float64, 0, len(data)-25)
	for i := 25; i < len(data); i++ {
		line = append(line, fast[i]-slow[i])
	}
	sig := EMA(line, 9)
	if len(sig) == 0 {
		return 0, 0, 0
	}

	macd = line[len(line)-1]
	signal = sig[len(sig)-1]
	return macd, signal, macd - signal
}

// ATR computes Wilder's average true range; zero until period+1 bars.
func ATR(high, low, closePrices []float64, period int) float64 {
	n := len(closePrices)
	if period <= 0 || n < period+1 || len(high) != n || len(low) != n {
		return 0
	}

	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		r := high[i] - low[i]
		if up := abs(high[i] - closePrices[i-1]); up > r {
			r = up
		}
		if down := abs(low[i] - closePrices[i-1]); down > r {
			r = down
		}
		tr = append(tr, r)
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
