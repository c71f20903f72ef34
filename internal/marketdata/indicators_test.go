package marketdata

import (
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	if got := SMA(data, 3); !almost(got, 4) {
		t.Fatalf("sma=%v want=4", got)
	}
	if got := SMA(data, 6); got != 0 {
		t.Fatalf("sma on short series=%v want=0", got)
	}
	if got := SMA(data, 0); got != 0 {
		t.Fatalf("sma period 0=%v want=0", got)
	}
}

func TestEMA(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	ema := EMA(data, 2)
	if ema == nil {
		t.Fatalf("ema=nil")
	}
	// Seed is the SMA of the first period, then k=2/3 smoothing.
	if !almost(ema[1], 1.5) {
		t.Fatalf("ema[1]=%v want=1.5", ema[1])
	}
	if !almost(ema[2], 2.5) {
		t.Fatalf("ema[2]=%v want=2.5", ema[2])
	}
	if !almost(ema[3], 3.5) {
		t.Fatalf("ema[3]=%v want=3.5", ema[3])
	}
	if got := EMA([]float64{1}, 2); got != nil {
		t.Fatalf("ema on short series=%v want=nil", got)
	}
}

func TestRSI(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6}
	if got := RSI(up, 3); !almost(got, 100) {
		t.Fatalf("rsi all gains=%v want=100", got)
	}
	mixed := []float64{1, 2, 1, 2}
	if got := RSI(mixed, 2); !almost(got, 75) {
		t.Fatalf("rsi=%v want=75", got)
	}
	if got := RSI(mixed, 4); got != 0 {
		t.Fatalf("rsi on short series=%v want=0", got)
	}
}

func TestMACDFlatSeries(t *testing.T) {
	data := make([]float64, 40)
	for i := range data {
		data[i] = 50
	}
	macd, signal, hist := MACD(data)
	if macd != 0 || signal != 0 || hist != 0 {
		t.Fatalf("macd=%v signal=%v hist=%v want all 0", macd, signal, hist)
	}
	if m, s, h := MACD(data[:34]); m != 0 || s != 0 || h != 0 {
		t.Fatalf("macd on short series=(%v,%v,%v) want zeros", m, s, h)
	}
}

func TestATR(t *testing.T) {
	high := []float64{10, 12, 13}
	low := []float64{9, 10, 12}
	closes := []float64{9.5, 11, 12.5}

	// True ranges: max(2, |12-9.5|, |10-9.5|)=2.5 and max(1, |13-11|, |12-11|)=2.
	if got := ATR(high[:2], low[:2], closes[:2], 1); !almost(got, 2.5) {
		t.Fatalf("atr=%v want=2.5", got)
	}
	if got := ATR(high, low, closes, 1); !almost(got, 2) {
		t.Fatalf("atr=%v want=2", got)
	}
	if got := ATR(high, low, closes[:2], 1); got != 0 {
		t.Fatalf("atr with mismatched lengths=%v want=0", got)
	}
}
