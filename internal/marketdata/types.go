package marketdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLCV candle, oldest-first in any slice.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Sentiment is one fear-and-greed reading. Value is 0..100.
type Sentiment struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Context is the point-in-time market snapshot handed to every analyst in a
// swarm round. All analysts of one execution see the same Context.
type Context struct {
	Symbol string
	Price  decimal.Decimal

	Change24hPct float64
	High24h      float64
	Low24h       float64
	Volume24h    float64

	RSI14      float64
	EMA20      float64
	EMA50      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	ATR14      float64

	FundingRate    float64
	LongShortRatio float64

	// Sentiment is nil when the feed was unavailable; analysts are told so
	// rather than shown stale numbers.
	Sentiment *Sentiment

	Klines    []Kline
	FetchedAt time.Time
}

// Describe renders the snapshot as the plain-text block used in analyst
// prompts.
func (c *Context) Describe() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "symbol: %s\n", c.Symbol)
	fmt.Fprintf(&b, "price: %s\n", c.Price.String())
	fmt.Fprintf(&b, "change_24h_pct: %.2f\n", c.Change24hPct)
	fmt.Fprintf(&b, "high_24h: %.4f low_24h: %.4f volume_24h: %.2f\n", c.High24h, c.Low24h, c.Volume24h)
	fmt.Fprintf(&b, "rsi_14: %.2f\n", c.RSI14)
	fmt.Fprintf(&b, "ema_20: %.4f ema_50: %.4f\n", c.EMA20, c.EMA50)
	fmt.Fprintf(&b, "macd: %.4f signal: %.4f hist: %.4f\n", c.MACD, c.MACDSignal, c.MACDHist)
	fmt.Fprintf(&b, "atr_14: %.4f\n", c.ATR14)
	if c.FundingRate != 0 {
		fmt.Fprintf(&b, "funding_rate: %.6f\n", c.FundingRate)
	}
	if c.LongShortRatio != 0 {
		fmt.Fprintf(&b, "long_short_account_ratio: %.4f\n", c.LongShortRatio)
	}
	if c.Sentiment != nil {
		fmt.Fprintf(&b, "fear_greed: %d (%s)\n", c.Sentiment.Value, c.Sentiment.Classification)
	} else {
		b.WriteString("fear_greed: unavailable\n")
	}
	fmt.Fprintf(&b, "as_of: %s\n", c.FetchedAt.UTC().Format(time.RFC3339))
	return b.String()
}
