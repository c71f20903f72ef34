package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"swarmtrade/internal/config"
)

// PriceSource provides the latest trade price for a symbol. The monitor
// prefers the websocket stream and falls back to the REST feed.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BinanceFeed reads candles, tickers and funding from Binance REST. Public
// market data only, so no credentials are required.
type BinanceFeed struct {
	spot    *binance.Client
	futures *futures.Client
	cfg     config.MarketDataConfig
}

func NewBinanceFeed(cfg config.MarketDataConfig) *BinanceFeed {
	spot := binance.NewClient("", "")
	if strings.TrimSpace(cfg.BinanceBaseURL) != "" {
		spot.BaseURL = strings.TrimSpace(cfg.BinanceBaseURL)
	}
	return &BinanceFeed{
		spot:    spot,
		futures: futures.NewClient("", ""),
		cfg:     cfg,
	}
}

func (f *BinanceFeed) Klines(ctx context.Context, symbol string) ([]Kline, error) {
	if f == nil || f.spot == nil {
		return nil, nil
	}
	limit := f.cfg.KlineLimit
	if limit <= 0 {
		limit = 100
	}
	interval := f.cfg.KlineInterval
	if interval == "" {
		interval = "15m"
	}
	rows, err := f.spot.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		out = append(out, Kline{
			OpenTime: time.UnixMilli(row.OpenTime).UTC(),
			Open:     parseFloat(row.Open),
			High:     parseFloat(row.High),
			Low:      parseFloat(row.Low),
			Close:    parseFloat(row.Close),
			Volume:   parseFloat(row.Volume),
		})
	}
	return out, nil
}

func (f *BinanceFeed) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f == nil || f.spot == nil {
		return decimal.Zero, nil
	}
	prices, err := f.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("last price %s: %w", symbol, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return decimal.Zero, fmt.Errorf("last price %s: empty response", symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("last price %s: %w", symbol, err)
	}
	return price, nil
}

// Ticker24h is the rolling 24h stats block of the snapshot.
type Ticker24h struct {
	LastPrice float64
	ChangePct float64
	High      float64
	Low       float64
	Volume    float64
}

func (f *BinanceFeed) Ticker(ctx context.Context, symbol string) (*Ticker24h, error) {
	if f == nil || f.spot == nil {
		return nil, nil
	}
	stats, err := f.spot.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return nil, fmt.Errorf("ticker %s: empty response", symbol)
	}
	s := stats[0]
	return &Ticker24h{
		LastPrice: parseFloat(s.LastPrice),
		ChangePct: parseFloat(s.PriceChangePercent),
		High:      parseFloat(s.HighPrice),
		Low:       parseFloat(s.LowPrice),
		Volume:    parseFloat(s.Volume),
	}, nil
}

// FundingRate returns the most recent perp funding rate, zero when the
// symbol has no futures market.
func (f *BinanceFeed) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if f == nil || f.futures == nil {
		return 0, nil
	}
	rows, err := f.futures.NewFundingRateService().Symbol(symbol).Limit(1).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return 0, nil
	}
	return parseFloat(rows[0].FundingRate), nil
}

// LongShortRatio returns the latest global long/short account ratio, zero
// when the symbol has no futures market.
func (f *BinanceFeed) LongShortRatio(ctx context.Context, symbol string) (float64, error) {
	if f == nil || f.futures == nil {
		return 0, nil
	}
	rows, err := f.futures.NewLongShortRatioService().
		Symbol(symbol).
		Period("1h").
		Limit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("long/short ratio %s: %w", symbol, err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return 0, nil
	}
	return parseFloat(rows[0].LongShortRatio), nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
