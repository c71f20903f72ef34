package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swarmtrade/internal/config"
)

// Aggregator assembles the Context every decision round starts from.
// Candles and the 24h ticker are required; funding and sentiment degrade to
// absent fields when their feeds fail.
type Aggregator struct {
	Logger    *zap.Logger
	Feed      *BinanceFeed
	Sentiment *SentimentClient
	Cfg       config.MarketDataConfig
}

func (a *Aggregator) Snapshot(ctx context.Context, symbol string) (*Context, error) {
	if a == nil || a.Feed == nil {
		return nil, fmt.Errorf("market data feed not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	var (
		klines    []Kline
		ticker    *Ticker24h
		funding   float64
		longShort float64
		sentiment *Sentiment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		klines, err = a.Feed.Klines(gctx, symbol)
		return err
	})
	g.Go(func() error {
		var err error
		ticker, err = a.Feed.Ticker(gctx, symbol)
		return err
	})
	g.Go(func() error {
		if !a.Cfg.FundingEnabled {
			return nil
		}
		rate, err := a.Feed.FundingRate(gctx, symbol)
		if err != nil {
			// Spot-only symbols have no funding; not a snapshot failure.
			if a.Logger != nil {
				a.Logger.Debug("funding rate unavailable", zap.String("symbol", symbol), zap.Error(err))
			}
			return nil
		}
		funding = rate
		return nil
	})
	g.Go(func() error {
		if !a.Cfg.FundingEnabled {
			return nil
		}
		ratio, err := a.Feed.LongShortRatio(gctx, symbol)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Debug("long/short ratio unavailable", zap.String("symbol", symbol), zap.Error(err))
			}
			return nil
		}
		longShort = ratio
		return nil
	})
	g.Go(func() error {
		if a.Sentiment == nil {
			return nil
		}
		s, err := a.Sentiment.Fetch(gctx)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Warn("sentiment unavailable", zap.Error(err))
			}
			return nil
		}
		sentiment = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	if ticker == nil {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}

	closes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
	}

	snapshot := &Context{
		Symbol:         symbol,
		Price:          decimal.NewFromFloat(ticker.LastPrice),
		Change24hPct:   ticker.ChangePct,
		High24h:        ticker.High,
		Low24h:         ticker.Low,
		Volume24h:      ticker.Volume,
		RSI14:          RSI(closes, 14),
		ATR14:          ATR(highs, lows, closes, 14),
		FundingRate:    funding,
		LongShortRatio: longShort,
		Sentiment:      sentiment,
		Klines:         klines,
		FetchedAt:      time.Now().UTC(),
	}
	if ema := EMA(closes, 20); len(ema) > 0 {
		snapshot.EMA20 = ema[len(ema)-1]
	}
	if ema := EMA(closes, 50); len(ema) > 0 {
		snapshot.EMA50 = ema[len(ema)-1]
	}
	snapshot.MACD, snapshot.MACDSignal, snapshot.MACDHist = MACD(closes)

	return snapshot, nil
}
