package marketdata

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestStreamURLCombined(t *testing.T) {
	streams := []string{"btcusdt@miniTicker", "ethusdt@miniTicker"}
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker"

	for _, base := range []string{
		"wss://stream.binance.com:9443/ws",
		"wss://stream.binance.com:9443/ws/",
		"wss://stream.binance.com:9443/stream",
		"wss://stream.binance.com:9443",
	} {
		if got := streamURL(base, streams); got != want {
			t.Fatalf("streamURL(%q)=%q want=%q", base, got, want)
		}
	}
}

func TestApplyCombinedStreamEnvelope(t *testing.T) {
	s := NewPriceStream(nil, "wss://example", []string{"BTCUSDT"})

	s.apply([]byte(`{"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"64250.10"}}`))
	price, err := s.LastPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("last price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("64250.10")) {
		t.Fatalf("price=%s want=64250.10", price)
	}
}

func TestApplyRawFrame(t *testing.T) {
	s := NewPriceStream(nil, "wss://example", []string{"ETHUSDT"})

	s.apply([]byte(`{"s":"ETHUSDT","c":"3300.5"}`))
	price, err := s.LastPrice(context.Background(), "ethusdt")
	if err != nil {
		t.Fatalf("last price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3300.5")) {
		t.Fatalf("price=%s want=3300.5", price)
	}
}

func TestApplyIgnoresMalformedFrames(t *testing.T) {
	s := NewPriceStream(nil, "wss://example", []string{"BTCUSDT"})

	s.apply([]byte(`not json`))
	s.apply([]byte(`{"stream":"x","data":{"s":"BTCUSDT","c":"not-a-number"}}`))
	s.apply([]byte(`{"stream":"x","data":{"c":"1"}}`))

	if _, err := s.LastPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatalf("expected no price after malformed frames")
	}
}
