package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// PriceStream keeps a live last-price per symbol over the Binance miniTicker
// websocket. The monitor reads it lock-free of REST rate limits; on a gap it
// falls back to the REST feed through the PriceSource interface.
type PriceStream struct {
	Logger *zap.Logger

	URL        string
	Symbols    []string
	ReadLimit  int64
	MaxBackoff time.Duration

	mu     sync.RWMutex
	prices map[string]streamPrice
}

type streamPrice struct {
	price decimal.Decimal
	at    time.Time
}

func NewPriceStream(logger *zap.Logger, url string, symbols []string) *PriceStream {
	return &PriceStream{
		Logger:     logger,
		URL:        strings.TrimSpace(url),
		Symbols:    symbols,
		MaxBackoff: 30 * time.Second,
		prices:     map[string]streamPrice{},
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with capped
// exponential backoff.
func (s *PriceStream) Run(ctx context.Context) error {
	if s == nil || s.URL == "" || len(s.Symbols) == 0 {
		return nil
	}
	backoff := time.Second
	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && s.Logger != nil {
			s.Logger.Warn("price stream disconnected",
				zap.Error(err),
				zap.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if max := s.MaxBackoff; max > 0 && backoff > max {
			backoff = max
		}
	}
}

func (s *PriceStream) readLoop(ctx context.Context) error {
	streams := make([]string, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		streams = append(streams, strings.ToLower(strings.TrimSpace(sym))+"@miniTicker")
	}

	conn, _, err := websocket.Dial(ctx, streamURL(s.URL, streams), nil)
	if err != nil {
		return err
	}
	if s.ReadLimit > 0 {
		conn.SetReadLimit(s.ReadLimit)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.apply(msg)
	}
}

// streamURL builds a combined-stream endpoint. Binance multiplexes several
// market streams only over /stream?streams=a/b, never over the single-stream
// /ws path, so any /ws or /stream suffix on the configured base is stripped.
func streamURL(base string, streams []string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, "/ws")
	base = strings.TrimSuffix(base, "/stream")
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *PriceStream) apply(msg []byte) {
	// Combined streams wrap each payload as {"stream":...,"data":{...}}.
	var frame struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if len(frame.Data) > 0 {
		msg = frame.Data
	}
	var tick struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	}
	if err := json.Unmarshal(msg, &tick); err != nil {
		return
	}
	if tick.Symbol == "" || tick.Close == "" {
		return
	}
	price, err := decimal.NewFromString(tick.Close)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.prices[strings.ToUpper(tick.Symbol)] = streamPrice{price: price, at: time.Now().UTC()}
	s.mu.Unlock()
}

// LastPrice returns the most recent streamed price. Readings older than
// 10s are treated as a gap so callers fall back to REST.
func (s *PriceStream) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	_ = ctx
	if s == nil {
		return decimal.Zero, errors.New("price stream not running")
	}
	s.mu.RLock()
	p, ok := s.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("no streamed price for %s", symbol)
	}
	if time.Since(p.at) > 10*time.Second {
		return decimal.Zero, fmt.Errorf("streamed price for %s is stale", symbol)
	}
	return p.price, nil
}
