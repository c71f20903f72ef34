package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swarmtrade/internal/marketdata"
	"swarmtrade/internal/models"
)

// Paper simulates instant market-order execution against live prices. Entry
// slippage and taker fees are applied so paper P&L stays honest.
type Paper struct {
	Prices      marketdata.PriceSource
	FeeRate     float64
	SlippageBps float64

	mu     sync.Mutex
	orders map[string]OrderState
}

func NewPaper(prices marketdata.PriceSource, feeRate, slippageBps float64) *Paper {
	return &Paper{
		Prices:      prices,
		FeeRate:     feeRate,
		SlippageBps: slippageBps,
		orders:      map[string]OrderState{},
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	if p == nil || p.Prices == nil {
		return Ack{}, fmt.Errorf("paper adapter not configured")
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return Ack{}, fmt.Errorf("non-positive quantity %s", req.Quantity)
	}

	price, err := p.Prices.LastPrice(ctx, req.Symbol)
	if err != nil {
		return Ack{}, fmt.Errorf("paper fill price: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return Ack{}, fmt.Errorf("no price for %s", req.Symbol)
	}

	// Slippage moves against the taker.
	slip := decimal.NewFromFloat(p.SlippageBps / 10000)
	if strings.EqualFold(req.Side, models.SideBuy) {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	id := uuid.NewString()
	fee := price.Mul(req.Quantity).Mul(decimal.NewFromFloat(p.FeeRate))
	state := OrderState{
		ExchangeOrderID: id,
		Status:          models.OrderFilled,
		Fills: []FillEvent{{
			FillID:   id + "-1",
			Quantity: req.Quantity,
			Price:    price,
			Fee:      fee,
			Time:     time.Now().UTC(),
		}},
	}

	p.mu.Lock()
	p.orders[id] = state
	p.mu.Unlock()

	return Ack{ExchangeOrderID: id, Status: models.OrderFilled}, nil
}

func (p *Paper) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error) {
	_ = ctx
	p.mu.Lock()
	state, ok := p.orders[exchangeOrderID]
	p.mu.Unlock()
	if !ok {
		return OrderState{}, fmt.Errorf("unknown paper order %s", exchangeOrderID)
	}
	return state, nil
}

func (p *Paper) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("unknown paper order %s", exchangeOrderID)
	}
	// Paper orders fill instantly, so cancel only applies before that,
	// which cannot happen here; keep it a no-op on filled orders.
	if state.Status != models.OrderFilled {
		state.Status = models.OrderCancelled
		p.orders[exchangeOrderID] = state
	}
	return nil
}
