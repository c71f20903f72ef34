package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"swarmtrade/internal/models"
)

// Binance executes spot market orders through the signed REST API.
type Binance struct {
	client *binance.Client
}

func NewBinance(apiKey, apiSecret, baseURL string) *Binance {
	client := binance.NewClient(apiKey, apiSecret)
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) SubmitOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	if b == nil || b.client == nil {
		return Ack{}, fmt.Errorf("binance adapter not configured")
	}
	side := binance.SideTypeBuy
	if strings.EqualFold(req.Side, models.SideSell) {
		side = binance.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return Ack{}, fmt.Errorf("binance submit %s %s: %w", req.Side, req.Symbol, err)
	}
	return Ack{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		Status:          mapStatus(res.Status),
	}, nil
}

func (b *Binance) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error) {
	if b == nil || b.client == nil {
		return OrderState{}, fmt.Errorf("binance adapter not configured")
	}
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return OrderState{}, fmt.Errorf("bad exchange order id %q: %w", exchangeOrderID, err)
	}

	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return OrderState{}, fmt.Errorf("binance query %s/%s: %w", symbol, exchangeOrderID, err)
	}

	state := OrderState{
		ExchangeOrderID: exchangeOrderID,
		Status:          mapStatus(o.Status),
	}

	executed, _ := decimal.NewFromString(o.ExecutedQuantity)
	if executed.IsPositive() {
		// Real trade ids from myTrades keep fill application idempotent
		// even when the same state is polled twice.
		trades, err := b.client.NewListTradesService().
			Symbol(symbol).
			OrderId(orderID).
			Do(ctx)
		if err != nil {
			return OrderState{}, fmt.Errorf("binance trades %s/%s: %w", symbol, exchangeOrderID, err)
		}
		for _, t := range trades {
			if t == nil {
				continue
			}
			qty, _ := decimal.NewFromString(t.Quantity)
			price, _ := decimal.NewFromString(t.Price)
			fee, _ := decimal.NewFromString(t.Commission)
			state.Fills = append(state.Fills, FillEvent{
				FillID:   strconv.FormatInt(t.ID, 10),
				Quantity: qty,
				Price:    price,
				Fee:      fee,
				Time:     time.UnixMilli(t.Time).UTC(),
			})
		}
	}
	return state, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("binance adapter not configured")
	}
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad exchange order id %q: %w", exchangeOrderID, err)
	}
	_, err = b.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance cancel %s/%s: %w", symbol, exchangeOrderID, err)
	}
	return nil
}

func mapStatus(status binance.OrderStatusType) string {
	switch status {
	case binance.OrderStatusTypeNew:
		return models.OrderOpen
	case binance.OrderStatusTypePartiallyFilled:
		return models.OrderPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return models.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return models.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return models.OrderRejected
	case binance.OrderStatusTypeExpired:
		return models.OrderExpired
	}
	return models.OrderSubmitted
}
