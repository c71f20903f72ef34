package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/exchange"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

type stubRepo struct {
	repository.Repository
	fills      map[string]bool
	lastStatus string
}

func newStubRepo() *stubRepo {
	return &stubRepo{fills: map[string]bool{}}
}

func (s *stubRepo) InsertFillOnce(ctx context.Context, item *models.Fill) (bool, error) {
	key := fmt.Sprintf("%d/%s", item.OrderID, item.FillID)
	if s.fills[key] {
		return false, nil
	}
	s.fills[key] = true
	return true, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	s.lastStatus = status
	return nil
}

func (s *stubRepo) SaveOrder(ctx context.Context, item *models.Order) error {
	s.lastStatus = item.Status
	return nil
}

type stubAdapter struct {
	submitErrs int
	submits    int
	state      exchange.OrderState
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Ack, error) {
	a.submits++
	if a.submits <= a.submitErrs {
		return exchange.Ack{}, fmt.Errorf("venue unavailable")
	}
	return exchange.Ack{ExchangeOrderID: "ex-1", Status: models.OrderOpen}, nil
}

func (a *stubAdapter) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderState, error) {
	return a.state, nil
}

func (a *stubAdapter) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}

func testOrder() *models.Order {
	return &models.Order{
		ID:           42,
		Symbol:       "BTCUSDT",
		Side:         models.SideBuy,
		Status:       models.OrderPending,
		RequestedQty: decimal.NewFromInt(10),
	}
}

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.OrderPending, models.OrderSubmitted, true},
		{models.OrderSubmitted, models.OrderOpen, true},
		{models.OrderOpen, models.OrderPartiallyFilled, true},
		{models.OrderPartiallyFilled, models.OrderFilled, true},
		{models.OrderPartiallyFilled, models.OrderCancelled, true},
		{models.OrderFilled, models.OrderCancelled, false},
		{models.OrderCancelled, models.OrderOpen, false},
		{models.OrderRejected, models.OrderFilled, false},
		{models.OrderOpen, models.OrderOpen, true},
	}
	for _, tc := range cases {
		if got := TransitionAllowed(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s->%s = %v want=%v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	order := testOrder()

	ApplyFill(order, decimal.NewFromInt(4), decimal.NewFromInt(100), decimal.NewFromInt(1), time.Now())
	if order.Status != models.OrderPartiallyFilled {
		t.Fatalf("status=%s want=partially_filled", order.Status)
	}
	ApplyFill(order, decimal.NewFromInt(6), decimal.NewFromInt(110), decimal.NewFromInt(2), time.Now())

	if order.Status != models.OrderFilled {
		t.Fatalf("status=%s want=filled", order.Status)
	}
	if order.AvgFillPrice.StringFixed(2) != "106.00" {
		t.Fatalf("avg=%s want=106.00", order.AvgFillPrice.StringFixed(2))
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("filled=%s want=10", order.FilledQty)
	}
	if order.TotalFees.StringFixed(2) != "3.00" {
		t.Fatalf("fees=%s want=3.00", order.TotalFees.StringFixed(2))
	}
	if order.FilledAt == nil {
		t.Fatalf("filled_at not set")
	}
}

func TestSyncRedeliveredFillIsNoOp(t *testing.T) {
	repo := newStubRepo()
	adapter := &stubAdapter{state: exchange.OrderState{
		Status: models.OrderPartiallyFilled,
		Fills: []exchange.FillEvent{{
			FillID:   "t-1",
			Quantity: decimal.NewFromInt(4),
			Price:    decimal.NewFromInt(100),
			Time:     time.Now().UTC(),
		}},
	}}
	svc := &Service{Repo: repo, Adapter: adapter}

	order := testOrder()
	order.Status = models.OrderOpen
	order.ExchangeOrderID = "ex-1"

	if _, err := svc.Sync(context.Background(), order); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("filled=%s want=4", order.FilledQty)
	}

	// Same state delivered again: same fill id, no double-count.
	changed, err := svc.Sync(context.Background(), order)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if changed {
		t.Fatalf("redelivery reported a change")
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("filled=%s want=4 after redelivery", order.FilledQty)
	}
}

func TestSyncVenueCancelTransition(t *testing.T) {
	repo := newStubRepo()
	adapter := &stubAdapter{state: exchange.OrderState{Status: models.OrderCancelled}}
	svc := &Service{Repo: repo, Adapter: adapter}

	order := testOrder()
	order.Status = models.OrderOpen
	order.ExchangeOrderID = "ex-1"

	changed, err := svc.Sync(context.Background(), order)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !changed || order.Status != models.OrderCancelled {
		t.Fatalf("status=%s want=cancelled", order.Status)
	}
	if order.CancelledAt == nil {
		t.Fatalf("cancelled_at not set")
	}
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	repo := newStubRepo()
	adapter := &stubAdapter{submitErrs: 2}
	svc := &Service{Repo: repo, Adapter: adapter}
	svc.Cfg.SubmitRetries = 3
	svc.Cfg.RetryBaseDelay = time.Millisecond

	order := testOrder()
	if err := svc.Submit(context.Background(), order); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if adapter.submits != 3 {
		t.Fatalf("submits=%d want=3", adapter.submits)
	}
	if order.Status != models.OrderOpen {
		t.Fatalf("status=%s want=open", order.Status)
	}
	if order.ExchangeOrderID != "ex-1" {
		t.Fatalf("exchange id=%q", order.ExchangeOrderID)
	}
}

func TestSubmitExhaustionMarksFailed(t *testing.T) {
	repo := newStubRepo()
	adapter := &stubAdapter{submitErrs: 10}
	svc := &Service{Repo: repo, Adapter: adapter}
	svc.Cfg.SubmitRetries = 3
	svc.Cfg.RetryBaseDelay = time.Millisecond

	order := testOrder()
	if err := svc.Submit(context.Background(), order); err == nil {
		t.Fatalf("expected error")
	}
	if adapter.submits != 3 {
		t.Fatalf("submits=%d want=3", adapter.submits)
	}
	if order.Status != models.OrderFailed {
		t.Fatalf("status=%s want=failed", order.Status)
	}
	if order.FailureReason == "" {
		t.Fatalf("missing failure reason")
	}
	if repo.lastStatus != models.OrderFailed {
		t.Fatalf("persisted status=%s want=failed", repo.lastStatus)
	}
}

type staticPrice struct{ price decimal.Decimal }

func (s staticPrice) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.price, nil
}

func TestPaperSubmitThenWaitIngestsFills(t *testing.T) {
	repo := newStubRepo()
	paper := exchange.NewPaper(staticPrice{decimal.NewFromInt(100)}, 0.001, 0)
	svc := &Service{Repo: repo, Adapter: paper}

	order := testOrder()
	if err := svc.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The paper venue acks market orders already filled; the local order
	// must stay non-terminal until the fills are ingested.
	if order.Terminal() {
		t.Fatalf("status=%s right after submit, fills not yet applied", order.Status)
	}
	if err := svc.WaitTerminal(context.Background(), order); err != nil {
		t.Fatalf("wait terminal: %v", err)
	}

	if order.Status != models.OrderFilled {
		t.Fatalf("status=%s want=filled", order.Status)
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("filled_qty=%s want=10", order.FilledQty)
	}
	if !order.AvgFillPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("avg_fill_price=%s want=100", order.AvgFillPrice)
	}
	if !order.TotalFees.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("total_fees=%s want=1", order.TotalFees)
	}
}
