package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/consensus"
	"swarmtrade/internal/exchange"
	"swarmtrade/internal/executor"
	"swarmtrade/internal/marketdata"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
	"swarmtrade/internal/risk"
)

type stubRepo struct {
	repository.Repository

	openPosition *models.Position
	execution    *models.Execution
	finishStatus string
	finishes     int
	order        *models.Order
	position     *models.Position
	statsDelta   repository.FlowStatsDelta
	fills        map[string]bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{fills: map[string]bool{}}
}

func (s *stubRepo) GetOpenPositionByFlowSymbol(ctx context.Context, flowID uint64, symbol string) (*models.Position, error) {
	return s.openPosition, nil
}

func (s *stubRepo) InsertExecution(ctx context.Context, item *models.Execution) error {
	s.execution = item
	return nil
}

func (s *stubRepo) UpdateExecutionDecisions(ctx context.Context, id string, decisions []byte, totalCost decimal.Decimal) error {
	return nil
}

func (s *stubRepo) FinishExecution(ctx context.Context, id string, status string, updates map[string]any) error {
	s.finishStatus = status
	s.finishes++
	return nil
}

func (s *stubRepo) IncrementFlowStats(ctx context.Context, id uint64, delta repository.FlowStatsDelta) error {
	s.statsDelta = delta
	return nil
}

func (s *stubRepo) InsertOrder(ctx context.Context, item *models.Order) error {
	item.ID = 100
	s.order = item
	return nil
}

func (s *stubRepo) SaveOrder(ctx context.Context, item *models.Order) error {
	s.order = item
	return nil
}

func (s *stubRepo) InsertPosition(ctx context.Context, item *models.Position) error {
	item.ID = 9
	s.position = item
	return nil
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
	return nil
}

func (s *stubRepo) PositionsSummary(ctx context.Context) (repository.PortfolioSummary, error) {
	return repository.PortfolioSummary{}, nil
}

func (s *stubRepo) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type stubMarket struct {
	price decimal.Decimal
}

func (m stubMarket) Snapshot(ctx context.Context, symbol string) (*marketdata.Context, error) {
	return &marketdata.Context{
		Symbol:    symbol,
		Price:     m.price,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type stubAnalyst struct {
	decision agent.Decision
}

func (a stubAnalyst) AnalyzeMarket(ctx context.Context, model, input string) (agent.Decision, agent.Usage, error) {
	return a.decision, agent.Usage{}, nil
}

type stubAssessor struct {
	assessment agent.RiskAssessment
}

func (a stubAssessor) AssessRisk(ctx context.Context, model, input string) (agent.RiskAssessment, agent.Usage, error) {
	return a.assessment, agent.Usage{}, nil
}

type entryAdapter struct {
	fillPrice  decimal.Decimal
	failSubmit bool
	submits    int
	lastReq    exchange.OrderRequest
}

func (a *entryAdapter) Name() string { return "stub" }

func (a *entryAdapter) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Ack, error) {
	a.submits++
	a.lastReq = req
	if a.failSubmit {
		return exchange.Ack{}, fmt.Errorf("venue unavailable")
	}
	return exchange.Ack{ExchangeOrderID: "ex-1", Status: models.OrderOpen}, nil
}

func (a *entryAdapter) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderState, error) {
	return exchange.OrderState{
		Status: models.OrderFilled,
		Fills: []exchange.FillEvent{{
			FillID:   "t-1",
			Quantity: a.lastReq.Quantity,
			Price:    a.fillPrice,
			Time:     time.Now().UTC(),
		}},
	}, nil
}

func (a *entryAdapter) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}

func testFlow() *models.Flow {
	return &models.Flow{
		ID:                   7,
		Symbol:               "BTCUSDT",
		Mode:                 models.ModeSolo,
		MinAgreement:         50,
		RiskWarningThreshold: 0.6,
		RiskReducePercent:    30,
		OrderSizeUSD:         decimal.NewFromInt(500),
		Leverage:             1,
		StopLossPct:          5,
		TakeProfitPct:        10,
		Enabled:              true,
	}
}

func newOrchestrator(repo *stubRepo, analyst consensus.Analyst, assessor risk.Assessor, adapter exchange.Adapter, price string) *Orchestrator {
	exec := &executor.Service{Repo: repo, Adapter: adapter}
	exec.Cfg.SubmitRetries = 1
	exec.Cfg.RetryBaseDelay = time.Millisecond
	exec.Cfg.PollInterval = time.Millisecond
	return &Orchestrator{
		Repo:      repo,
		Market:    stubMarket{price: decimal.RequireFromString(price)},
		Consensus: &consensus.Engine{Analyst: analyst},
		Gate:      &risk.Gate{Repo: repo, Assessor: assessor},
		Exec:      exec,
		Locks:     NewMemoryLocker(),
	}
}

func TestExecuteHoldCompletesWithoutOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newOrchestrator(repo,
		stubAnalyst{decision: agent.Decision{Action: models.ActionHold, Confidence: 0.9, Reasoning: "chop"}},
		stubAssessor{}, &entryAdapter{}, "100")

	exec, err := svc.Execute(context.Background(), testFlow(), models.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionCompleted || exec.FinalAction != models.ActionHold {
		t.Fatalf("status=%s action=%s want completed hold", exec.Status, exec.FinalAction)
	}
	if repo.order != nil {
		t.Fatalf("hold placed an order: %+v", repo.order)
	}
	if repo.statsDelta.SuccessfulExecutions != 1 {
		t.Fatalf("stats=%+v want one successful execution", repo.statsDelta)
	}
}

func TestExecuteBuyOpensPosition(t *testing.T) {
	repo := newStubRepo()
	adapter := &entryAdapter{fillPrice: decimal.NewFromInt(100)}
	svc := newOrchestrator(repo,
		stubAnalyst{decision: agent.Decision{Action: models.ActionBuy, Confidence: 0.8, Reasoning: "breakout"}},
		stubAssessor{assessment: agent.RiskAssessment{Approved: true, RiskScore: 0.2, Confidence: 1}},
		adapter, "100")

	exec, err := svc.Execute(context.Background(), testFlow(), models.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionCompleted || exec.FinalAction != models.ActionBuy {
		t.Fatalf("status=%s action=%s want completed buy", exec.Status, exec.FinalAction)
	}
	if repo.order == nil || repo.order.Side != models.SideBuy {
		t.Fatalf("order=%+v want buy", repo.order)
	}
	if !repo.order.RequestedQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("qty=%s want=5", repo.order.RequestedQty)
	}

	pos := repo.position
	if pos == nil || pos.Side != models.Long || pos.Status != models.PositionOpen {
		t.Fatalf("position=%+v want open long", pos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("entry=%s want=100", pos.EntryPrice)
	}
	if !pos.StopLoss.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("stop=%s want=95", pos.StopLoss)
	}
	if !pos.TakeProfit.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("take_profit=%s want=110", pos.TakeProfit)
	}
	if repo.order.PositionID == nil || *repo.order.PositionID != pos.ID {
		t.Fatalf("entry order not linked to position")
	}
}

func TestExecuteRiskRejectionHolds(t *testing.T) {
	repo := newStubRepo()
	adapter := &entryAdapter{}
	svc := newOrchestrator(repo,
		stubAnalyst{decision: agent.Decision{Action: models.ActionSell, Confidence: 0.7, Reasoning: "breakdown"}},
		stubAssessor{assessment: agent.RiskAssessment{Approved: false, RiskScore: 0.9, Confidence: 0.8, Reasoning: "crowded trade"}},
		adapter, "100")

	exec, err := svc.Execute(context.Background(), testFlow(), models.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != models.ExecutionCompleted || exec.FinalAction != models.ActionHold {
		t.Fatalf("status=%s action=%s want completed hold", exec.Status, exec.FinalAction)
	}
	if adapter.submits != 0 {
		t.Fatalf("submits=%d want=0", adapter.submits)
	}
	if repo.position != nil {
		t.Fatalf("rejected trade opened a position")
	}
}

func TestExecuteSkipsWhenPositionOpen(t *testing.T) {
	repo := newStubRepo()
	repo.openPosition = &models.Position{ID: 1, Status: models.PositionOpen}
	svc := newOrchestrator(repo, stubAnalyst{}, stubAssessor{}, &entryAdapter{}, "100")

	_, err := svc.Execute(context.Background(), testFlow(), models.TriggerLoop)
	if !errors.Is(err, ErrPositionOpen) {
		t.Fatalf("err=%v want=ErrPositionOpen", err)
	}
	if repo.execution != nil {
		t.Fatalf("skip recorded an execution")
	}
}

func TestExecuteBusyLockSkips(t *testing.T) {
	repo := newStubRepo()
	svc := newOrchestrator(repo, stubAnalyst{}, stubAssessor{}, &entryAdapter{}, "100")

	if ok, _ := svc.Locks.Acquire(context.Background(), lockKey(7), time.Minute); !ok {
		t.Fatalf("pre-acquire failed")
	}
	_, err := svc.Execute(context.Background(), testFlow(), models.TriggerManual)
	if !errors.Is(err, ErrFlowBusy) {
		t.Fatalf("err=%v want=ErrFlowBusy", err)
	}
}

func TestExecuteEntryFailureFailsExecution(t *testing.T) {
	repo := newStubRepo()
	adapter := &entryAdapter{failSubmit: true}
	svc := newOrchestrator(repo,
		stubAnalyst{decision: agent.Decision{Action: models.ActionBuy, Confidence: 0.8}},
		stubAssessor{assessment: agent.RiskAssessment{Approved: true, RiskScore: 0.1, Confidence: 1}},
		adapter, "100")

	exec, err := svc.Execute(context.Background(), testFlow(), models.TriggerManual)
	if err == nil {
		t.Fatalf("expected error")
	}
	if exec == nil || exec.Status != models.ExecutionFailed {
		t.Fatalf("execution=%+v want failed", exec)
	}
	if repo.finishStatus != models.ExecutionFailed {
		t.Fatalf("persisted status=%s want failed", repo.finishStatus)
	}
	if repo.statsDelta.TotalExecutions != 1 || repo.statsDelta.SuccessfulExecutions != 0 {
		t.Fatalf("stats=%+v want one failed execution", repo.statsDelta)
	}
}
