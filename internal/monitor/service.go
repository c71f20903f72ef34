package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/config"
	"swarmtrade/internal/executor"
	"swarmtrade/internal/marketdata"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// Reviewer is the AI close check; satisfied by *agent.Client.
type Reviewer interface {
	ReviewPosition(ctx context.Context, model, input string) (agent.ReviewVerdict, agent.Usage, error)
}

// Switches is the feature switch lookup; satisfied by
// *service.SystemSettingsService.
type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

const monitorSwitchKey = "feature.monitor"

// Service watches open positions: refreshes marks every tick, maintains
// protective stops, and closes positions when an exit trigger fires.
type Service struct {
	Logger    *zap.Logger
	Repo      repository.Repository
	Prices    marketdata.PriceSource
	Fallback  marketdata.PriceSource
	Exec      *executor.Service
	Reviewer  Reviewer
	Sentiment *marketdata.SentimentClient
	Switches  Switches
	Cfg       config.MonitorConfig

	mu       sync.Mutex
	reevalAt map[uint64]time.Time
	flows    map[uint64]flowCacheEntry
}

type flowCacheEntry struct {
	flow *models.Flow
	at   time.Time
}

const flowCacheTTL = 30 * time.Second

func (s *Service) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	interval := s.Cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.Logger != nil {
		s.Logger.Info("position monitor started", zap.Duration("poll_interval", interval))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.Switches != nil && !s.Switches.IsEnabled(ctx, monitorSwitchKey, true) {
		return
	}
	positions, err := s.Repo.ListOpenPositions(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("list open positions failed", zap.Error(err))
		}
		return
	}
	for i := range positions {
		pos := positions[i]
		if pos.Status == models.PositionClosing {
			if err := s.recoverClosing(ctx, &pos); err != nil && s.Logger != nil {
				s.Logger.Warn("closing recovery failed",
					zap.Uint64("position_id", pos.ID),
					zap.Error(err))
			}
			continue
		}
		if pos.Status != models.PositionOpen {
			continue
		}
		if err := s.process(ctx, &pos); err != nil && s.Logger != nil {
			s.Logger.Warn("position tick failed",
				zap.Uint64("position_id", pos.ID),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Service) process(ctx context.Context, pos *models.Position) error {
	price, err := s.lastPrice(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	flow, err := s.flow(ctx, pos.FlowID)
	if err != nil {
		return err
	}

	UpdateMarks(pos, price)
	if flow != nil {
		ApplyBreakEven(pos, price, flow.BreakEvenActivatePct)
		UpdateTrailing(pos, price, flow.TrailingActivatePct)
	} else {
		UpdateTrailing(pos, price, 0)
	}

	if Liquidated(pos, price) {
		return s.liquidate(ctx, pos, price)
	}

	aiClose, aiReason := s.reviewIfDue(ctx, pos, flow, price)

	reason := CheckExit(pos, price, aiClose)
	if reason == "" {
		return s.Repo.SavePosition(ctx, pos)
	}
	if reason == models.ExitAIClose && s.Logger != nil {
		s.Logger.Info("ai close",
			zap.Uint64("position_id", pos.ID),
			zap.String("reasoning", aiReason))
	}
	return s.close(ctx, pos, price, reason)
}

// ClosePosition is the operator-requested exit. It reports the closed
// position, or nil when no such position exists.
func (s *Service) ClosePosition(ctx context.Context, id uint64) (*models.Position, error) {
	pos, err := s.Repo.GetPositionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}
	if pos.Status != models.PositionOpen {
		return nil, fmt.Errorf("position %d is %s, not open", id, pos.Status)
	}
	price, err := s.lastPrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	UpdateMarks(pos, price)
	if err := s.close(ctx, pos, price, models.ExitManual); err != nil {
		return nil, err
	}
	return pos, nil
}

func (s *Service) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.Prices != nil {
		if price, err := s.Prices.LastPrice(ctx, symbol); err == nil && price.IsPositive() {
			return price, nil
		}
	}
	if s.Fallback == nil {
		return decimal.Zero, fmt.Errorf("no price source for %s", symbol)
	}
	return s.Fallback.LastPrice(ctx, symbol)
}

func (s *Service) flow(ctx context.Context, id uint64) (*models.Flow, error) {
	s.mu.Lock()
	entry, ok := s.flows[id]
	s.mu.Unlock()
	if ok && time.Since(entry.at) < flowCacheTTL {
		return entry.flow, nil
	}

	flow, err := s.Repo.GetFlowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.flows == nil {
		s.flows = map[uint64]flowCacheEntry{}
	}
	s.flows[id] = flowCacheEntry{flow: flow, at: time.Now()}
	s.mu.Unlock()
	return flow, nil
}

// reviewIfDue runs the AI close check at most once per reeval interval
// per position. Review failures never close a position.
func (s *Service) reviewIfDue(ctx context.Context, pos *models.Position, flow *models.Flow, price decimal.Decimal) (bool, string) {
	if s.Reviewer == nil {
		return false, ""
	}
	interval := s.Cfg.ReevalInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.mu.Lock()
	last := s.reevalAt[pos.ID]
	due := time.Since(last) >= interval
	if due {
		if s.reevalAt == nil {
			s.reevalAt = map[uint64]time.Time{}
		}
		s.reevalAt[pos.ID] = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return false, ""
	}

	model := strings.TrimSpace(s.Cfg.ReevalModel)
	if model == "" && flow != nil {
		model = flow.DecisionModel
	}
	input := describePosition(pos, price)
	if s.Sentiment != nil {
		if sent, err := s.Sentiment.Fetch(ctx); err == nil && sent != nil {
			input += fmt.Sprintf("fear_greed: %d (%s)\n", sent.Value, sent.Classification)
		}
	}
	verdict, _, err := s.Reviewer.ReviewPosition(ctx, model, input)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("position review failed",
				zap.Uint64("position_id", pos.ID),
				zap.Error(err))
		}
		return false, ""
	}
	s.applyStopAdvice(pos, verdict)
	return verdict.Close, verdict.Reasoning
}

// applyStopAdvice moves the protective levels on reviewer recommendation.
// A stop only tightens: up for longs, down for shorts. A zero or negative
// level is ignored.
func (s *Service) applyStopAdvice(pos *models.Position, verdict agent.ReviewVerdict) {
	if verdict.NewStopLoss != nil && *verdict.NewStopLoss > 0 {
		stop := decimal.NewFromFloat(*verdict.NewStopLoss)
		long := pos.Side == models.Long
		tightens := pos.StopLoss.IsZero() ||
			(long && stop.GreaterThan(pos.StopLoss)) ||
			(!long && stop.LessThan(pos.StopLoss))
		if tightens {
			pos.StopLoss = stop
			if s.Logger != nil {
				s.Logger.Info("reviewer moved stop loss",
					zap.Uint64("position_id", pos.ID),
					zap.String("stop_loss", stop.String()))
			}
		}
	}
	if verdict.NewTakeProfit != nil && *verdict.NewTakeProfit > 0 {
		tp := decimal.NewFromFloat(*verdict.NewTakeProfit)
		pos.TakeProfit = tp
		if s.Logger != nil {
			s.Logger.Info("reviewer moved take profit",
				zap.Uint64("position_id", pos.ID),
				zap.String("take_profit", tp.String()))
		}
	}
}

func describePosition(pos *models.Position, price decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "symbol: %s side: %s\n", pos.Symbol, pos.Side)
	fmt.Fprintf(&b, "entry_price: %s quantity: %s leverage: %d\n",
		pos.EntryPrice.String(), pos.Quantity.String(), pos.Leverage)
	fmt.Fprintf(&b, "current_price: %s\n", price.String())
	fmt.Fprintf(&b, "unrealized_pnl: %s\n", pos.UnrealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "max_drawdown: %s\n", pos.MaxDrawdown.StringFixed(2))
	fmt.Fprintf(&b, "stop_loss: %s take_profit: %s\n", pos.StopLoss.String(), pos.TakeProfit.String())
	fmt.Fprintf(&b, "opened_at: %s\n", pos.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "entry_reasoning: %s\n", pos.EntryReasoning)
	return b.String()
}

// closingRecoveryGrace must exceed the executor order timeout so a close
// still in flight on another tick is never raced.
const closingRecoveryGrace = 3 * time.Minute

// recoverClosing re-drives a position left in closing by a crash between
// the status claim and settlement. A filled close order settles with its
// real fill price and fees; a dead or missing one hands the position back
// to the exit checks.
func (s *Service) recoverClosing(ctx context.Context, pos *models.Position) error {
	if time.Since(pos.UpdatedAt) < closingRecoveryGrace {
		return nil
	}
	orders, err := s.Repo.ListOrders(ctx, repository.ListOrdersParams{PositionID: &pos.ID})
	if err != nil {
		return err
	}
	var order *models.Order
	for i := range orders {
		o := &orders[i]
		if !o.ReduceOnly {
			continue
		}
		if order == nil || o.ID > order.ID {
			order = o
		}
	}
	if order == nil {
		s.reopen(ctx, pos)
		return nil
	}
	if !order.Terminal() {
		_, err := s.Exec.Sync(ctx, order)
		return err
	}
	if order.FilledQty.IsPositive() {
		reason := pos.ExitReason
		if reason == "" {
			// The original trigger was lost with the crash.
			reason = models.ExitManual
		}
		if s.Logger != nil {
			s.Logger.Info("settling recovered position",
				zap.Uint64("position_id", pos.ID),
				zap.Uint64("order_id", order.ID))
		}
		return s.settle(ctx, pos, order.AvgFillPrice, order.TotalFees, reason)
	}
	s.reopen(ctx, pos)
	return nil
}

// close submits a reduce-only market order for the full quantity. The
// opening CAS to closing makes the exit single-flight across ticks.
func (s *Service) close(ctx context.Context, pos *models.Position, price decimal.Decimal, reason string) error {
	claimed, err := s.Repo.UpdatePositionStatus(ctx, pos.ID, models.PositionOpen, models.PositionClosing)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	pos.Status = models.PositionClosing

	side := models.SideSell
	if pos.Side == models.Short {
		side = models.SideBuy
	}
	order := &models.Order{
		ExecutionID:  pos.ExecutionID,
		PositionID:   &pos.ID,
		Symbol:       pos.Symbol,
		Side:         side,
		OrderType:    "market",
		ReduceOnly:   true,
		RequestedQty: pos.Quantity,
		Leverage:     pos.Leverage,
		Status:       models.OrderPending,
	}
	if err := s.Repo.InsertOrder(ctx, order); err != nil {
		s.reopen(ctx, pos)
		return fmt.Errorf("insert close order: %w", err)
	}
	if err := s.Exec.Submit(ctx, order); err != nil {
		s.reopen(ctx, pos)
		return fmt.Errorf("submit close order: %w", err)
	}
	if err := s.Exec.WaitTerminal(ctx, order); err != nil && order.FilledQty.IsZero() {
		s.reopen(ctx, pos)
		return fmt.Errorf("close order %d not filled: %w", order.ID, err)
	}

	exitPrice := order.AvgFillPrice
	if exitPrice.IsZero() {
		exitPrice = price
	}
	return s.settle(ctx, pos, exitPrice, order.TotalFees, reason)
}

// settle finalizes the position row, writes the ledger entry and bumps the
// flow stats in one transaction boundary per concern.
func (s *Service) settle(ctx context.Context, pos *models.Position, exitPrice, exitFee decimal.Decimal, reason string) error {
	now := time.Now().UTC()
	realized := pos.UnrealizedAt(exitPrice).Sub(pos.EntryFee).Sub(exitFee)

	pos.ExitPrice = exitPrice
	pos.ExitFee = exitFee
	pos.RealizedPnL = realized
	pos.ExitReason = reason
	pos.ClosedAt = &now
	pos.CurrentPrice = exitPrice
	pos.UnrealizedPnL = decimal.Zero
	if reason == models.ExitLiquidation {
		pos.Status = models.PositionLiquidated
	} else {
		pos.Status = models.PositionClosed
	}
	if err := s.Repo.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save closed position: %w", err)
	}

	if err := s.Repo.InsertTransaction(ctx, &models.Transaction{
		FlowID:     pos.FlowID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		Fees:       pos.EntryFee.Add(exitFee),
		PnL:        realized,
		Reason:     reason,
		ClosedAt:   now,
	}); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	delta := repository.FlowStatsDelta{RealizedPnL: realized}
	if realized.IsPositive() {
		delta.Wins = 1
	} else {
		delta.Losses = 1
	}
	if err := s.Repo.IncrementFlowStats(ctx, pos.FlowID, delta); err != nil {
		return fmt.Errorf("increment flow stats: %w", err)
	}

	s.mu.Lock()
	delete(s.reevalAt, pos.ID)
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Info("position closed",
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("flow_id", pos.FlowID),
			zap.String("reason", reason),
			zap.String("exit_price", exitPrice.String()),
			zap.String("realized_pnl", realized.StringFixed(2)))
	}
	return nil
}

// liquidate force-closes at the liquidation price without a venue order;
// in paper mode there is no margin engine to do it for us.
func (s *Service) liquidate(ctx context.Context, pos *models.Position, price decimal.Decimal) error {
	claimed, err := s.Repo.UpdatePositionStatus(ctx, pos.ID, models.PositionOpen, models.PositionClosing)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if s.Logger != nil {
		s.Logger.Warn("position liquidated",
			zap.Uint64("position_id", pos.ID),
			zap.String("price", price.String()))
	}
	return s.settle(ctx, pos, price, decimal.Zero, models.ExitLiquidation)
}

func (s *Service) reopen(ctx context.Context, pos *models.Position) {
	if reverted, err := s.Repo.UpdatePositionStatus(ctx, pos.ID, models.PositionClosing, models.PositionOpen); err != nil || !reverted {
		if s.Logger != nil {
			s.Logger.Error("failed to reopen position after close error",
				zap.Uint64("position_id", pos.ID),
				zap.Error(err))
		}
		return
	}
	pos.Status = models.PositionOpen
}
