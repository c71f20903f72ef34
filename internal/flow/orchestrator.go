package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swarmtrade/internal/config"
	"swarmtrade/internal/consensus"
	"swarmtrade/internal/executor"
	"swarmtrade/internal/marketdata"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
	"swarmtrade/internal/risk"
)

var (
	ErrFlowBusy      = errors.New("flow already running")
	ErrFlowDisabled  = errors.New("flow disabled")
	ErrPositionOpen  = errors.New("flow has an open position")
	ErrTradingPaused = errors.New("trading paused")
)

// Switches gates runs on the operator feature switches; satisfied by
// *service.SystemSettingsService.
type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

const (
	tradingSwitchKey   = "feature.trading"
	schedulerSwitchKey = "feature.scheduler"
)

// MarketSource is the snapshot feed; satisfied by *marketdata.Aggregator.
type MarketSource interface {
	Snapshot(ctx context.Context, symbol string) (*marketdata.Context, error)
}

// Orchestrator drives one flow run end to end: market snapshot, swarm
// consensus, risk gate, entry order and position creation. Every run is
// recorded as an Execution with its full agent decision trail.
type Orchestrator struct {
	Logger    *zap.Logger
	Repo      repository.Repository
	Market    MarketSource
	Consensus *consensus.Engine
	Gate      *risk.Gate
	Exec      *executor.Service
	Locks     Locker
	Switches  Switches
	Cfg       config.FlowConfig
}

func lockKey(flowID uint64) string {
	return fmt.Sprintf("flow:run:%d", flowID)
}

// Execute runs one decision cycle for the flow. It returns the recorded
// execution when one was started; ErrFlowBusy and ErrPositionOpen are
// skip conditions, not failures, and leave no execution row behind.
func (o *Orchestrator) Execute(ctx context.Context, flow *models.Flow, trigger string) (*models.Execution, error) {
	if o == nil || o.Repo == nil {
		return nil, fmt.Errorf("orchestrator not configured")
	}
	if flow == nil {
		return nil, fmt.Errorf("nil flow")
	}
	if !flow.Enabled {
		return nil, ErrFlowDisabled
	}
	if o.Switches != nil && !o.Switches.IsEnabled(ctx, tradingSwitchKey, true) {
		return nil, ErrTradingPaused
	}

	ttl := o.Cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	key := lockKey(flow.ID)
	acquired, err := o.Locks.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrFlowBusy
	}
	defer func() {
		if err := o.Locks.Release(context.WithoutCancel(ctx), key); err != nil && o.Logger != nil {
			o.Logger.Warn("release run lock failed", zap.Uint64("flow_id", flow.ID), zap.Error(err))
		}
	}()

	if !flow.AllowConcurrentPositions {
		open, err := o.Repo.GetOpenPositionByFlowSymbol(ctx, flow.ID, flow.Symbol)
		if err != nil {
			return nil, fmt.Errorf("check open position: %w", err)
		}
		if open != nil {
			return nil, ErrPositionOpen
		}
	}

	exec := &models.Execution{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		Status:    models.ExecutionRunning,
		Trigger:   trigger,
		Symbol:    flow.Symbol,
		StartedAt: time.Now().UTC(),
	}
	if err := o.Repo.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	if o.Logger != nil {
		o.Logger.Info("execution started",
			zap.Uint64("flow_id", flow.ID),
			zap.String("execution_id", exec.ID),
			zap.String("trigger", trigger))
	}

	if err := o.run(ctx, flow, exec); err != nil {
		o.fail(ctx, flow, exec, err)
		return exec, err
	}
	return exec, nil
}

func (o *Orchestrator) run(ctx context.Context, flow *models.Flow, exec *models.Execution) error {
	snapshot, err := o.Market.Snapshot(ctx, flow.Symbol)
	if err != nil {
		return fmt.Errorf("market snapshot: %w", err)
	}

	outcome, trail, err := o.Consensus.Decide(ctx, flow, snapshot.Describe())
	if err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	totalCost := decimal.NewFromFloat(outcome.Usage.CostUSD)
	o.persistTrail(ctx, exec, trail, totalCost)

	exec.FinalAction = outcome.Action
	exec.FinalConfidence = outcome.Confidence
	exec.FinalReasoning = outcome.Reasoning
	exec.Agreement = outcome.Agreement

	if outcome.Action == models.ActionHold {
		return o.complete(ctx, flow, exec)
	}

	result, err := o.Gate.Evaluate(ctx, flow, risk.Proposal{
		FlowID:     flow.ID,
		Symbol:     flow.Symbol,
		Action:     outcome.Action,
		Confidence: outcome.Confidence,
		SizeUSD:    flow.OrderSizeUSD,
		Leverage:   flow.Leverage,
		Price:      snapshot.Price,
		Reasoning:  outcome.Reasoning,
	})
	if err != nil {
		return fmt.Errorf("risk gate: %w", err)
	}
	trail = append(trail, result.Trail...)
	totalCost = totalCost.Add(decimal.NewFromFloat(result.Usage.CostUSD))
	o.persistTrail(ctx, exec, trail, totalCost)

	exec.FinalAction = result.Action
	exec.FinalConfidence = result.Confidence
	exec.FinalReasoning = result.Reasoning
	exec.WarningAction = result.WarningAction

	if !result.Allowed {
		return o.complete(ctx, flow, exec)
	}

	order, err := o.placeEntry(ctx, flow, exec, result, snapshot.Price)
	if err != nil {
		return err
	}

	if err := o.openPosition(ctx, flow, exec, order, result); err != nil {
		return err
	}
	return o.complete(ctx, flow, exec)
}

func (o *Orchestrator) placeEntry(ctx context.Context, flow *models.Flow, exec *models.Execution, result risk.Result, price decimal.Decimal) (*models.Order, error) {
	side := models.SideBuy
	if result.Action == models.ActionSell {
		side = models.SideSell
	}
	if !result.SizeUSD.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("entry sizing incomplete")
	}
	qty := result.SizeUSD.DivRound(price, 10)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("entry quantity rounds to zero")
	}

	order := &models.Order{
		ExecutionID:  exec.ID,
		Symbol:       flow.Symbol,
		Side:         side,
		OrderType:    "market",
		RequestedQty: qty,
		Leverage:     flow.Leverage,
		Status:       models.OrderPending,
	}
	if err := o.Repo.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert entry order: %w", err)
	}
	if err := o.Exec.Submit(ctx, order); err != nil {
		return nil, fmt.Errorf("submit entry order: %w", err)
	}
	if err := o.Exec.WaitTerminal(ctx, order); err != nil && order.FilledQty.IsZero() {
		return nil, fmt.Errorf("entry order %d not filled: %w", order.ID, err)
	}
	if order.FilledQty.IsZero() {
		return nil, fmt.Errorf("entry order %d ended %s with no fill", order.ID, order.Status)
	}
	return order, nil
}

func (o *Orchestrator) openPosition(ctx context.Context, flow *models.Flow, exec *models.Execution, order *models.Order, result risk.Result) error {
	entry := order.AvgFillPrice
	side := models.Long
	if order.Side == models.SideSell {
		side = models.Short
	}

	now := time.Now().UTC()
	openedAt := now
	if order.FilledAt != nil {
		openedAt = *order.FilledAt
	}

	pos := &models.Position{
		FlowID:          flow.ID,
		ExecutionID:     exec.ID,
		Symbol:          flow.Symbol,
		Side:            side,
		EntryPrice:      entry,
		Quantity:        order.FilledQty,
		Leverage:        flow.Leverage,
		EntryFee:        order.TotalFees,
		EntryReasoning:  exec.FinalReasoning,
		EntryConfidence: exec.FinalConfidence,
		CurrentPrice:    entry,
		HighWaterMark:   entry,
		LowWaterMark:    entry,
		StopLoss:        protectiveLevel(entry, flow.StopLossPct, side == models.Long, false),
		TakeProfit:      protectiveLevel(entry, flow.TakeProfitPct, side == models.Long, true),
		TrailingEnabled: flow.TrailingEnabled,
		TrailingDistPct: flow.TrailingDistPct,
		Status:          models.PositionOpen,
		OpenedAt:        openedAt,
	}
	if err := o.Repo.InsertPosition(ctx, pos); err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	order.PositionID = &pos.ID
	if err := o.Repo.SaveOrder(ctx, order); err != nil && o.Logger != nil {
		o.Logger.Warn("link entry order to position failed",
			zap.Uint64("order_id", order.ID),
			zap.Uint64("position_id", pos.ID),
			zap.Error(err))
	}

	if o.Logger != nil {
		o.Logger.Info("position opened",
			zap.Uint64("flow_id", flow.ID),
			zap.Uint64("position_id", pos.ID),
			zap.String("side", side),
			zap.String("entry_price", entry.String()),
			zap.String("quantity", pos.Quantity.String()))
	}
	return nil
}

// protectiveLevel derives a stop or target as a percent distance from
// entry. profitSide flips the direction for take-profit levels.
func protectiveLevel(entry decimal.Decimal, pct float64, long, profitSide bool) decimal.Decimal {
	if pct <= 0 {
		return decimal.Zero
	}
	dist := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
	up := long == profitSide
	if up {
		return entry.Mul(decimal.NewFromInt(1).Add(dist))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(dist))
}

func (o *Orchestrator) persistTrail(ctx context.Context, exec *models.Execution, trail []models.AgentDecision, totalCost decimal.Decimal) {
	raw, err := json.Marshal(trail)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Error("marshal decision trail failed", zap.String("execution_id", exec.ID), zap.Error(err))
		}
		return
	}
	exec.Decisions = raw
	exec.TotalCost = totalCost
	if err := o.Repo.UpdateExecutionDecisions(ctx, exec.ID, raw, totalCost); err != nil && o.Logger != nil {
		o.Logger.Error("persist decision trail failed", zap.String("execution_id", exec.ID), zap.Error(err))
	}
}

func (o *Orchestrator) complete(ctx context.Context, flow *models.Flow, exec *models.Execution) error {
	now := time.Now().UTC()
	exec.Status = models.ExecutionCompleted
	exec.FinishedAt = &now
	if err := o.Repo.FinishExecution(ctx, exec.ID, models.ExecutionCompleted, map[string]any{
		"final_action":     exec.FinalAction,
		"final_confidence": exec.FinalConfidence,
		"final_reasoning":  exec.FinalReasoning,
		"agreement":        exec.Agreement,
		"warning_action":   exec.WarningAction,
		"finished_at":      now,
	}); err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if err := o.Repo.IncrementFlowStats(ctx, flow.ID, repository.FlowStatsDelta{
		TotalExecutions:      1,
		SuccessfulExecutions: 1,
	}); err != nil && o.Logger != nil {
		o.Logger.Warn("increment flow stats failed", zap.Uint64("flow_id", flow.ID), zap.Error(err))
	}
	if o.Logger != nil {
		o.Logger.Info("execution completed",
			zap.String("execution_id", exec.ID),
			zap.String("final_action", exec.FinalAction),
			zap.Int("agreement", exec.Agreement))
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, flow *models.Flow, exec *models.Execution, cause error) {
	now := time.Now().UTC()
	exec.Status = models.ExecutionFailed
	exec.Error = cause.Error()
	exec.FinishedAt = &now
	if err := o.Repo.FinishExecution(ctx, exec.ID, models.ExecutionFailed, map[string]any{
		"error":       cause.Error(),
		"finished_at": now,
	}); err != nil && o.Logger != nil {
		o.Logger.Error("finish failed execution", zap.String("execution_id", exec.ID), zap.Error(err))
	}
	if err := o.Repo.IncrementFlowStats(ctx, flow.ID, repository.FlowStatsDelta{TotalExecutions: 1}); err != nil && o.Logger != nil {
		o.Logger.Warn("increment flow stats failed", zap.Uint64("flow_id", flow.ID), zap.Error(err))
	}
	if o.Logger != nil {
		o.Logger.Error("execution failed",
			zap.String("execution_id", exec.ID),
			zap.Error(cause))
	}
}
