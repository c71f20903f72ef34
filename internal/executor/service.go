package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swarmtrade/internal/config"
	"swarmtrade/internal/exchange"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// ErrOrderTimeout marks an order that did not reach a terminal status
// within the configured window; its remainder has been cancelled.
var ErrOrderTimeout = errors.New("order timed out")

// Service owns the order lifecycle: submission with retry, fill
// application, and the background poll of working orders.
type Service struct {
	Logger  *zap.Logger
	Repo    repository.Repository
	Adapter exchange.Adapter
	Cfg     config.ExecutorConfig
}

// Submit places the order on the venue. Transient submit failures retry
// with exponential backoff; exhaustion marks the order failed.
func (s *Service) Submit(ctx context.Context, order *models.Order) error {
	if s == nil || s.Repo == nil || s.Adapter == nil {
		return fmt.Errorf("executor not configured")
	}
	if order == nil || order.ID == 0 {
		return fmt.Errorf("order not persisted")
	}

	req := exchange.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.RequestedQty,
		ReduceOnly:    order.ReduceOnly,
		ClientOrderID: fmt.Sprintf("st-%d", order.ID),
	}

	retries := s.Cfg.SubmitRetries
	if retries <= 0 {
		retries = 3
	}
	baseDelay := s.Cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}

	var ack exchange.Ack
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(baseDelay << (attempt - 1)):
			}
			if ctx.Err() != nil {
				break
			}
		}
		ack, lastErr = s.Adapter.SubmitOrder(ctx, req)
		if lastErr == nil {
			break
		}
		if s.Logger != nil {
			s.Logger.Warn("order submit failed",
				zap.Uint64("order_id", order.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
	}
	if lastErr != nil {
		order.Status = models.OrderFailed
		order.FailureReason = lastErr.Error()
		if err := s.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderFailed, map[string]any{
			"failure_reason": order.FailureReason,
		}); err != nil {
			return err
		}
		return fmt.Errorf("submit order %d: %w", order.ID, lastErr)
	}

	now := time.Now().UTC()
	order.ExchangeOrderID = ack.ExchangeOrderID
	order.SubmittedAt = &now
	status := ack.Status
	switch {
	case status == "" || !TransitionAllowed(order.Status, status):
		status = models.OrderSubmitted
	case exchange.Terminal(status):
		// Market orders ack already filled on some venues, but the fills
		// themselves arrive through QueryOrder. Hold the order at open so
		// the first Sync ingests them; the fill ledger, not the ack,
		// drives the terminal transition.
		status = models.OrderOpen
	}
	order.Status = status

	if err := s.Repo.UpdateOrderStatus(ctx, order.ID, status, map[string]any{
		"exchange_order_id": ack.ExchangeOrderID,
		"submitted_at":      now,
	}); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("order submitted",
			zap.Uint64("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
			zap.String("exchange_order_id", ack.ExchangeOrderID),
			zap.String("status", status))
	}
	return nil
}

// Sync polls the venue once and applies anything new. It reports whether
// the stored order changed.
func (s *Service) Sync(ctx context.Context, order *models.Order) (bool, error) {
	if s == nil || s.Repo == nil || s.Adapter == nil {
		return false, fmt.Errorf("executor not configured")
	}
	if order == nil || order.Terminal() || order.ExchangeOrderID == "" {
		return false, nil
	}

	state, err := s.Adapter.QueryOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if err != nil {
		return false, fmt.Errorf("query order %d: %w", order.ID, err)
	}

	changed := false
	for _, fill := range state.Fills {
		applied, err := s.applyFill(ctx, order, fill)
		if err != nil {
			return changed, err
		}
		if applied {
			changed = true
		}
	}

	// Venue status wins for non-fill transitions (cancel, reject, expire);
	// fill-derived statuses were already set above.
	if state.Status != order.Status && TransitionAllowed(order.Status, state.Status) {
		switch state.Status {
		case models.OrderPartiallyFilled, models.OrderFilled:
			// Derived from fills only.
		default:
			order.Status = state.Status
			if state.Status == models.OrderCancelled {
				now := time.Now().UTC()
				order.CancelledAt = &now
			}
			changed = true
		}
	}

	if changed {
		if err := s.Repo.SaveOrder(ctx, order); err != nil {
			return true, err
		}
	}
	return changed, nil
}

// applyFill inserts the fill row and, only if it was new, folds it into
// the order. Redelivered fills are complete no-ops.
func (s *Service) applyFill(ctx context.Context, order *models.Order, fill exchange.FillEvent) (bool, error) {
	row := &models.Fill{
		OrderID:  order.ID,
		FillID:   fill.FillID,
		Quantity: fill.Quantity,
		Price:    fill.Price,
		Fee:      fill.Fee,
		FilledAt: fill.Time,
	}
	if row.FilledAt.IsZero() {
		row.FilledAt = time.Now().UTC()
	}
	inserted, err := s.Repo.InsertFillOnce(ctx, row)
	if err != nil {
		return false, fmt.Errorf("insert fill %s: %w", fill.FillID, err)
	}
	if !inserted {
		return false, nil
	}
	ApplyFill(order, fill.Quantity, fill.Price, fill.Fee, row.FilledAt)
	if s.Logger != nil {
		s.Logger.Info("fill applied",
			zap.Uint64("order_id", order.ID),
			zap.String("fill_id", fill.FillID),
			zap.String("qty", fill.Quantity.String()),
			zap.String("price", fill.Price.String()),
			zap.String("status", order.Status))
	}
	return true, nil
}

// WaitTerminal polls until the order reaches a terminal status or the
// configured timeout passes, then cancels the remainder.
func (s *Service) WaitTerminal(ctx context.Context, order *models.Order) error {
	if order == nil {
		return nil
	}
	pollInterval := s.Cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := s.Cfg.OrderTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		if _, err := s.Sync(ctx, order); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("order sync failed", zap.Uint64("order_id", order.ID), zap.Error(err))
			}
		}
		if order.Terminal() {
			return nil
		}
		if time.Now().After(deadline) {
			return s.expire(ctx, order)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// expire cancels the venue remainder and voids it locally.
func (s *Service) expire(ctx context.Context, order *models.Order) error {
	if err := s.Adapter.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID); err != nil && s.Logger != nil {
		s.Logger.Warn("cancel on timeout failed", zap.Uint64("order_id", order.ID), zap.Error(err))
	}
	// Pick up any fill that raced the cancel.
	if _, err := s.Sync(ctx, order); err != nil && s.Logger != nil {
		s.Logger.Warn("final sync failed", zap.Uint64("order_id", order.ID), zap.Error(err))
	}
	if order.Terminal() {
		return nil
	}
	order.Status = models.OrderExpired
	if err := s.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderExpired, nil); err != nil {
		return err
	}
	return ErrOrderTimeout
}

// Cancel aborts the venue remainder of a working order. Fills that raced
// the cancel are picked up before the local status flips.
func (s *Service) Cancel(ctx context.Context, order *models.Order) error {
	if s == nil || s.Repo == nil || s.Adapter == nil {
		return fmt.Errorf("executor not configured")
	}
	if order == nil || order.ID == 0 {
		return fmt.Errorf("order not persisted")
	}
	if order.Terminal() {
		return fmt.Errorf("order %d is already %s", order.ID, order.Status)
	}
	if order.ExchangeOrderID != "" {
		if err := s.Adapter.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID); err != nil {
			return fmt.Errorf("cancel order %d: %w", order.ID, err)
		}
		if _, err := s.Sync(ctx, order); err != nil && s.Logger != nil {
			s.Logger.Warn("post-cancel sync failed", zap.Uint64("order_id", order.ID), zap.Error(err))
		}
		if order.Terminal() {
			return nil
		}
	}
	now := time.Now().UTC()
	order.Status = models.OrderCancelled
	order.CancelledAt = &now
	return s.Repo.SaveOrder(ctx, order)
}

// Run is the background reconciliation loop for working orders, catching
// anything a crashed or slow caller left behind.
func (s *Service) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	pollInterval := s.Cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	working := []string{models.OrderSubmitted, models.OrderOpen, models.OrderPartiallyFilled}
	orders, err := s.Repo.ListOrdersByStatuses(ctx, working, 200)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("list working orders failed", zap.Error(err))
		}
		return
	}
	for i := range orders {
		order := orders[i]
		if _, err := s.Sync(ctx, &order); err != nil && s.Logger != nil {
			s.Logger.Warn("order sync failed",
				zap.Uint64("order_id", order.ID),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
