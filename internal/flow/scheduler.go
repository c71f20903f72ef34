package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"swarmtrade/internal/config"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// Scheduler fires scheduled and loop flows. Executions run in their own
// goroutines so one slow flow never delays the others; the orchestrator's
// run lock keeps each flow single-flight regardless.
type Scheduler struct {
	Logger   *zap.Logger
	Repo     repository.Repository
	Orch     *Orchestrator
	Switches Switches
	Cfg      config.FlowConfig

	mu      sync.Mutex
	nextRun map[uint64]time.Time
	running map[uint64]bool
	wg      sync.WaitGroup
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Orch == nil {
		return nil
	}
	interval := s.Cfg.SchedulerInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.Logger != nil {
		s.Logger.Info("flow scheduler started", zap.Duration("interval", interval))
	}
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.Switches != nil && !s.Switches.IsEnabled(ctx, schedulerSwitchKey, true) {
		return
	}
	flows, err := s.Repo.ListSchedulableFlows(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("list schedulable flows failed", zap.Error(err))
		}
		return
	}

	now := time.Now()
	seen := map[uint64]bool{}
	for i := range flows {
		f := flows[i]
		seen[f.ID] = true
		if s.due(&f, now) {
			s.launch(ctx, f)
		}
	}

	// Drop arm state for flows that were disabled or deleted.
	s.mu.Lock()
	for id := range s.nextRun {
		if !seen[id] {
			delete(s.nextRun, id)
		}
	}
	s.mu.Unlock()
}

// due reports whether the flow should fire now and, if so, re-arms it
// immediately. Re-arming before the execution finishes keeps loop flows
// on their cadence even while the monitor still owns a position.
func (s *Scheduler) due(f *models.Flow, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[f.ID] {
		return false
	}
	if s.nextRun == nil {
		s.nextRun = map[uint64]time.Time{}
	}

	next, armed := s.nextRun[f.ID]
	if !armed {
		at, ok := s.arm(f, now)
		if !ok {
			return false
		}
		s.nextRun[f.ID] = at
		// Scheduled flows wait for their first cron boundary; loop flows
		// fire right away.
		if f.TriggerType == models.TriggerLoop {
			return true
		}
		return false
	}
	if now.Before(next) {
		return false
	}
	if at, ok := s.arm(f, now); ok {
		s.nextRun[f.ID] = at
	} else {
		delete(s.nextRun, f.ID)
		return false
	}
	return true
}

func (s *Scheduler) arm(f *models.Flow, now time.Time) (time.Time, bool) {
	switch f.TriggerType {
	case models.TriggerScheduled:
		schedule, err := cron.ParseStandard(f.CronSpec)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("invalid cron spec",
					zap.Uint64("flow_id", f.ID),
					zap.String("cron_spec", f.CronSpec),
					zap.Error(err))
			}
			return time.Time{}, false
		}
		return schedule.Next(now), true
	case models.TriggerLoop:
		delay := f.LoopDelay
		if delay < s.Cfg.SchedulerInterval {
			delay = s.Cfg.SchedulerInterval
		}
		if s.Cfg.MaxLoopDelay > 0 && delay > s.Cfg.MaxLoopDelay {
			delay = s.Cfg.MaxLoopDelay
		}
		return now.Add(delay), true
	}
	return time.Time{}, false
}

func (s *Scheduler) launch(ctx context.Context, f models.Flow) {
	s.mu.Lock()
	if s.running == nil {
		s.running = map[uint64]bool{}
	}
	s.running[f.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, f.ID)
			s.mu.Unlock()
		}()

		_, err := s.Orch.Execute(ctx, &f, f.TriggerType)
		switch {
		case err == nil:
		case errors.Is(err, ErrFlowBusy), errors.Is(err, ErrPositionOpen),
			errors.Is(err, ErrFlowDisabled), errors.Is(err, ErrTradingPaused):
			if s.Logger != nil {
				s.Logger.Debug("flow run skipped", zap.Uint64("flow_id", f.ID), zap.String("reason", err.Error()))
			}
		case errors.Is(err, context.Canceled):
		default:
			if s.Logger != nil {
				s.Logger.Error("scheduled flow run failed", zap.Uint64("flow_id", f.ID), zap.Error(err))
			}
		}
	}()
}
