package flow

import (
	"testing"
	"time"

	"swarmtrade/internal/config"
	"swarmtrade/internal/models"
)

func TestSchedulerLoopFlowCadence(t *testing.T) {
	s := &Scheduler{Cfg: config.FlowConfig{SchedulerInterval: 5 * time.Second, MaxLoopDelay: time.Hour}}
	f := &models.Flow{ID: 1, TriggerType: models.TriggerLoop, LoopDelay: 30 * time.Second}
	now := time.Now()

	if !s.due(f, now) {
		t.Fatalf("first tick should fire a loop flow")
	}
	if s.due(f, now.Add(29*time.Second)) {
		t.Fatalf("fired before loop delay elapsed")
	}
	if !s.due(f, now.Add(31*time.Second)) {
		t.Fatalf("should fire once loop delay elapsed")
	}
}

func TestSchedulerLoopDelayClamped(t *testing.T) {
	s := &Scheduler{Cfg: config.FlowConfig{SchedulerInterval: 5 * time.Second, MaxLoopDelay: time.Minute}}
	now := time.Now()

	short := &models.Flow{ID: 1, TriggerType: models.TriggerLoop, LoopDelay: time.Second}
	if at, ok := s.arm(short, now); !ok || !at.Equal(now.Add(5*time.Second)) {
		t.Fatalf("at=%v ok=%v want=%v", at, ok, now.Add(5*time.Second))
	}

	long := &models.Flow{ID: 2, TriggerType: models.TriggerLoop, LoopDelay: time.Hour}
	if at, ok := s.arm(long, now); !ok || !at.Equal(now.Add(time.Minute)) {
		t.Fatalf("at=%v ok=%v want=%v", at, ok, now.Add(time.Minute))
	}
}

func TestSchedulerCronWaitsForBoundary(t *testing.T) {
	s := &Scheduler{}
	f := &models.Flow{ID: 3, TriggerType: models.TriggerScheduled, CronSpec: "0 * * * *"}
	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	if s.due(f, now) {
		t.Fatalf("scheduled flow fired before its first cron boundary")
	}
	if s.due(f, now.Add(10*time.Minute)) {
		t.Fatalf("fired mid-hour")
	}
	if !s.due(f, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("should fire at the hour boundary")
	}
}

func TestSchedulerInvalidCronNeverFires(t *testing.T) {
	s := &Scheduler{}
	f := &models.Flow{ID: 4, TriggerType: models.TriggerScheduled, CronSpec: "nonsense"}

	if s.due(f, time.Now()) || s.due(f, time.Now().Add(time.Hour)) {
		t.Fatalf("invalid cron spec fired")
	}
}

func TestSchedulerSkipsRunningFlow(t *testing.T) {
	s := &Scheduler{running: map[uint64]bool{5: true}}
	f := &models.Flow{ID: 5, TriggerType: models.TriggerLoop, LoopDelay: time.Second}

	if s.due(f, time.Now()) {
		t.Fatalf("fired while the previous run is still in flight")
	}
}
