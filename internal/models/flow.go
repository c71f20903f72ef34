package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Flow execution modes.
const (
	ModeSolo  = "solo"
	ModeSwarm = "swarm"
)

// Flow trigger types.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerLoop      = "loop"
)

// Conflict resolution policies for tied swarm votes.
const (
	ResolvePreferHold         = "prefer_hold"
	ResolveMajorityConfidence = "prefer_majority_confidence"
)

// Flow is a user-owned trading strategy configuration. Flows are never
// hard-deleted; disabling is the only removal path.
type Flow struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(64);not null;index"`

	Name   string `gorm:"type:varchar(100);not null"`
	Symbol string `gorm:"type:varchar(30);not null;index"`
	Mode   string `gorm:"type:varchar(10);not null;default:'swarm'"`

	// Swarm coordination.
	SwarmRuns          int    `gorm:"not null;default:3"`
	MinAgreement       int    `gorm:"not null;default:50"`
	DecisionModel      string `gorm:"type:varchar(80)"`
	ConflictResolution string `gorm:"type:varchar(40);not null;default:'prefer_hold'"`

	// Risk-warning thresholds (stage 3 of the gate).
	RiskWarningThreshold float64 `gorm:"not null;default:0.6"`
	RiskReducePercent    float64 `gorm:"not null;default:30"`

	// Sizing.
	OrderSizeUSD decimal.Decimal `gorm:"column:order_size_usd;type:numeric(30,10);not null"`
	Leverage     int             `gorm:"not null;default:1"`

	// Protective levels, percent distance from entry.
	StopLossPct          float64 `gorm:"not null;default:5"`
	TakeProfitPct        float64 `gorm:"not null;default:10"`
	TrailingEnabled      bool    `gorm:"not null;default:false"`
	TrailingDistPct      float64 `gorm:"not null;default:2"`
	TrailingActivatePct  float64 `gorm:"not null;default:3"`
	BreakEvenActivatePct float64 `gorm:"not null;default:2"`

	TriggerType string        `gorm:"type:varchar(20);not null;default:'manual'"`
	CronSpec    string        `gorm:"type:varchar(50)"`
	LoopDelay   time.Duration `gorm:"not null;default:0"`

	AllowConcurrentPositions bool `gorm:"not null;default:false"`

	Enabled bool `gorm:"not null;default:true;index"`

	// Aggregate statistics. Written only through atomic increments by the
	// orchestrator (execution completion) and monitor (position close).
	TotalExecutions      int64           `gorm:"not null;default:0"`
	SuccessfulExecutions int64           `gorm:"not null;default:0"`
	RealizedPnL          decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`
	WinCount             int64           `gorm:"not null;default:0"`
	LossCount            int64           `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Flow) TableName() string {
	return "flows"
}

// WinRate is derived, not stored; zero until a position has closed.
func (f Flow) WinRate() float64 {
	closed := f.WinCount + f.LossCount
	if closed == 0 {
		return 0
	}
	return float64(f.WinCount) / float64(closed)
}
