package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position statuses. liquidated is terminal and reachable only from open.
const (
	PositionOpening    = "opening"
	PositionOpen       = "open"
	PositionClosing    = "closing"
	PositionClosed     = "closed"
	PositionLiquidated = "liquidated"
)

// Position sides.
const (
	Long  = "long"
	Short = "short"
)

// Exit reasons, in monitor trigger priority order.
const (
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitAIClose      = "ai_close"
	ExitTrailingStop = "trailing_stop"
	ExitManual       = "manual"
	ExitLiquidation  = "liquidation"
)

// Position is a live holding created when an entry order fills. It is
// mutated only by its owning monitor tick while open; references to the
// flow and execution are by id, never embedded.
type Position struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	FlowID      uint64 `gorm:"not null;index"`
	ExecutionID string `gorm:"type:varchar(36);index"`

	Symbol string `gorm:"type:varchar(30);not null;index"`
	Side   string `gorm:"type:varchar(5);not null"`

	// Entry snapshot.
	EntryPrice      decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Quantity        decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Leverage        int             `gorm:"not null;default:1"`
	EntryFee        decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	EntryReasoning  string          `gorm:"type:text"`
	EntryConfidence float64         `gorm:"not null;default:0"`

	// Live snapshot, refreshed every monitor tick.
	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	HighWaterMark decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	LowWaterMark  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	MaxDrawdown   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// Risk management block.
	StopLoss         decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TakeProfit       decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TrailingEnabled  bool            `gorm:"not null;default:false"`
	TrailingDistPct  float64         `gorm:"not null;default:0"`
	TrailingActive   bool            `gorm:"not null;default:false"`
	TrailingStop     decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	BreakEvenApplied bool            `gorm:"not null;default:false"`

	Status string `gorm:"type:varchar(12);not null;default:'opening';index"`

	// Exit snapshot, set once on close.
	ExitPrice   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	ExitFee     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`
	ExitReason  string          `gorm:"type:varchar(20)"`

	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}

// UnrealizedAt computes mark-to-market PnL at the given price:
// (price − entry) × qty for longs, inverted for shorts.
func (p Position) UnrealizedAt(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == Short {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}
