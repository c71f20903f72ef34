package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is an hourly summary of all open positions.
type PortfolioSnapshot struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	SnapshotAt time.Time `gorm:"type:timestamptz;not null;uniqueIndex"`

	OpenPositions int             `gorm:"not null;default:0"`
	TotalNotional decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
