package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the realized-PnL ledger row written when a position closes.
type Transaction struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	FlowID     uint64 `gorm:"not null;index"`
	PositionID uint64 `gorm:"not null;uniqueIndex"`

	Symbol string `gorm:"type:varchar(30);not null;index"`
	Side   string `gorm:"type:varchar(5);not null"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Fees       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null"`

	Reason string `gorm:"type:varchar(20);not null"`

	ClosedAt  time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Transaction) TableName() string {
	return "transactions"
}
