package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one partial or complete execution of an order. FillID is the
// exchange-scoped identifier; the (order_id, fill_id) unique index is what
// makes fill application idempotent under redelivery.
type Fill struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;index;uniqueIndex:ux_fills_order_fill"`
	FillID  string `gorm:"type:varchar(100);not null;uniqueIndex:ux_fills_order_fill"`

	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Fee      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	FilledAt  time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Fill) TableName() string {
	return "fills"
}
