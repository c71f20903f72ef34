package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. pending/submitted/open may branch to cancelled, rejected,
// expired or failed; partially_filled may receive further fills or be
// cancelled with the remainder voided.
const (
	OrderPending         = "pending"
	OrderSubmitted       = "submitted"
	OrderOpen            = "open"
	OrderPartiallyFilled = "partially_filled"
	OrderFilled          = "filled"
	OrderCancelled       = "cancelled"
	OrderRejected        = "rejected"
	OrderExpired         = "expired"
	OrderFailed          = "failed"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

type Order struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement"`
	ExecutionID string  `gorm:"type:varchar(36);index"`
	PositionID  *uint64 `gorm:"index"`

	ExchangeOrderID string `gorm:"type:varchar(100);index"`
	Symbol          string `gorm:"type:varchar(30);not null;index"`

	Side       string `gorm:"type:varchar(6);not null"`
	OrderType  string `gorm:"type:varchar(12);not null;default:'market'"`
	ReduceOnly bool   `gorm:"not null;default:false"`

	RequestedQty decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	FilledQty    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	LimitPrice   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	StopPrice    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	AvgFillPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TotalFees    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Leverage     int             `gorm:"not null;default:1"`

	Status        string `gorm:"type:varchar(20);not null;default:'pending';index"`
	FailureReason string `gorm:"type:text"`

	SubmittedAt *time.Time `gorm:"type:timestamptz"`
	FilledAt    *time.Time `gorm:"type:timestamptz"`
	CancelledAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// Terminal reports whether the order can receive no further transitions.
func (o Order) Terminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// RemainingQty is the unfilled remainder; zero once filled or voided.
func (o Order) RemainingQty() decimal.Decimal {
	rem := o.RequestedQty.Sub(o.FilledQty)
	if rem.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return rem
}
