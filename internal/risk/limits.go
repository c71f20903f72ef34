package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/config"
)

// Exposure is the account-wide snapshot the hard-limit checks run against.
type Exposure struct {
	OpenPositions    int
	TotalNotionalUSD decimal.Decimal

	// DailyRealizedPnL is today's realized total; negative means a loss.
	DailyRealizedPnL decimal.Decimal
}

// Proposal is the trade candidate that came out of a consensus round.
type Proposal struct {
	FlowID     uint64
	Symbol     string
	Action     string
	Confidence float64
	SizeUSD    decimal.Decimal
	Leverage   int
	Price      decimal.Decimal
	Reasoning  string
}

// CheckHardLimits applies the deterministic limits. It is a pure function;
// a non-nil error names the first limit breached.
func CheckHardLimits(cfg config.RiskConfig, exp Exposure, p Proposal) error {
	if cfg.MaxOpenPositions > 0 && exp.OpenPositions >= cfg.MaxOpenPositions {
		return fmt.Errorf("open positions %d at limit %d", exp.OpenPositions, cfg.MaxOpenPositions)
	}
	if cfg.MaxPositionUSD > 0 && p.SizeUSD.GreaterThan(decimal.NewFromFloat(cfg.MaxPositionUSD)) {
		return fmt.Errorf("position size %s exceeds limit %.2f", p.SizeUSD.StringFixed(2), cfg.MaxPositionUSD)
	}
	if cfg.MaxTotalNotionalUSD > 0 {
		next := exp.TotalNotionalUSD.Add(p.SizeUSD)
		if next.GreaterThan(decimal.NewFromFloat(cfg.MaxTotalNotionalUSD)) {
			return fmt.Errorf("total notional %s would exceed limit %.2f", next.StringFixed(2), cfg.MaxTotalNotionalUSD)
		}
	}
	if cfg.MaxDailyLossUSD > 0 && exp.DailyRealizedPnL.IsNegative() {
		loss := exp.DailyRealizedPnL.Neg()
		if loss.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MaxDailyLossUSD)) {
			return fmt.Errorf("daily loss %s at limit %.2f", loss.StringFixed(2), cfg.MaxDailyLossUSD)
		}
	}
	if cfg.MaxLeverage > 0 && p.Leverage > cfg.MaxLeverage {
		return fmt.Errorf("leverage %d exceeds limit %d", p.Leverage, cfg.MaxLeverage)
	}
	if cfg.MinConfidence > 0 && p.Confidence < cfg.MinConfidence {
		return fmt.Errorf("confidence %.2f below minimum %.2f", p.Confidence, cfg.MinConfidence)
	}
	if p.SizeUSD.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive order size %s", p.SizeUSD.String())
	}
	return nil
}

// ReduceSize cuts the proposed size by pct percent, floored at zero.
func ReduceSize(size decimal.Decimal, pct float64) decimal.Decimal {
	if pct <= 0 {
		return size
	}
	if pct >= 100 {
		return decimal.Zero
	}
	factor := decimal.NewFromFloat(1 - pct/100)
	return size.Mul(factor)
}
