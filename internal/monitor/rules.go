package monitor

import (
	"github.com/shopspring/decimal"

	"swarmtrade/internal/models"
)

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// UpdateMarks refreshes the live snapshot fields for one tick: current
// price, unrealized P&L, price watermarks and max drawdown (peak-to-now
// unrealized give-back).
func UpdateMarks(p *models.Position, price decimal.Decimal) {
	if p == nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = p.UnrealizedAt(price)

	if p.HighWaterMark.IsZero() || price.GreaterThan(p.HighWaterMark) {
		p.HighWaterMark = price
	}
	if p.LowWaterMark.IsZero() || price.LessThan(p.LowWaterMark) {
		p.LowWaterMark = price
	}

	peak := p.HighWaterMark
	if p.Side == models.Short {
		peak = p.LowWaterMark
	}
	drawdown := p.UnrealizedAt(peak).Sub(p.UnrealizedPnL)
	if drawdown.GreaterThan(p.MaxDrawdown) {
		p.MaxDrawdown = drawdown
	}
}

// ProfitPct is the favorable price move from entry in percent, positive
// when the position is in profit. Unleveraged, matching how the flow's
// percent thresholds are expressed.
func ProfitPct(p *models.Position, price decimal.Decimal) decimal.Decimal {
	if p == nil || p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(p.EntryPrice)
	if p.Side == models.Short {
		move = move.Neg()
	}
	return move.Div(p.EntryPrice).Mul(hundred)
}

// ApplyBreakEven moves the stop to entry once profit reaches activatePct.
// It fires at most once per position.
func ApplyBreakEven(p *models.Position, price decimal.Decimal, activatePct float64) bool {
	if p == nil || p.BreakEvenApplied || activatePct <= 0 {
		return false
	}
	if ProfitPct(p, price).LessThan(decimal.NewFromFloat(activatePct)) {
		return false
	}
	p.StopLoss = p.EntryPrice
	p.BreakEvenApplied = true
	return true
}

// UpdateTrailing activates and ratchets the trailing stop. The stop only
// ever moves in the favorable direction.
func UpdateTrailing(p *models.Position, price decimal.Decimal, activatePct float64) bool {
	if p == nil || !p.TrailingEnabled || p.TrailingDistPct <= 0 {
		return false
	}
	if !p.TrailingActive {
		if activatePct > 0 && ProfitPct(p, price).LessThan(decimal.NewFromFloat(activatePct)) {
			return false
		}
		p.TrailingActive = true
	}

	dist := decimal.NewFromFloat(p.TrailingDistPct).Div(hundred)
	changed := false
	if p.Side == models.Short {
		candidate := price.Mul(one.Add(dist))
		if p.TrailingStop.IsZero() || candidate.LessThan(p.TrailingStop) {
			p.TrailingStop = candidate
			changed = true
		}
	} else {
		candidate := price.Mul(one.Sub(dist))
		if candidate.GreaterThan(p.TrailingStop) {
			p.TrailingStop = candidate
			changed = true
		}
	}
	return changed
}

// Liquidated reports a paper-mode forced liquidation: the adverse move,
// amplified by leverage, has consumed the whole margin.
func Liquidated(p *models.Position, price decimal.Decimal) bool {
	if p == nil || p.Leverage <= 1 {
		return false
	}
	loss := ProfitPct(p, price).Neg()
	if !loss.IsPositive() {
		return false
	}
	return loss.Mul(decimal.NewFromInt(int64(p.Leverage))).GreaterThanOrEqual(hundred)
}

// CheckExit evaluates the exit triggers in fixed priority: stop loss,
// take profit, AI close, trailing stop. The first hit wins; an empty
// string means the position stays open.
func CheckExit(p *models.Position, price decimal.Decimal, aiClose bool) string {
	if p == nil || price.LessThanOrEqual(decimal.Zero) {
		return ""
	}

	short := p.Side == models.Short
	if p.StopLoss.IsPositive() {
		if (!short && price.LessThanOrEqual(p.StopLoss)) ||
			(short && price.GreaterThanOrEqual(p.StopLoss)) {
			return models.ExitStopLoss
		}
	}
	if p.TakeProfit.IsPositive() {
		if (!short && price.GreaterThanOrEqual(p.TakeProfit)) ||
			(short && price.LessThanOrEqual(p.TakeProfit)) {
			return models.ExitTakeProfit
		}
	}
	if aiClose {
		return models.ExitAIClose
	}
	if p.TrailingActive && p.TrailingStop.IsPositive() {
		if (!short && price.LessThanOrEqual(p.TrailingStop)) ||
			(short && price.GreaterThanOrEqual(p.TrailingStop)) {
			return models.ExitTrailingStop
		}
	}
	return ""
}
