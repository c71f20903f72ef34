package monitor

import (
	"testing"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func longPosition() *models.Position {
	return &models.Position{
		ID:         1,
		Side:       models.Long,
		EntryPrice: decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(1),
		Leverage:   1,
		Status:     models.PositionOpen,
	}
}

func TestUpdateMarksWatermarksAndDrawdown(t *testing.T) {
	pos := longPosition()

	UpdateMarks(pos, d("100"))
	UpdateMarks(pos, d("110"))
	UpdateMarks(pos, d("105"))

	if !pos.HighWaterMark.Equal(d("110")) {
		t.Fatalf("hwm=%s want=110", pos.HighWaterMark)
	}
	if !pos.LowWaterMark.Equal(d("100")) {
		t.Fatalf("lwm=%s want=100", pos.LowWaterMark)
	}
	if !pos.UnrealizedPnL.Equal(d("5")) {
		t.Fatalf("unrealized=%s want=5", pos.UnrealizedPnL)
	}
	// Peak unrealized was 10 at 110; give-back from there is 5.
	if !pos.MaxDrawdown.Equal(d("5")) {
		t.Fatalf("max_drawdown=%s want=5", pos.MaxDrawdown)
	}
}

func TestUpdateMarksShortDrawdown(t *testing.T) {
	pos := longPosition()
	pos.Side = models.Short

	UpdateMarks(pos, d("90"))
	UpdateMarks(pos, d("95"))

	if !pos.LowWaterMark.Equal(d("90")) {
		t.Fatalf("lwm=%s want=90", pos.LowWaterMark)
	}
	if !pos.UnrealizedPnL.Equal(d("5")) {
		t.Fatalf("unrealized=%s want=5", pos.UnrealizedPnL)
	}
	if !pos.MaxDrawdown.Equal(d("5")) {
		t.Fatalf("max_drawdown=%s want=5", pos.MaxDrawdown)
	}
}

func TestApplyBreakEvenFiresOnce(t *testing.T) {
	pos := longPosition()

	if ApplyBreakEven(pos, d("101"), 2) {
		t.Fatalf("applied below activation")
	}
	if !ApplyBreakEven(pos, d("102"), 2) {
		t.Fatalf("not applied at activation")
	}
	if !pos.StopLoss.Equal(pos.EntryPrice) {
		t.Fatalf("stop=%s want=entry", pos.StopLoss)
	}

	// The stop may be moved by other rules afterwards; break-even never
	// re-fires to drag it back.
	pos.StopLoss = d("101")
	if ApplyBreakEven(pos, d("110"), 2) {
		t.Fatalf("applied twice")
	}
	if !pos.StopLoss.Equal(d("101")) {
		t.Fatalf("stop=%s want=101", pos.StopLoss)
	}
}

func TestTrailingStopRatchetsLong(t *testing.T) {
	pos := longPosition()
	pos.TrailingEnabled = true
	pos.TrailingDistPct = 2

	if UpdateTrailing(pos, d("102"), 3) {
		t.Fatalf("activated below activation profit")
	}
	if !UpdateTrailing(pos, d("103"), 3) {
		t.Fatalf("not activated at 3%% profit")
	}
	if !pos.TrailingStop.Equal(d("100.94")) {
		t.Fatalf("stop=%s want=100.94", pos.TrailingStop)
	}

	if !UpdateTrailing(pos, d("105"), 3) {
		t.Fatalf("no ratchet on new high")
	}
	if !pos.TrailingStop.Equal(d("102.9")) {
		t.Fatalf("stop=%s want=102.9", pos.TrailingStop)
	}

	// Pullback never loosens the stop.
	if UpdateTrailing(pos, d("104"), 3) {
		t.Fatalf("stop moved on pullback")
	}
	if !pos.TrailingStop.Equal(d("102.9")) {
		t.Fatalf("stop=%s want=102.9 after pullback", pos.TrailingStop)
	}

	if got := CheckExit(pos, d("102"), false); got != models.ExitTrailingStop {
		t.Fatalf("exit=%q want=trailing_stop", got)
	}
}

func TestTrailingStopShort(t *testing.T) {
	pos := longPosition()
	pos.Side = models.Short
	pos.TrailingEnabled = true
	pos.TrailingDistPct = 2

	if !UpdateTrailing(pos, d("95"), 0) {
		t.Fatalf("not activated without activation threshold")
	}
	if !pos.TrailingStop.Equal(d("96.9")) {
		t.Fatalf("stop=%s want=96.9", pos.TrailingStop)
	}
	if UpdateTrailing(pos, d("97"), 0) {
		t.Fatalf("stop moved against a short on bounce")
	}
	if got := CheckExit(pos, d("97"), false); got != models.ExitTrailingStop {
		t.Fatalf("exit=%q want=trailing_stop", got)
	}
}

func TestLiquidated(t *testing.T) {
	pos := longPosition()
	pos.Leverage = 10

	if Liquidated(pos, d("91")) {
		t.Fatalf("liquidated at 9%% loss on 10x")
	}
	if !Liquidated(pos, d("90")) {
		t.Fatalf("not liquidated at 10%% loss on 10x")
	}

	pos.Leverage = 1
	if Liquidated(pos, d("1")) {
		t.Fatalf("unleveraged position liquidated")
	}
}

func TestCheckExitPriority(t *testing.T) {
	pos := longPosition()
	pos.StopLoss = d("95")
	pos.TakeProfit = d("110")
	pos.TrailingActive = true
	pos.TrailingStop = d("96")

	// Stop loss beats the trailing stop even when both are breached.
	if got := CheckExit(pos, d("95"), true); got != models.ExitStopLoss {
		t.Fatalf("exit=%q want=stop_loss", got)
	}
	if got := CheckExit(pos, d("110"), true); got != models.ExitTakeProfit {
		t.Fatalf("exit=%q want=take_profit", got)
	}
	if got := CheckExit(pos, d("100"), true); got != models.ExitAIClose {
		t.Fatalf("exit=%q want=ai_close", got)
	}
	if got := CheckExit(pos, d("100"), false); got != "" {
		t.Fatalf("exit=%q want=stay open", got)
	}
}
