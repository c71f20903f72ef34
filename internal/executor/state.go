package executor

import (
	"time"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/models"
)

// allowedTransitions is the order lifecycle. Terminal statuses have no
// outgoing edges; anything not listed is rejected.
var allowedTransitions = map[string][]string{
	models.OrderPending: {
		models.OrderSubmitted, models.OrderOpen, models.OrderPartiallyFilled, models.OrderFilled,
		models.OrderRejected, models.OrderFailed, models.OrderCancelled, models.OrderExpired,
	},
	models.OrderSubmitted: {
		models.OrderOpen, models.OrderPartiallyFilled, models.OrderFilled,
		models.OrderRejected, models.OrderFailed, models.OrderCancelled, models.OrderExpired,
	},
	models.OrderOpen: {
		models.OrderPartiallyFilled, models.OrderFilled,
		models.OrderRejected, models.OrderFailed, models.OrderCancelled, models.OrderExpired,
	},
	models.OrderPartiallyFilled: {
		models.OrderPartiallyFilled, models.OrderFilled,
		models.OrderCancelled, models.OrderExpired, models.OrderFailed,
	},
}

// TransitionAllowed reports whether an order may move from one status to
// another. Same-status is a no-op and always allowed.
func TransitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyFill folds one fill into the order aggregates: fill-size-weighted
// average price, accumulated quantity and fees, and the resulting status.
// The caller has already deduplicated the fill.
func ApplyFill(o *models.Order, qty, price, fee decimal.Decimal, at time.Time) {
	if o == nil || qty.LessThanOrEqual(decimal.Zero) {
		return
	}

	prevNotional := o.AvgFillPrice.Mul(o.FilledQty)
	newFilled := o.FilledQty.Add(qty)
	o.AvgFillPrice = prevNotional.Add(price.Mul(qty)).DivRound(newFilled, 10)
	o.FilledQty = newFilled
	o.TotalFees = o.TotalFees.Add(fee)

	if o.FilledQty.GreaterThanOrEqual(o.RequestedQty) {
		o.Status = models.OrderFilled
		t := at
		if t.IsZero() {
			t = time.Now().UTC()
		}
		o.FilledAt = &t
	} else {
		o.Status = models.OrderPartiallyFilled
	}
}
