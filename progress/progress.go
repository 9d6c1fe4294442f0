// Package progress computes how far an activity is towards its item targets.
package progress

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Target is the goal and the accumulated quantity for one item of an activity.
type Target struct {
	ItemID  string
	Target  int64
	Process int64
}

// Aggregate returns the overall fulfillment percentage in [0, 100], rounded
// to two decimals. Every item weighs 100/n; an item contributes its own
// percentage divided by n, and an over-fulfilled item contributes exactly its
// weight. A target of zero or less counts as fulfilled.
func Aggregate(targets []Target) decimal.Decimal {
	n := len(targets)
	if n == 0 {
		return decimal.Zero
	}

	count := decimal.NewFromInt(int64(n))
	share := hundred.Div(count)

	total := decimal.Zero
	for _, t := range targets {
		if t.Target <= 0 {
			total = total.Add(share)
			continue
		}
		ratio := hundred.Mul(decimal.NewFromInt(t.Process)).Div(decimal.NewFromInt(t.Target))
		if ratio.GreaterThan(hundred) {
			total = total.Add(share)
			continue
		}
		total = total.Add(ratio.Div(count))
	}
	return total.Round(2)
}

// Percent is Aggregate as a float for presentation.
func Percent(targets []Target) float64 {
	return Aggregate(targets).InexactFloat64()
}
