package core

import "github.com/shopspring/decimal"

// Totals is the aggregation of an invoice's line items.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Aggregate sums line totals into the subtotal and adds the ancillary cost.
// Line totals stay exact while summing; the policy rounds the subtotal and the
// total once each.
func Aggregate(items []LineItem, ancillaryCost decimal.Decimal, policy RoundingPolicy) Totals {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(ItemTotal(item))
	}
	return Totals{
		Subtotal:    policy.Apply(sum),
		TotalAmount: policy.Apply(sum.Add(ancillaryCost)),
	}
}
