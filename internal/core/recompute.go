package core

import "github.com/shopspring/decimal"

// DerivedTotals holds every derived monetary field of an invoice.
type DerivedTotals struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
}

// Recompute derives all totals from an invoice's inputs. It is the only place
// derived fields come from; it is pure and deterministic.
func Recompute(kind InvoiceKind, items []LineItem, ancillaryCost, paidAmount decimal.Decimal, terms CommissionTerms, policy RoundingPolicy) DerivedTotals {
	totals := Aggregate(items, ancillaryCost, policy)
	payment := DerivePayment(totals.TotalAmount, paidAmount)
	return DerivedTotals{
		Subtotal:         totals.Subtotal,
		TotalAmount:      totals.TotalAmount,
		PaidAmount:       paidAmount,
		RemainingAmount:  payment.RemainingAmount,
		PaymentStatus:    payment.Status,
		CommissionAmount: policy.Apply(Commission(kind, terms, totals.TotalAmount)),
	}
}
