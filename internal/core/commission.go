package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionTerms attach a broker to a customer invoice.
type CommissionTerms struct {
	BrokerRef  string          `json:"broker_ref,omitempty"`
	Percentage decimal.Decimal `json:"commission_percentage"`
}

// Attached reports whether a broker is set.
func (t CommissionTerms) Attached() bool {
	return strings.TrimSpace(t.BrokerRef) != ""
}

// Commission returns totalAmount × percentage / 100 for customer invoices with
// a broker attached, and zero otherwise. The result is unrounded.
func Commission(kind InvoiceKind, terms CommissionTerms, totalAmount decimal.Decimal) decimal.Decimal {
	if kind == nil || !kind.CommissionApplies() || !terms.Attached() {
		return decimal.Zero
	}
	return totalAmount.Mul(terms.Percentage).Div(hundred)
}

// ValidateCommissionPercentage checks pct is within [0, 100].
func ValidateCommissionPercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", ErrCommissionOutOfRange, pct)
	}
	if exceedsPlaces(pct, percentPlaces) {
		return fmt.Errorf("%w: commission percentage %s allows at most %d", ErrTooPrecise, pct, percentPlaces)
	}
	return nil
}
