package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState is the payment-derived part of an invoice.
type PaymentState struct {
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          PaymentStatus   `json:"payment_status"`
}

// DerivePayment returns the remaining balance and status for total and paid.
// Any status is reachable from any other as paid is edited up or down.
// A zero total with nothing paid counts as paid.
func DerivePayment(totalAmount, paidAmount decimal.Decimal) PaymentState {
	remaining := totalAmount.Sub(paidAmount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	var status PaymentStatus
	switch {
	case paidAmount.GreaterThanOrEqual(totalAmount):
		status = PaymentStatusPaid
	case paidAmount.IsPositive():
		status = PaymentStatusPartiallyPaid
	default:
		status = PaymentStatusPending
	}
	return PaymentState{RemainingAmount: remaining, Status: status}
}

// ValidatePaymentAmount checks 0 < amount <= remainingBefore.
// Out-of-range amounts are rejected, never clamped.
func ValidatePaymentAmount(amount, remainingBefore decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount %s must be greater than zero", ErrPaymentOutOfRange, amount)
	}
	if amount.GreaterThan(remainingBefore) {
		return fmt.Errorf("%w: amount %s exceeds remaining balance %s", ErrPaymentOutOfRange, amount, remainingBefore)
	}
	return nil
}

// NewPaymentRecord validates a payment against the invoice's current balance
// and builds the payload for the payment collaborator. The invoice is not modified.
func NewPaymentRecord(inv *Invoice, amount decimal.Decimal, method string, date time.Time, policy RoundingPolicy) (PaymentPayload, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return PaymentPayload{}, ErrPaymentMethodRequired
	}
	if exceedsPlaces(amount, moneyPlaces) {
		return PaymentPayload{}, fmt.Errorf("%w: payment %s allows at most %d", ErrTooPrecise, amount, moneyPlaces)
	}

	before := Recompute(inv.Kind, inv.Items, inv.AncillaryCost, inv.PaidAmount, inv.Terms(), policy)
	if err := ValidatePaymentAmount(amount, before.RemainingAmount); err != nil {
		return PaymentPayload{}, err
	}

	paid := inv.PaidAmount.Add(amount)
	after := DerivePayment(before.TotalAmount, paid)
	if date.IsZero() {
		date = time.Now()
	}

	return PaymentPayload{
		InvoiceID:       inv.ID,
		IdempotencyKey:  uuid.NewString(),
		Amount:          amount,
		Method:          method,
		Date:            date,
		PaidAmount:      paid,
		RemainingAmount: after.RemainingAmount,
		PaymentStatus:   after.Status,
	}, nil
}

// RecordPayment loads an invoice, validates the payment against its balance
// and hands the payload to the recorder. Reader errors are returned as is.
func RecordPayment(ctx context.Context, reader InvoiceReader, recorder PaymentRecorder, invoiceID int,
	amount decimal.Decimal, method string, date time.Time, policy RoundingPolicy) (PaymentPayload, error) {
	inv, err := reader.GetInvoice(ctx, invoiceID)
	if err != nil {
		return PaymentPayload{}, err
	}
	payload, err := NewPaymentRecord(inv, amount, method, date, policy)
	if err != nil {
		return PaymentPayload{}, err
	}
	if err := recorder.RecordPayment(ctx, payload); err != nil {
		return PaymentPayload{}, collaboratorError("record payment", err)
	}
	return payload, nil
}
