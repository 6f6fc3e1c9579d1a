package app

import "invoice-engine/internal/core"

// InvoiceResult is returned by GetInvoice.
type InvoiceResult struct {
	Invoice  *core.Invoice
	Payments []core.Payment
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices []core.Invoice
}

// EditResult is returned by EditInvoice and CreateInvoice.
// Committed is false for a dry run and whenever OpErrors, ItemErrors or
// ValidationError is set.
type EditResult struct {
	InvoiceID       int
	Kind            string
	Committed       bool
	Items           []core.LineItem
	ItemErrors      map[int]string
	OpErrors        []string
	ValidationError string
	Totals          core.DerivedTotals
	Payload         *core.InvoiceUpdatePayload
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Payment core.PaymentPayload
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	Levels []core.StockLevel
}
