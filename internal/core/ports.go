package core

import "context"

// InventorySource reads a stock snapshot. A nil or empty itemRefs returns every item.
type InventorySource interface {
	FetchInventoryAvailability(ctx context.Context, itemRefs []string) (InventoryAvailability, error)
}

// InvoiceCommitter persists a validated invoice update and returns the invoice id.
// Implementations must treat a repeated IdempotencyKey as the same commit.
type InvoiceCommitter interface {
	CommitInvoiceUpdate(ctx context.Context, payload InvoiceUpdatePayload) (int, error)
}

// PaymentRecorder persists one payment and the invoice's resulting payment state.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, payload PaymentPayload) error
}

// InvoiceReader loads an invoice with its items.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id int) (*Invoice, error)
}
