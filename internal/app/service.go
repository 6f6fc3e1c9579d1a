package app

import (
	"context"

	"invoice-engine/internal/core"

	"github.com/invopop/jsonschema"
)

// ApplicationService is the single interface all adapters call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// GetInvoice returns a stored invoice with its items and payments.
	GetInvoice(ctx context.Context, id int) (*InvoiceResult, error)

	// ListInvoices returns invoice headers, optionally filtered by payment status.
	ListInvoices(ctx context.Context, status *core.PaymentStatus) (*InvoiceListResult, error)

	// Recompute derives every total of an invoice from its inputs. Nothing is stored.
	Recompute(inv core.Invoice) core.DerivedTotals

	// EditInvoice opens an edit session on a stored invoice, applies the script and
	// commits unless the request is a dry run or the session does not validate.
	// Validation problems are reported in the result; only collaborator failures
	// are returned as errors.
	EditInvoice(ctx context.Context, req EditInvoiceRequest) (*EditResult, error)

	// CreateInvoice runs a new-invoice session the same way EditInvoice does.
	CreateInvoice(ctx context.Context, req NewInvoiceRequest) (*EditResult, error)

	// RecordPayment validates a payment against the invoice's remaining balance and stores it.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)

	// GetStockLevels returns the current stock of every inventory item.
	GetStockLevels(ctx context.Context) (*StockResult, error)

	// ReceiveStock adds stock for one item outside of any invoice.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) error

	// EditScriptSchema returns the JSON Schema of the edit script format.
	EditScriptSchema() *jsonschema.Schema
}
