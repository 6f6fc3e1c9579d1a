package app

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Edit operation names.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpEdit   = "edit"
)

// EditScript is a batch of edits applied to one edit session, in order.
// Numbers are strings, as typed into a form; they are parsed leniently.
type EditScript struct {
	AncillaryCost *string      `json:"ancillary_cost,omitempty" jsonschema_description:"Combined labour and transport charge for the whole invoice"`
	PaidAmount    *string      `json:"paid_amount,omitempty" jsonschema_description:"Overrides the amount already paid, e.g. to revert a payment"`
	Broker        *BrokerInput `json:"broker,omitempty" jsonschema_description:"Broker commission terms. Customer invoices only"`
	Ops           []EditOp     `json:"ops" jsonschema_description:"Item operations, applied in order"`
}

// EditOp is one item operation within an EditScript.
type EditOp struct {
	Op    string     `json:"op" jsonschema:"enum=add,enum=remove,enum=edit" jsonschema_description:"Operation to apply"`
	Index int        `json:"index,omitempty" jsonschema_description:"Zero-based row index for remove and edit"`
	Field string     `json:"field,omitempty" jsonschema:"enum=displayName,enum=quantity,enum=netWeight,enum=grossWeight,enum=unitPrice,enum=packagingCost" jsonschema_description:"Field to change for edit"`
	Value string     `json:"value,omitempty" jsonschema_description:"New field value for edit, as text"`
	Item  *ItemInput `json:"item,omitempty" jsonschema_description:"Row to add for add. An existing row with the same item_ref is merged"`
}

// ItemInput is a line item as entered on a form.
type ItemInput struct {
	ItemRef       string `json:"item_ref" jsonschema_description:"Inventory item reference"`
	DisplayName   string `json:"display_name,omitempty"`
	Quantity      string `json:"quantity" jsonschema_description:"Whole number of units"`
	NetWeight     string `json:"net_weight" jsonschema_description:"Net weight in kg; the price is charged per kg of net weight"`
	GrossWeight   string `json:"gross_weight,omitempty" jsonschema_description:"Gross weight in kg"`
	UnitPrice     string `json:"unit_price" jsonschema_description:"Selling price (customer) or purchase price (vendor) per kg"`
	PackagingCost string `json:"packaging_cost,omitempty" jsonschema_description:"Packaging cost per unit of quantity"`
}

// BrokerInput attaches a broker to a customer invoice.
type BrokerInput struct {
	BrokerRef  string `json:"broker_ref" jsonschema_description:"Broker reference. Empty detaches the broker"`
	Percentage string `json:"commission_percentage" jsonschema_description:"Commission percentage between 0 and 100"`
}

// Normalize cleans up form input.
func (s *EditScript) Normalize() {
	for i := range s.Ops {
		op := &s.Ops[i]
		op.Op = strings.ToLower(strings.TrimSpace(op.Op))
		op.Field = strings.TrimSpace(op.Field)
		if op.Item != nil {
			op.Item.ItemRef = strings.TrimSpace(op.Item.ItemRef)
			op.Item.DisplayName = strings.TrimSpace(op.Item.DisplayName)
		}
	}
	if s.Broker != nil {
		s.Broker.BrokerRef = strings.TrimSpace(s.Broker.BrokerRef)
	}
}

// EditInvoiceRequest is the input for editing a stored invoice.
type EditInvoiceRequest struct {
	InvoiceID int
	Script    EditScript
	DryRun    bool
	// IdempotencyKey reuses the key of an earlier failed commit. Empty means a fresh key.
	IdempotencyKey string
}

// NewInvoiceRequest is the input for creating an invoice.
type NewInvoiceRequest struct {
	Kind     string // customer or vendor
	PartyRef string
	Script   EditScript
	DryRun   bool
	// IdempotencyKey reuses the key of an earlier failed commit. Empty means a fresh key.
	IdempotencyKey string
}

// RecordPaymentRequest is the input for recording a payment against an invoice.
type RecordPaymentRequest struct {
	InvoiceID int
	Amount    decimal.Decimal
	Method    string
	Date      time.Time // zero means today
}

// ReceiveStockRequest is the input for adding stock to an inventory item.
type ReceiveStockRequest struct {
	ItemRef     string
	DisplayName string
	Quantity    decimal.Decimal
	NetWeight   decimal.Decimal
	GrossWeight decimal.Decimal
}
