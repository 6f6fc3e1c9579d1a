package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceKind distinguishes customer (sales) invoices from vendor (purchase) invoices.
// The variant is resolved once, when the invoice is loaded or created.
type InvoiceKind interface {
	// Name is the persisted identifier: "customer" or "vendor".
	Name() string
	// PriceField labels LineItem.UnitPrice for this kind.
	PriceField() string
	// CommissionApplies reports whether a broker commission may be attached.
	CommissionApplies() bool
	// ConsumesStock reports whether increases draw on inventory.
	// Vendor purchases add to stock and are never checked against it.
	ConsumesStock() bool
}

// CustomerInvoice is a sale to a customer.
type CustomerInvoice struct{}

func (CustomerInvoice) Name() string            { return "customer" }
func (CustomerInvoice) PriceField() string      { return "selling_price" }
func (CustomerInvoice) CommissionApplies() bool { return true }
func (CustomerInvoice) ConsumesStock() bool     { return true }

// VendorInvoice is a purchase from a vendor.
type VendorInvoice struct{}

func (VendorInvoice) Name() string            { return "vendor" }
func (VendorInvoice) PriceField() string      { return "purchase_price" }
func (VendorInvoice) CommissionApplies() bool { return false }
func (VendorInvoice) ConsumesStock() bool     { return false }

// ParseKind resolves a kind name.
func ParseKind(name string) (InvoiceKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "customer", "sales", "sale":
		return CustomerInvoice{}, nil
	case "vendor", "purchase", "supplier":
		return VendorInvoice{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// PaymentStatus is derived from total and paid amounts; see DerivePayment.
type PaymentStatus string

const (
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPending       PaymentStatus = "pending"
)

// ParsePaymentStatus resolves a status name.
func ParsePaymentStatus(name string) (PaymentStatus, error) {
	switch st := PaymentStatus(strings.ToLower(strings.TrimSpace(name))); st {
	case PaymentStatusPaid, PaymentStatusPartiallyPaid, PaymentStatusPending:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentStatus, name)
}

// RoundingPolicy decides how monetary totals are rounded at the aggregation boundary.
type RoundingPolicy string

const (
	RoundTwoDecimal RoundingPolicy = "two_decimal"
	RoundUnit       RoundingPolicy = "unit"
)

// ParseRoundingPolicy resolves a configured policy name. Blank selects two decimals.
func ParseRoundingPolicy(name string) (RoundingPolicy, error) {
	switch RoundingPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", RoundTwoDecimal:
		return RoundTwoDecimal, nil
	case RoundUnit:
		return RoundUnit, nil
	}
	return "", fmt.Errorf("unknown rounding policy %q (want %s or %s)", name, RoundTwoDecimal, RoundUnit)
}

// Apply rounds d according to the policy.
func (p RoundingPolicy) Apply(d decimal.Decimal) decimal.Decimal {
	if p == RoundUnit {
		return d.Round(0)
	}
	return d.Round(2)
}

// Invoice is the aggregate root. Subtotal, TotalAmount, RemainingAmount,
// PaymentStatus and CommissionAmount are derived; they are refreshed by
// Recompute and never set by hand.
type Invoice struct {
	ID                   int             `json:"id"`
	Kind                 InvoiceKind     `json:"-"`
	PartyRef             string          `json:"party_ref"`
	Items                []LineItem      `json:"items"`
	AncillaryCost        decimal.Decimal `json:"ancillary_cost"` // labour + transport
	Subtotal             decimal.Decimal `json:"subtotal"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	PaidAmount           decimal.Decimal `json:"paid_amount"`
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`
	PaymentStatus        PaymentStatus   `json:"payment_status"`
	BrokerRef            string          `json:"broker_ref,omitempty"`
	CommissionPercentage decimal.Decimal `json:"commission_percentage"`
	CommissionAmount     decimal.Decimal `json:"commission_amount"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type invoiceJSON Invoice

// MarshalJSON writes Kind by name.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	kind := ""
	if inv.Kind != nil {
		kind = inv.Kind.Name()
	}
	return json.Marshal(struct {
		Kind string `json:"kind"`
		invoiceJSON
	}{Kind: kind, invoiceJSON: invoiceJSON(inv)})
}

// UnmarshalJSON resolves Kind by name. A missing kind means customer.
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	aux := struct {
		Kind string `json:"kind"`
		*invoiceJSON
	}{invoiceJSON: (*invoiceJSON)(inv)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Kind == "" {
		inv.Kind = CustomerInvoice{}
		return nil
	}
	kind, err := ParseKind(aux.Kind)
	if err != nil {
		return err
	}
	inv.Kind = kind
	return nil
}

// Terms returns the invoice's commission terms.
func (inv *Invoice) Terms() CommissionTerms {
	return CommissionTerms{BrokerRef: inv.BrokerRef, Percentage: inv.CommissionPercentage}
}

// Refresh recomputes every derived field from the invoice's inputs. An invoice
// without a kind is treated as a customer invoice.
func (inv *Invoice) Refresh(policy RoundingPolicy) DerivedTotals {
	if inv.Kind == nil {
		inv.Kind = CustomerInvoice{}
	}
	d := Recompute(inv.Kind, inv.Items, inv.AncillaryCost, inv.PaidAmount, inv.Terms(), policy)
	inv.Subtotal = d.Subtotal
	inv.TotalAmount = d.TotalAmount
	inv.RemainingAmount = d.RemainingAmount
	inv.PaymentStatus = d.PaymentStatus
	inv.CommissionAmount = d.CommissionAmount
	if !inv.Kind.CommissionApplies() {
		inv.BrokerRef = ""
		inv.CommissionPercentage = decimal.Zero
	}
	return d
}

// InvoiceUpdatePayload is the immutable result of a committed edit session,
// handed to the persistence collaborator. OriginalItems lets persistence do its
// own stock bookkeeping. Commission fields are nil on vendor invoices.
type InvoiceUpdatePayload struct {
	InvoiceID            int              `json:"invoice_id"` // 0 for a new invoice
	IdempotencyKey       string           `json:"idempotency_key"`
	Kind                 string           `json:"kind"`
	PartyRef             string           `json:"party_ref"`
	Items                []LineItem       `json:"items"`
	OriginalItems        []LineItem       `json:"original_items"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	AncillaryCost        decimal.Decimal  `json:"ancillary_cost"`
	TotalAmount          decimal.Decimal  `json:"total_amount"`
	PaidAmount           decimal.Decimal  `json:"paid_amount"`
	RemainingAmount      decimal.Decimal  `json:"remaining_amount"`
	PaymentStatus        PaymentStatus    `json:"payment_status"`
	CommissionAmount     *decimal.Decimal `json:"commission_amount,omitempty"`
	CommissionPercentage *decimal.Decimal `json:"commission_percentage,omitempty"`
	BrokerRef            string           `json:"broker_ref,omitempty"`
}

// IsNew reports whether the payload creates an invoice rather than updating one.
func (p InvoiceUpdatePayload) IsNew() bool {
	return p.InvoiceID == 0
}

// PaymentPayload records one payment against an invoice together with the
// payment state that results from it.
type PaymentPayload struct {
	InvoiceID       int             `json:"invoice_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	Date            time.Time       `json:"date"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
}

// Payment is one stored payment against an invoice.
type Payment struct {
	ID        int             `json:"id"`
	InvoiceID int             `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Date      time.Time       `json:"date"`
	CreatedAt time.Time       `json:"created_at"`
}
