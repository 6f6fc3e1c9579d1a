package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is one product row on an invoice.
// UnitPrice is the selling price on customer invoices and the purchase price on
// vendor invoices; either way it is charged per kg of net weight.
// PackagingCost is charged per unit of quantity.
type LineItem struct {
	ItemRef       string          `json:"item_ref"`
	DisplayName   string          `json:"display_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	NetWeight     decimal.Decimal `json:"net_weight"`     // kg
	GrossWeight   decimal.Decimal `json:"gross_weight"`   // kg, informational
	UnitPrice     decimal.Decimal `json:"unit_price"`     // per kg net
	PackagingCost decimal.Decimal `json:"packaging_cost"` // per unit
}

// Stock is the available amount of one inventory item.
type Stock struct {
	Quantity    decimal.Decimal `json:"quantity"`
	NetWeight   decimal.Decimal `json:"net_weight"`
	GrossWeight decimal.Decimal `json:"gross_weight"`
}

// InventoryAvailability is a point-in-time stock snapshot keyed by item ref.
// It is fetched once when an edit session opens and is never refreshed.
type InventoryAvailability map[string]Stock

// Field names one editable attribute of a line item.
type Field string

const (
	FieldItemRef       Field = "itemRef" // set once on add, never edited
	FieldDisplayName   Field = "displayName"
	FieldQuantity      Field = "quantity"
	FieldNetWeight     Field = "netWeight"
	FieldGrossWeight   Field = "grossWeight"
	FieldUnitPrice     Field = "unitPrice"
	FieldPackagingCost Field = "packagingCost"
)

// Decimal places kept by persistence.
const (
	moneyPlaces   int32 = 2
	weightPlaces  int32 = 3
	percentPlaces int32 = 2
)

// stockFields are the fields that draw on inventory when increased.
var stockFields = []Field{FieldQuantity, FieldNetWeight, FieldGrossWeight}

var fieldAliases = map[string]Field{
	"displayname":    FieldDisplayName,
	"display_name":   FieldDisplayName,
	"quantity":       FieldQuantity,
	"qty":            FieldQuantity,
	"netweight":      FieldNetWeight,
	"net_weight":     FieldNetWeight,
	"grossweight":    FieldGrossWeight,
	"gross_weight":   FieldGrossWeight,
	"unitprice":      FieldUnitPrice,
	"unit_price":     FieldUnitPrice,
	"selling_price":  FieldUnitPrice,
	"purchase_price": FieldUnitPrice,
	"packagingcost":  FieldPackagingCost,
	"packaging_cost": FieldPackagingCost,
}

// ParseField resolves a field name as sent by a form or an edit script.
func ParseField(name string) (Field, error) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", unknownFieldError(name)
	}
	return f, nil
}

// AffectsStock reports whether increasing the field consumes inventory.
func (f Field) AffectsStock() bool {
	for _, sf := range stockFields {
		if f == sf {
			return true
		}
	}
	return false
}

// places is the number of decimal places the field may carry.
func (f Field) places() int32 {
	switch f {
	case FieldQuantity:
		return 0
	case FieldNetWeight, FieldGrossWeight:
		return weightPlaces
	}
	return moneyPlaces
}

// exceedsPlaces reports whether v would lose digits when stored with places decimals.
func exceedsPlaces(v decimal.Decimal, places int32) bool {
	return !v.Equal(v.Truncate(places))
}

func (f Field) value(item LineItem) decimal.Decimal {
	switch f {
	case FieldQuantity:
		return item.Quantity
	case FieldNetWeight:
		return item.NetWeight
	case FieldGrossWeight:
		return item.GrossWeight
	case FieldUnitPrice:
		return item.UnitPrice
	case FieldPackagingCost:
		return item.PackagingCost
	}
	return decimal.Zero
}

func (f Field) set(item *LineItem, v decimal.Decimal) {
	switch f {
	case FieldQuantity:
		item.Quantity = v
	case FieldNetWeight:
		item.NetWeight = v
	case FieldGrossWeight:
		item.GrossWeight = v
	case FieldUnitPrice:
		item.UnitPrice = v
	case FieldPackagingCost:
		item.PackagingCost = v
	}
}

func (s Stock) available(f Field) decimal.Decimal {
	switch f {
	case FieldQuantity:
		return s.Quantity
	case FieldNetWeight:
		return s.NetWeight
	case FieldGrossWeight:
		return s.GrossWeight
	}
	return decimal.Zero
}

// ParseAmount converts form input into a decimal. Blank, "null" and
// non-numeric input all become zero; it never fails.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ItemTotal returns unitPrice × netWeight + quantity × packagingCost, unrounded.
// Weight-priced goods with count-priced packaging is a domain rule; callers
// round once at the aggregation boundary.
func ItemTotal(item LineItem) decimal.Decimal {
	return item.UnitPrice.Mul(item.NetWeight).Add(item.Quantity.Mul(item.PackagingCost))
}

// cloneItems returns a copy of items that shares no backing array.
func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
