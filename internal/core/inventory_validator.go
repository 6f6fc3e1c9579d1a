package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const msgItemNotInInventory = "Item not found in inventory"

// ValidateFieldDelta checks one stock field of a row against availability.
// Only an increase over the original value draws on stock; a decrease is always
// admissible. It returns an empty string when the change is admissible.
func ValidateFieldDelta(field Field, original, proposed decimal.Decimal, stock Stock, inStock bool) string {
	delta := proposed.Sub(original)
	if !delta.IsPositive() {
		return ""
	}
	if !inStock {
		return msgItemNotInInventory
	}
	available := stock.available(field)
	if delta.GreaterThan(available) {
		return fmt.Sprintf("Cannot increase %s by %s (available: %s)", field, delta, available)
	}
	return ""
}

// ValidateItemDelta checks every stock field of a row against its original
// values and returns the first failure, or nil. Vendor invoices are never checked.
func ValidateItemDelta(kind InvoiceKind, index int, original, proposed LineItem, inventory InventoryAvailability) *FieldError {
	if kind == nil || !kind.ConsumesStock() {
		return nil
	}
	stock, ok := inventory[proposed.ItemRef]
	for _, f := range stockFields {
		if msg := ValidateFieldDelta(f, f.value(original), f.value(proposed), stock, ok); msg != "" {
			return newFieldError(index, f, msg)
		}
	}
	return nil
}

// baselineByRef folds original rows by item ref. Repeated refs are summed; the
// rows of one ref are validated together against that sum.
func baselineByRef(items []LineItem) map[string]LineItem {
	out := make(map[string]LineItem, len(items))
	for _, item := range items {
		b, ok := out[item.ItemRef]
		if !ok {
			out[item.ItemRef] = item
			continue
		}
		out[item.ItemRef] = addStock(b, item, 1)
	}
	return out
}

// unclaimedBaseline returns what remains of a ref's original amounts for row
// once the other working rows of that ref (drawn minus row) are served first.
// Measuring row against it makes the row's delta equal to the ref's total delta.
func unclaimedBaseline(baseline, drawn, row LineItem) LineItem {
	others := addStock(drawn, row, -1)
	return addStock(baseline, others, -1)
}

// addStock adds (sign 1) or subtracts (sign -1) the stock fields of b to a.
func addStock(a, b LineItem, sign int64) LineItem {
	k := decimal.NewFromInt(sign)
	for _, f := range stockFields {
		f.set(&a, f.value(a).Add(f.value(b).Mul(k)))
	}
	return a
}
