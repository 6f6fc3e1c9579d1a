package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StockLevel is a read view of one inventory_items row.
type StockLevel struct {
	ItemRef     string
	DisplayName string
	Quantity    decimal.Decimal
	NetWeight   decimal.Decimal
	GrossWeight decimal.Decimal
	UpdatedAt   time.Time
}

// Stock returns the available amounts of the row.
func (l StockLevel) Stock() Stock {
	return Stock{Quantity: l.Quantity, NetWeight: l.NetWeight, GrossWeight: l.GrossWeight}
}

// StockDelta is the signed change of one item between the original and the
// committed items of an invoice: new minus original.
type StockDelta struct {
	ItemRef     string
	DisplayName string
	Quantity    decimal.Decimal
	NetWeight   decimal.Decimal
	GrossWeight decimal.Decimal
}

// IsZero reports whether the item is unchanged.
func (d StockDelta) IsZero() bool {
	return d.Quantity.IsZero() && d.NetWeight.IsZero() && d.GrossWeight.IsZero()
}

// StockDeltas folds original and committed items by item ref and returns the
// non-zero changes, ordered by item ref. Removed rows count as zero.
func StockDeltas(original, committed []LineItem) []StockDelta {
	byRef := make(map[string]*StockDelta)
	var refs []string
	get := func(item LineItem) *StockDelta {
		d, ok := byRef[item.ItemRef]
		if !ok {
			d = &StockDelta{ItemRef: item.ItemRef}
			byRef[item.ItemRef] = d
			refs = append(refs, item.ItemRef)
		}
		if item.DisplayName != "" {
			d.DisplayName = item.DisplayName
		}
		return d
	}
	for _, item := range original {
		d := get(item)
		d.Quantity = d.Quantity.Sub(item.Quantity)
		d.NetWeight = d.NetWeight.Sub(item.NetWeight)
		d.GrossWeight = d.GrossWeight.Sub(item.GrossWeight)
	}
	for _, item := range committed {
		d := get(item)
		d.Quantity = d.Quantity.Add(item.Quantity)
		d.NetWeight = d.NetWeight.Add(item.NetWeight)
		d.GrossWeight = d.GrossWeight.Add(item.GrossWeight)
	}

	sort.Strings(refs)
	out := make([]StockDelta, 0, len(refs))
	for _, ref := range refs {
		if d := byRef[ref]; !d.IsZero() {
			out = append(out, *d)
		}
	}
	return out
}
