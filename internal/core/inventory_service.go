package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryService manages stock levels of invoiced items.
type InventoryService interface {
	// Standalone operations (manage their own transactions).

	// FetchInventoryAvailability returns a snapshot for itemRefs, or for every item when itemRefs is empty.
	// Unknown refs are absent from the result.
	FetchInventoryAvailability(ctx context.Context, itemRefs []string) (InventoryAvailability, error)
	GetStockLevels(ctx context.Context) ([]StockLevel, error)
	// ReceiveStock adds stock for an item, creating the inventory row if needed.
	ReceiveStock(ctx context.Context, itemRef, displayName string, add Stock) error

	// TX-scoped operations: work within a caller-provided transaction.
	// Used by InvoiceService to keep stock changes atomic with the invoice write.

	// ApplyStockDeltasTx moves stock by the committed deltas of an invoice.
	// Customer invoices take stock out, vendor invoices put it in. Rows are
	// locked in item ref order and no level may go below zero.
	ApplyStockDeltasTx(ctx context.Context, tx pgx.Tx, kind InvoiceKind, deltas []StockDelta) error
}

type inventoryService struct {
	pool *pgxpool.Pool
}

func NewInventoryService(pool *pgxpool.Pool) InventoryService {
	return &inventoryService{pool: pool}
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *inventoryService) FetchInventoryAvailability(ctx context.Context, itemRefs []string) (InventoryAvailability, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(itemRefs) == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT item_ref, quantity, net_weight, gross_weight
			FROM inventory_items
		`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT item_ref, quantity, net_weight, gross_weight
			FROM inventory_items
			WHERE item_ref = ANY($1)
		`, itemRefs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory availability: %w", err)
	}
	defer rows.Close()

	availability := make(InventoryAvailability)
	for rows.Next() {
		var ref string
		var st Stock
		if err := rows.Scan(&ref, &st.Quantity, &st.NetWeight, &st.GrossWeight); err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		availability[ref] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory rows: %w", err)
	}
	return availability, nil
}

func (s *inventoryService) GetStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_ref, display_name, quantity, net_weight, gross_weight, updated_at
		FROM inventory_items
		ORDER BY item_ref
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()
	return collectStockLevels(rows)
}

func collectStockLevels(rows pgx.Rows) ([]StockLevel, error) {
	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ItemRef, &sl.DisplayName, &sl.Quantity, &sl.NetWeight, &sl.GrossWeight, &sl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock levels: %w", err)
	}
	return levels, nil
}

func (s *inventoryService) ReceiveStock(ctx context.Context, itemRef, displayName string, add Stock) error {
	itemRef = strings.TrimSpace(itemRef)
	if itemRef == "" {
		return fmt.Errorf("item ref is required")
	}
	if add.Quantity.IsNegative() || add.NetWeight.IsNegative() || add.GrossWeight.IsNegative() {
		return fmt.Errorf("received stock cannot be negative")
	}
	for _, f := range stockFields {
		if exceedsPlaces(add.available(f), f.places()) {
			return fmt.Errorf("%w: received %s %s allows at most %d", ErrTooPrecise, f, add.available(f), f.places())
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_items (item_ref, display_name, quantity, net_weight, gross_weight)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_ref) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), inventory_items.display_name),
			quantity     = inventory_items.quantity     + EXCLUDED.quantity,
			net_weight   = inventory_items.net_weight   + EXCLUDED.net_weight,
			gross_weight = inventory_items.gross_weight + EXCLUDED.gross_weight,
			updated_at   = NOW()
	`, itemRef, displayName, add.Quantity, add.NetWeight, add.GrossWeight)
	if err != nil {
		return fmt.Errorf("failed to receive stock for item %s: %w", itemRef, err)
	}
	return nil
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

func (s *inventoryService) ApplyStockDeltasTx(ctx context.Context, tx pgx.Tx, kind InvoiceKind, deltas []StockDelta) error {
	// Customer invoices consume stock: a positive delta is taken out.
	sign := decimal.NewFromInt(1)
	if kind.ConsumesStock() {
		sign = sign.Neg()
	}

	for _, d := range deltas {
		if d.IsZero() {
			continue
		}
		move := Stock{
			Quantity:    d.Quantity.Mul(sign),
			NetWeight:   d.NetWeight.Mul(sign),
			GrossWeight: d.GrossWeight.Mul(sign),
		}

		var onHand Stock
		err := tx.QueryRow(ctx, `
			SELECT quantity, net_weight, gross_weight
			FROM inventory_items
			WHERE item_ref = $1
			FOR UPDATE
		`, d.ItemRef).Scan(&onHand.Quantity, &onHand.NetWeight, &onHand.GrossWeight)
		if errors.Is(err, pgx.ErrNoRows) {
			// Purchases of an unknown item open its inventory row.
			if kind.ConsumesStock() {
				return fmt.Errorf("item %s not found in inventory", d.ItemRef)
			}
			onHand = Stock{}
			if _, err := tx.Exec(ctx, `
				INSERT INTO inventory_items (item_ref, display_name, quantity, net_weight, gross_weight)
				VALUES ($1, $2, 0, 0, 0)
			`, d.ItemRef, d.DisplayName); err != nil {
				return fmt.Errorf("failed to create inventory item %s: %w", d.ItemRef, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to lock inventory item %s: %w", d.ItemRef, err)
		}

		next := Stock{
			Quantity:    onHand.Quantity.Add(move.Quantity),
			NetWeight:   onHand.NetWeight.Add(move.NetWeight),
			GrossWeight: onHand.GrossWeight.Add(move.GrossWeight),
		}
		for _, f := range stockFields {
			if next.available(f).IsNegative() {
				return fmt.Errorf("insufficient stock for item %s: %s on hand %s, change %s",
					d.ItemRef, f, onHand.available(f), move.available(f))
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE inventory_items
			SET quantity = $1, net_weight = $2, gross_weight = $3, updated_at = NOW()
			WHERE item_ref = $4
		`, next.Quantity, next.NetWeight, next.GrossWeight, d.ItemRef); err != nil {
			return fmt.Errorf("failed to update stock for item %s: %w", d.ItemRef, err)
		}
	}
	return nil
}
