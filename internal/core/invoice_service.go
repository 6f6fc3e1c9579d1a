package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InvoiceService persists invoices, their items and payments.
// It implements InvoiceReader, InvoiceCommitter and PaymentRecorder.
type InvoiceService interface {
	// CommitInvoiceUpdate writes the invoice header and items and moves stock by
	// the difference between OriginalItems and Items, all in one transaction.
	// A payload whose IdempotencyKey was already committed is a no-op that
	// returns the invoice id of the first commit.
	CommitInvoiceUpdate(ctx context.Context, payload InvoiceUpdatePayload) (int, error)
	// RecordPayment stores a payment and the invoice's resulting payment state.
	// The invoice must still have the paid amount the payload was built from.
	RecordPayment(ctx context.Context, payload PaymentPayload) error

	// Queries
	GetInvoice(ctx context.Context, id int) (*Invoice, error)
	GetInvoices(ctx context.Context, status *PaymentStatus) ([]Invoice, error)
	GetPayments(ctx context.Context, invoiceID int) ([]Payment, error)
}

type invoiceService struct {
	pool      *pgxpool.Pool
	inventory InventoryService
}

func NewInvoiceService(pool *pgxpool.Pool, inventory InventoryService) InvoiceService {
	return &invoiceService{pool: pool, inventory: inventory}
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ── Commit ───────────────────────────────────────────────────────────────────

func (s *invoiceService) CommitInvoiceUpdate(ctx context.Context, p InvoiceUpdatePayload) (int, error) {
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return 0, err
	}
	if p.IdempotencyKey == "" {
		return 0, fmt.Errorf("idempotency key is required")
	}
	if len(p.Items) == 0 {
		return 0, ErrNoItems
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// A retried commit must not move stock twice.
	var committedID int
	err = tx.QueryRow(ctx,
		"SELECT invoice_id FROM invoice_commits WHERE idempotency_key = $1",
		p.IdempotencyKey,
	).Scan(&committedID)
	if err == nil {
		return committedID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to check commit idempotency: %w", err)
	}

	var brokerRef *string
	if p.BrokerRef != "" {
		brokerRef = &p.BrokerRef
	}
	commissionPct, commissionAmount := decimal.Zero, decimal.Zero
	if p.CommissionPercentage != nil {
		commissionPct = *p.CommissionPercentage
	}
	if p.CommissionAmount != nil {
		commissionAmount = *p.CommissionAmount
	}

	invoiceID := p.InvoiceID
	if p.IsNew() {
		err = tx.QueryRow(ctx, `
			INSERT INTO invoices (kind, party_ref, ancillary_cost, subtotal, total_amount,
			                      paid_amount, remaining_amount, payment_status,
			                      broker_ref, commission_percentage, commission_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, kind.Name(), p.PartyRef, p.AncillaryCost, p.Subtotal, p.TotalAmount,
			p.PaidAmount, p.RemainingAmount, string(p.PaymentStatus),
			brokerRef, commissionPct, commissionAmount,
		).Scan(&invoiceID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert invoice: %w", err)
		}
	} else {
		var storedKind string
		err = tx.QueryRow(ctx,
			"SELECT kind FROM invoices WHERE id = $1 FOR UPDATE",
			invoiceID,
		).Scan(&storedKind)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("invoice %d not found", invoiceID)
			}
			return 0, fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
		}
		if storedKind != kind.Name() {
			return 0, fmt.Errorf("invoice %d is a %s invoice, payload is %s", invoiceID, storedKind, kind.Name())
		}

		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET party_ref = $1, ancillary_cost = $2, subtotal = $3, total_amount = $4,
			    paid_amount = $5, remaining_amount = $6, payment_status = $7,
			    broker_ref = $8, commission_percentage = $9, commission_amount = $10,
			    updated_at = NOW()
			WHERE id = $11
		`, p.PartyRef, p.AncillaryCost, p.Subtotal, p.TotalAmount,
			p.PaidAmount, p.RemainingAmount, string(p.PaymentStatus),
			brokerRef, commissionPct, commissionAmount, invoiceID)
		if err != nil {
			return 0, fmt.Errorf("failed to update invoice %d: %w", invoiceID, err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM invoice_items WHERE invoice_id = $1", invoiceID); err != nil {
			return 0, fmt.Errorf("failed to clear items of invoice %d: %w", invoiceID, err)
		}
	}

	for i, item := range p.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, line_number, item_ref, display_name,
			                           quantity, net_weight, gross_weight, unit_price, packaging_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, invoiceID, i+1, item.ItemRef, item.DisplayName,
			item.Quantity, item.NetWeight, item.GrossWeight, item.UnitPrice, item.PackagingCost)
		if err != nil {
			return 0, fmt.Errorf("failed to insert invoice item %d: %w", i+1, err)
		}
	}

	if err := s.inventory.ApplyStockDeltasTx(ctx, tx, kind, StockDeltas(p.OriginalItems, p.Items)); err != nil {
		return 0, fmt.Errorf("failed to apply stock changes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO invoice_commits (idempotency_key, invoice_id) VALUES ($1, $2)",
		p.IdempotencyKey, invoiceID,
	); err != nil {
		return 0, fmt.Errorf("failed to record commit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit invoice update: %w", err)
	}
	return invoiceID, nil
}

// ── Payments ─────────────────────────────────────────────────────────────────

func (s *invoiceService) RecordPayment(ctx context.Context, p PaymentPayload) error {
	if p.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM invoice_payments WHERE idempotency_key = $1)",
		p.IdempotencyKey,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payment idempotency: %w", err)
	}
	if exists {
		return nil
	}

	inv, err := lockInvoiceHeader(ctx, tx, p.InvoiceID)
	if err != nil {
		return err
	}
	if !inv.PaidAmount.Add(p.Amount).Equal(p.PaidAmount) {
		return fmt.Errorf("invoice %d changed since the payment was prepared: paid %s + %s != %s",
			p.InvoiceID, inv.PaidAmount, p.Amount, p.PaidAmount)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO invoice_payments (invoice_id, idempotency_key, amount, method, payment_date)
		VALUES ($1, $2, $3, $4, $5)
	`, p.InvoiceID, p.IdempotencyKey, p.Amount, p.Method, p.Date.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("failed to insert payment for invoice %d: %w", p.InvoiceID, err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE invoices
		SET paid_amount = $1, remaining_amount = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $4
	`, p.PaidAmount, p.RemainingAmount, string(p.PaymentStatus), p.InvoiceID); err != nil {
		return fmt.Errorf("failed to update payment state of invoice %d: %w", p.InvoiceID, err)
	}

	return tx.Commit(ctx)
}

// ── Queries ──────────────────────────────────────────────────────────────────

const invoiceHeaderColumns = `
	id, kind, party_ref, ancillary_cost, subtotal, total_amount,
	paid_amount, remaining_amount, payment_status,
	COALESCE(broker_ref, ''), commission_percentage, commission_amount,
	created_at, updated_at`

func scanInvoiceHeader(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var kind, status string
	if err := row.Scan(
		&inv.ID, &kind, &inv.PartyRef, &inv.AncillaryCost, &inv.Subtotal, &inv.TotalAmount,
		&inv.PaidAmount, &inv.RemainingAmount, &status,
		&inv.BrokerRef, &inv.CommissionPercentage, &inv.CommissionAmount,
		&inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}
	inv.Kind = k
	inv.PaymentStatus = PaymentStatus(status)
	return &inv, nil
}

func lockInvoiceHeader(ctx context.Context, tx pgx.Tx, id int) (*Invoice, error) {
	inv, err := scanInvoiceHeader(tx.QueryRow(ctx,
		"SELECT "+invoiceHeaderColumns+" FROM invoices WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d not found", id)
		}
		return nil, fmt.Errorf("failed to lock invoice %d: %w", id, err)
	}
	return inv, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	inv, err := scanInvoiceHeader(s.pool.QueryRow(ctx,
		"SELECT "+invoiceHeaderColumns+" FROM invoices WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", id, err)
	}

	items, err := fetchInvoiceItemsQ(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func (s *invoiceService) GetInvoices(ctx context.Context, status *PaymentStatus) ([]Invoice, error) {
	query := "SELECT " + invoiceHeaderColumns + " FROM invoices"
	var args []any
	if status != nil {
		query += " WHERE payment_status = $1"
		args = append(args, string(*status))
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoiceHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice rows: %w", err)
	}
	return invoices, nil
}

func (s *invoiceService) GetPayments(ctx context.Context, invoiceID int) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, amount, method, payment_date, created_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Date, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

func fetchInvoiceItemsQ(ctx context.Context, q pgxRowQuerier, invoiceID int) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT item_ref, display_name, quantity, net_weight, gross_weight, unit_price, packaging_cost
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY line_number
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()
	return collectInvoiceItems(rows)
}

// collectInvoiceItems never returns a partial list.
func collectInvoiceItems(rows pgx.Rows) ([]LineItem, error) {
	items := []LineItem{}
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(
			&it.ItemRef, &it.DisplayName,
			&it.Quantity, &it.NetWeight, &it.GrossWeight, &it.UnitPrice, &it.PackagingCost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice items: %w", err)
	}
	return items, nil
}
