package core_test

import (
	"context"
	"os"
	"testing"
	"time"

	"invoice-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Integration tests truncate every table, so they only run against a
	// dedicated database named by TEST_DATABASE_URL.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE invoice_commits, invoice_payments, invoice_items, invoices, inventory_items RESTART IDENTITY CASCADE;

		INSERT INTO inventory_items (item_ref, display_name, quantity, net_weight, gross_weight) VALUES
		('RICE', 'Rice',  20, 1000.000, 1050.000),
		('OATS', 'Oats',   5,   50.000,   52.500);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool
}

func setupInvoiceServices(t *testing.T) (*pgxpool.Pool, core.InventoryService, core.InvoiceService, context.Context) {
	t.Helper()
	pool := setupTestDB(t)
	inventory := core.NewInventoryService(pool)
	return pool, inventory, core.NewInvoiceService(pool, inventory), context.Background()
}

func stockOf(t *testing.T, ctx context.Context, inventory core.InventoryService, ref string) core.Stock {
	t.Helper()
	avail, err := inventory.FetchInventoryAvailability(ctx, []string{ref})
	if err != nil {
		t.Fatalf("FetchInventoryAvailability failed: %v", err)
	}
	st, ok := avail[ref]
	if !ok {
		t.Fatalf("item %s not in inventory", ref)
	}
	return st
}

// newRiceSale builds a committed-ready customer session: 4 × RICE, 200 kg @ 10 = 2000.
func newRiceSale(t *testing.T, ctx context.Context, inventory core.InventoryService) *core.EditSession {
	t.Helper()
	s, err := core.NewInvoiceSession(ctx, core.CustomerInvoice{}, "CUST-1", inventory, core.RoundTwoDecimal)
	if err != nil {
		t.Fatalf("NewInvoiceSession failed: %v", err)
	}
	_, err = s.AddItem(core.LineItem{
		ItemRef: "RICE", DisplayName: "Rice",
		Quantity: decimal.NewFromInt(4), NetWeight: decimal.NewFromInt(200), GrossWeight: decimal.NewFromInt(210),
		UnitPrice: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	return s
}

func TestInvoiceService_CustomerCommitConsumesStock(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	s := newRiceSale(t, ctx, inventory)
	if err := s.SetBroker("BRK-1", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("SetBroker failed: %v", err)
	}
	id, err := s.Commit(ctx, invoices)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	st := stockOf(t, ctx, inventory, "RICE")
	if !st.Quantity.Equal(decimal.NewFromInt(16)) {
		t.Errorf("Expected RICE quantity 16, got %s", st.Quantity)
	}
	if !st.NetWeight.Equal(decimal.NewFromInt(800)) {
		t.Errorf("Expected RICE net weight 800, got %s", st.NetWeight)
	}
	if !st.GrossWeight.Equal(decimal.NewFromInt(840)) {
		t.Errorf("Expected RICE gross weight 840, got %s", st.GrossWeight)
	}

	inv, err := invoices.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.Kind.Name() != "customer" {
		t.Errorf("Expected customer invoice, got %s", inv.Kind.Name())
	}
	if len(inv.Items) != 1 || inv.Items[0].ItemRef != "RICE" {
		t.Fatalf("Expected one RICE item, got %+v", inv.Items)
	}
	if !inv.TotalAmount.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected total 2000, got %s", inv.TotalAmount)
	}
	if !inv.CommissionAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected commission 100, got %s", inv.CommissionAmount)
	}
	if inv.PaymentStatus != core.PaymentStatusPending {
		t.Errorf("Expected pending, got %s", inv.PaymentStatus)
	}
}

func TestInvoiceService_CommitIsIdempotent(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	payload, err := newRiceSale(t, ctx, inventory).Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}

	id1, err := invoices.CommitInvoiceUpdate(ctx, payload)
	if err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	id2, err := invoices.CommitInvoiceUpdate(ctx, payload)
	if err != nil {
		t.Fatalf("Retried commit failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Retry created a second invoice: %d vs %d", id1, id2)
	}

	st := stockOf(t, ctx, inventory, "RICE")
	if !st.Quantity.Equal(decimal.NewFromInt(16)) {
		t.Errorf("Stock moved twice: expected 16, got %s", st.Quantity)
	}

	list, err := invoices.GetInvoices(ctx, nil)
	if err != nil {
		t.Fatalf("GetInvoices failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 invoice, got %d", len(list))
	}
}

func TestInvoiceService_EditReturnsStock(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	id, err := newRiceSale(t, ctx, inventory).Commit(ctx, invoices)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	inv, err := invoices.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	s, err := core.OpenEditSession(ctx, inv, inventory, core.RoundTwoDecimal)
	if err != nil {
		t.Fatalf("OpenEditSession failed: %v", err)
	}
	if err := s.EditField(0, core.FieldQuantity, "2"); err != nil {
		t.Fatalf("EditField quantity failed: %v", err)
	}
	if err := s.EditField(0, core.FieldNetWeight, "100"); err != nil {
		t.Fatalf("EditField net weight failed: %v", err)
	}
	if _, err := s.AddItem(core.LineItem{ItemRef: "OATS", Quantity: decimal.NewFromInt(5), NetWeight: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(4)}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if _, err := s.Commit(ctx, invoices); err != nil {
		t.Fatalf("Commit of edit failed: %v", err)
	}

	rice := stockOf(t, ctx, inventory, "RICE")
	if !rice.Quantity.Equal(decimal.NewFromInt(18)) || !rice.NetWeight.Equal(decimal.NewFromInt(900)) {
		t.Errorf("Expected RICE 18 / 900 kg, got %s / %s", rice.Quantity, rice.NetWeight)
	}
	oats := stockOf(t, ctx, inventory, "OATS")
	if !oats.Quantity.IsZero() {
		t.Errorf("Expected OATS exhausted, got %s", oats.Quantity)
	}

	inv, err = invoices.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("Expected 2 items after edit, got %d", len(inv.Items))
	}
	// 10 × 100 + 4 × 50
	if !inv.TotalAmount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("Expected total 1200, got %s", inv.TotalAmount)
	}
}

func TestInvoiceService_VendorCommitAddsStock(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	s, err := core.NewInvoiceSession(ctx, core.VendorInvoice{}, "SUP-1", inventory, core.RoundTwoDecimal)
	if err != nil {
		t.Fatalf("NewInvoiceSession failed: %v", err)
	}
	for _, item := range []core.LineItem{
		{ItemRef: "RICE", Quantity: decimal.NewFromInt(10), NetWeight: decimal.NewFromInt(500), GrossWeight: decimal.NewFromInt(520), UnitPrice: decimal.NewFromInt(6)},
		{ItemRef: "CORN", DisplayName: "Corn", Quantity: decimal.NewFromInt(3), NetWeight: decimal.NewFromInt(30), UnitPrice: decimal.NewFromInt(2)},
	} {
		if _, err := s.AddItem(item); err != nil {
			t.Fatalf("AddItem %s failed: %v", item.ItemRef, err)
		}
	}
	if _, err := s.Commit(ctx, invoices); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if rice := stockOf(t, ctx, inventory, "RICE"); !rice.Quantity.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected RICE 30, got %s", rice.Quantity)
	}

	levels, err := inventory.GetStockLevels(ctx)
	if err != nil {
		t.Fatalf("GetStockLevels failed: %v", err)
	}
	var found bool
	for _, l := range levels {
		if l.ItemRef == "CORN" {
			found = true
			if l.DisplayName != "Corn" || !l.Quantity.Equal(decimal.NewFromInt(3)) {
				t.Errorf("Unexpected CORN level: %+v", l)
			}
		}
	}
	if !found {
		t.Error("Expected CORN to be created by the purchase")
	}
}

func TestInvoiceService_InsufficientStockRollsBack(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	qty := decimal.NewFromInt(50)
	total := decimal.NewFromInt(500)
	_, err := invoices.CommitInvoiceUpdate(ctx, core.InvoiceUpdatePayload{
		IdempotencyKey:  "stale-snapshot",
		Kind:            "customer",
		PartyRef:        "CUST-1",
		Items:           []core.LineItem{{ItemRef: "RICE", Quantity: qty, NetWeight: qty, UnitPrice: decimal.NewFromInt(10)}},
		Subtotal:        total,
		TotalAmount:     total,
		RemainingAmount: total,
		PaymentStatus:   core.PaymentStatusPending,
	})
	if err == nil {
		t.Fatal("Expected insufficient stock error, got nil")
	}

	if st := stockOf(t, ctx, inventory, "RICE"); !st.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Stock changed despite rollback: %s", st.Quantity)
	}
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&count); err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no invoices after rollback, got %d", count)
	}
}

func TestInvoiceService_RecordPayment(t *testing.T) {
	pool, inventory, invoices, ctx := setupInvoiceServices(t)
	defer pool.Close()

	id, err := newRiceSale(t, ctx, inventory).Commit(ctx, invoices)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	inv, err := invoices.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}

	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	first, err := core.NewPaymentRecord(inv, decimal.NewFromInt(500), "cash", date, core.RoundTwoDecimal)
	if err != nil {
		t.Fatalf("NewPaymentRecord failed: %v", err)
	}
	if err := invoices.RecordPayment(ctx, first); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	// Replaying the same payment is a no-op.
	if err := invoices.RecordPayment(ctx, first); err != nil {
		t.Fatalf("Replayed RecordPayment failed: %v", err)
	}

	// A payment prepared from the stale invoice no longer adds up.
	stale, err := core.NewPaymentRecord(inv, decimal.NewFromInt(200), "bank", date, core.RoundTwoDecimal)
	if err != nil {
		t.Fatalf("NewPaymentRecord failed: %v", err)
	}
	if err := invoices.RecordPayment(ctx, stale); err == nil {
		t.Error("Expected stale payment to be rejected")
	}

	inv, err = invoices.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if !inv.PaidAmount.Equal(decimal.NewFromInt(500)) || !inv.RemainingAmount.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected paid 500 / remaining 1500, got %s / %s", inv.PaidAmount, inv.RemainingAmount)
	}
	if inv.PaymentStatus != core.PaymentStatusPartiallyPaid {
		t.Errorf("Expected partially_paid, got %s", inv.PaymentStatus)
	}

	payments, err := invoices.GetPayments(ctx, id)
	if err != nil {
		t.Fatalf("GetPayments failed: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("Expected 1 payment, got %d", len(payments))
	}
	if payments[0].Method != "cash" || !payments[0].Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Unexpected payment: %+v", payments[0])
	}

	status := core.PaymentStatusPartiallyPaid
	list, err := invoices.GetInvoices(ctx, &status)
	if err != nil {
		t.Fatalf("GetInvoices failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("Expected invoice %d in partially_paid list, got %+v", id, list)
	}
}
