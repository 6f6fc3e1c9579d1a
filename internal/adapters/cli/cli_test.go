package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"invoice-engine/internal/adapters/cli"
	"invoice-engine/internal/app"
	"invoice-engine/internal/core"
	"invoice-engine/mocks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func offlineService() app.ApplicationService {
	return app.NewAppService(nil, nil, core.RoundTwoDecimal, zerolog.Nop())
}

// connected returns a factory backed by mocks and records whether the
// connection was released.
func connected(inventory *mocks.MockInventoryService, invoices *mocks.MockInvoiceService, released *bool) cli.ServiceFactory {
	return func(ctx context.Context) (app.ApplicationService, func(), error) {
		svc := app.NewAppService(inventory, invoices, core.RoundTwoDecimal, zerolog.Nop())
		return svc, func() { *released = true }, nil
	}
}

func noConnect(ctx context.Context) (app.ApplicationService, func(), error) {
	return nil, nil, errors.New("no database in this test")
}

func run(t *testing.T, connect cli.ServiceFactory, stdin string, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand(offlineService(), connect)
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecomputeCommand(t *testing.T) {
	in := `{
		"kind": "customer",
		"items": [{"item_ref": "RICE", "quantity": "2", "net_weight": "5", "unit_price": "100", "packaging_cost": "10"}],
		"ancillary_cost": "0",
		"paid_amount": "400"
	}`
	out, err := run(t, noConnect, in, "recompute")
	require.NoError(t, err)

	var totals core.DerivedTotals
	require.NoError(t, json.Unmarshal([]byte(out), &totals))
	assert.True(t, totals.TotalAmount.Equal(decimal.NewFromInt(520)), totals.TotalAmount.String())
	assert.True(t, totals.RemainingAmount.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, core.PaymentStatusPartiallyPaid, totals.PaymentStatus)
}

func TestRecomputeCommand_InvalidJSON(t *testing.T) {
	_, err := run(t, noConnect, "{", "recompute")
	assert.ErrorContains(t, err, "invalid invoice JSON")
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, noConnect, "", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"ops"`)
	assert.Contains(t, out, `"additionalProperties": false`)
}

func TestEditCommand_Commits(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	inv := &core.Invoice{
		ID:    8,
		Kind:  core.CustomerInvoice{},
		Items: []core.LineItem{{ItemRef: "RICE", Quantity: decimal.NewFromInt(2), NetWeight: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(50)}},
	}
	invoices.On("GetInvoice", mock.Anything, 8).Return(inv, nil)
	inventory.On("FetchInventoryAvailability", mock.Anything, mock.Anything).Return(core.InventoryAvailability{
		"RICE": {Quantity: decimal.NewFromInt(10), NetWeight: decimal.NewFromInt(100), GrossWeight: decimal.NewFromInt(100)},
	}, nil)
	invoices.On("CommitInvoiceUpdate", mock.Anything, mock.Anything).Return(8, nil).Once()

	script := `{"ops": [{"op": "edit", "index": 0, "field": "quantity", "value": "3"}]}`
	out, err := run(t, connected(inventory, invoices, &released), script, "edit", "8", "--script", "-")
	require.NoError(t, err)
	invoices.AssertExpectations(t)
	assert.True(t, released)
	assert.Contains(t, out, `"Committed": true`)
}

func TestNewCommand_IdempotencyKeyIsPassedThrough(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	invoices.On("CommitInvoiceUpdate", mock.Anything, mock.MatchedBy(func(p core.InvoiceUpdatePayload) bool {
		return p.IsNew() && p.IdempotencyKey == "retry-7"
	})).Return(12, nil).Once()

	script := `{"ops": [{"op": "add", "item": {"item_ref": "CORN", "quantity": "4", "net_weight": "40", "unit_price": "2"}}]}`
	_, err := run(t, connected(inventory, invoices, &released), script,
		"new", "--kind", "vendor", "--party", "SUP-1", "--script", "-", "--idempotency-key", "retry-7")
	require.NoError(t, err)
	invoices.AssertExpectations(t)
}

func TestEditCommand_ItemErrorsAreNotCommitted(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	inv := &core.Invoice{
		ID:    8,
		Kind:  core.CustomerInvoice{},
		Items: []core.LineItem{{ItemRef: "RICE", Quantity: decimal.NewFromInt(2), NetWeight: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(50)}},
	}
	invoices.On("GetInvoice", mock.Anything, 8).Return(inv, nil)
	inventory.On("FetchInventoryAvailability", mock.Anything, mock.Anything).Return(core.InventoryAvailability{}, nil)

	script := `{"ops": [{"op": "edit", "index": 0, "field": "quantity", "value": "3"}]}`
	out, err := run(t, connected(inventory, invoices, &released), script, "edit", "8", "--script", "-")
	assert.ErrorIs(t, err, cli.ErrNotCommitted)
	assert.Contains(t, out, "Item not found in inventory")
	invoices.AssertNotCalled(t, "CommitInvoiceUpdate", mock.Anything, mock.Anything)
}

func TestEditCommand_RejectsUnknownScriptFields(t *testing.T) {
	_, err := run(t, noConnect, `{"operations": []}`, "edit", "8", "--script", "-")
	assert.ErrorContains(t, err, "invalid edit script")
}

func TestEditCommand_BadID(t *testing.T) {
	_, err := run(t, noConnect, `{}`, "edit", "abc", "--script", "-")
	assert.ErrorContains(t, err, `invalid invoice id "abc"`)
}

func TestNewCommand_DryRun(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	script := `{"ops": [{"op": "add", "item": {"item_ref": "CORN", "quantity": "4", "net_weight": "40", "unit_price": "2"}}]}`
	out, err := run(t, connected(inventory, invoices, &released), script,
		"new", "--kind", "vendor", "--party", "SUP-1", "--script", "-", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `"Committed": false`)
	assert.Contains(t, out, `"total_amount": "80"`)
	invoices.AssertNotCalled(t, "CommitInvoiceUpdate", mock.Anything, mock.Anything)
}

func TestPayCommand(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	inv := &core.Invoice{
		ID:    8,
		Kind:  core.CustomerInvoice{},
		Items: []core.LineItem{{ItemRef: "RICE", Quantity: decimal.NewFromInt(2), NetWeight: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(50)}},
	}
	invoices.On("GetInvoice", mock.Anything, 8).Return(inv, nil)
	invoices.On("RecordPayment", mock.Anything, mock.Anything).Return(nil).Once()

	out, err := run(t, connected(inventory, invoices, &released), "",
		"pay", "8", "--amount", "200", "--method", "cash", "--date", "2026-04-01")
	require.NoError(t, err)
	invoices.AssertExpectations(t)
	assert.Contains(t, out, `"payment_status": "partially_paid"`)

	_, err = run(t, connected(inventory, invoices, &released), "",
		"pay", "8", "--amount", "200", "--method", "cash", "--date", "01/04/2026")
	assert.ErrorContains(t, err, "invalid date")
}

func TestStockCommand_Filters(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	inventory.On("GetStockLevels", mock.Anything).Return([]core.StockLevel{
		{ItemRef: "OATS", DisplayName: "Oats", Quantity: decimal.NewFromInt(5)},
		{ItemRef: "RICE", DisplayName: "Rice", Quantity: decimal.NewFromInt(20)},
	}, nil)

	out, err := run(t, connected(inventory, invoices, &released), "", "stock", "RICE")
	require.NoError(t, err)
	assert.Contains(t, out, "Rice")
	assert.NotContains(t, out, "Oats")
}

func TestListCommand_RejectsUnknownStatus(t *testing.T) {
	_, err := run(t, noConnect, "", "list", "--status", "unpaid")
	assert.ErrorIs(t, err, core.ErrUnknownPaymentStatus)
}

func TestListCommand_StatusFilter(t *testing.T) {
	inventory := new(mocks.MockInventoryService)
	invoices := new(mocks.MockInvoiceService)
	var released bool

	invoices.On("GetInvoices", mock.Anything, mock.MatchedBy(func(st *core.PaymentStatus) bool {
		return st != nil && *st == core.PaymentStatusPartiallyPaid
	})).Return([]core.Invoice{}, nil).Once()

	_, err := run(t, connected(inventory, invoices, &released), "", "list", "--status", "Partially_Paid")
	require.NoError(t, err)
	invoices.AssertExpectations(t)
}

func TestConnectFailure(t *testing.T) {
	_, err := run(t, noConnect, "", "list")
	assert.ErrorContains(t, err, "no database")
}
