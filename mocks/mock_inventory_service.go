package mocks

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"invoice-engine/internal/core"
)

// MockInventoryService is a mock implementation of core.InventoryService.
// It also serves as a core.InventorySource.
type MockInventoryService struct {
	mock.Mock
}

func (m *MockInventoryService) FetchInventoryAvailability(ctx context.Context, itemRefs []string) (core.InventoryAvailability, error) {
	args := m.Called(ctx, itemRefs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(core.InventoryAvailability), args.Error(1)
}

func (m *MockInventoryService) GetStockLevels(ctx context.Context) ([]core.StockLevel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.StockLevel), args.Error(1)
}

func (m *MockInventoryService) ReceiveStock(ctx context.Context, itemRef, displayName string, add core.Stock) error {
	args := m.Called(ctx, itemRef, displayName, add)
	return args.Error(0)
}

func (m *MockInventoryService) ApplyStockDeltasTx(ctx context.Context, tx pgx.Tx, kind core.InvoiceKind, deltas []core.StockDelta) error {
	args := m.Called(ctx, tx, kind, deltas)
	return args.Error(0)
}
