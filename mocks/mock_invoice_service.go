package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"invoice-engine/internal/core"
)

// MockInvoiceService is a mock implementation of core.InvoiceService.
// It also serves as a core.InvoiceReader, core.InvoiceCommitter and core.PaymentRecorder.
type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) CommitInvoiceUpdate(ctx context.Context, payload core.InvoiceUpdatePayload) (int, error) {
	args := m.Called(ctx, payload)
	return args.Int(0), args.Error(1)
}

func (m *MockInvoiceService) RecordPayment(ctx context.Context, payload core.PaymentPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockInvoiceService) GetInvoice(ctx context.Context, id int) (*core.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Invoice), args.Error(1)
}

func (m *MockInvoiceService) GetInvoices(ctx context.Context, status *core.PaymentStatus) ([]core.Invoice, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Invoice), args.Error(1)
}

func (m *MockInvoiceService) GetPayments(ctx context.Context, invoiceID int) ([]core.Payment, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Payment), args.Error(1)
}
