package app

import (
	"context"
	"errors"
	"fmt"

	"invoice-engine/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"
)

type appService struct {
	inventoryService core.InventoryService
	invoiceService   core.InvoiceService
	rounding         core.RoundingPolicy
	log              zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	inventoryService core.InventoryService,
	invoiceService core.InvoiceService,
	rounding core.RoundingPolicy,
	log zerolog.Logger,
) ApplicationService {
	return &appService{
		inventoryService: inventoryService,
		invoiceService:   invoiceService,
		rounding:         rounding,
		log:              log,
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *appService) GetInvoice(ctx context.Context, id int) (*InvoiceResult, error) {
	inv, err := s.invoiceService.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.invoiceService.GetPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Payments: payments}, nil
}

func (s *appService) ListInvoices(ctx context.Context, status *core.PaymentStatus) (*InvoiceListResult, error) {
	invoices, err := s.invoiceService.GetInvoices(ctx, status)
	if err != nil {
		return nil, err
	}
	return &InvoiceListResult{Invoices: invoices}, nil
}

func (s *appService) Recompute(inv core.Invoice) core.DerivedTotals {
	return inv.Refresh(s.rounding)
}

func (s *appService) GetStockLevels(ctx context.Context) (*StockResult, error) {
	levels, err := s.inventoryService.GetStockLevels(ctx)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) error {
	add := core.Stock{Quantity: req.Quantity, NetWeight: req.NetWeight, GrossWeight: req.GrossWeight}
	if err := s.inventoryService.ReceiveStock(ctx, req.ItemRef, req.DisplayName, add); err != nil {
		return err
	}
	s.log.Info().Str("item_ref", req.ItemRef).Str("quantity", req.Quantity.String()).
		Str("net_weight", req.NetWeight.String()).Msg("stock received")
	return nil
}

func (s *appService) EditScriptSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v EditScript
	return reflector.Reflect(v)
}

// ── Edit sessions ────────────────────────────────────────────────────────────

func (s *appService) EditInvoice(ctx context.Context, req EditInvoiceRequest) (*EditResult, error) {
	inv, err := s.invoiceService.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	session, err := core.OpenEditSession(ctx, inv, s.inventoryService, s.rounding)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("invoice_id", inv.ID).Str("kind", inv.Kind.Name()).
		Int("items", len(inv.Items)).Msg("edit session opened")

	return s.runSession(ctx, session, req.Script, req.DryRun, req.IdempotencyKey)
}

func (s *appService) CreateInvoice(ctx context.Context, req NewInvoiceRequest) (*EditResult, error) {
	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	session, err := core.NewInvoiceSession(ctx, kind, req.PartyRef, s.inventoryService, s.rounding)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("kind", kind.Name()).Str("party_ref", req.PartyRef).Msg("new invoice session opened")

	return s.runSession(ctx, session, req.Script, req.DryRun, req.IdempotencyKey)
}

// runSession applies the script and commits when everything validates. A
// session that fails validation is cancelled. A failed commit is reported with
// its idempotency key so a later call can retry under the same key.
func (s *appService) runSession(ctx context.Context, session *core.EditSession, script EditScript, dryRun bool, key string) (*EditResult, error) {
	if key != "" {
		if err := session.SetIdempotencyKey(key); err != nil {
			return nil, err
		}
	}
	script.Normalize()
	opErrors := applyScript(session, script)

	result := &EditResult{
		InvoiceID:  session.InvoiceID(),
		Kind:       session.Kind().Name(),
		Items:      session.Items(),
		ItemErrors: session.ItemErrors(),
		OpErrors:   opErrors,
		Totals:     session.Totals(),
	}

	payload, err := session.Payload()
	if err != nil {
		result.ValidationError = err.Error()
	} else {
		result.Payload = &payload
	}

	if dryRun || len(opErrors) > 0 || result.Payload == nil {
		_ = session.Cancel()
		s.log.Info().Int("invoice_id", result.InvoiceID).Bool("dry_run", dryRun).
			Int("op_errors", len(opErrors)).Int("item_errors", len(result.ItemErrors)).
			Msg("edit session cancelled")
		return result, nil
	}

	id, err := session.Commit(ctx, s.invoiceService)
	if err != nil {
		s.log.Error().Err(err).Int("invoice_id", result.InvoiceID).
			Str("idempotency_key", session.IdempotencyKey()).Msg("invoice commit failed")
		return nil, fmt.Errorf("commit failed, retry with idempotency key %s: %w", session.IdempotencyKey(), err)
	}

	result.InvoiceID = id
	result.Payload.InvoiceID = id
	result.Committed = true
	s.log.Info().Int("invoice_id", id).Str("kind", result.Kind).Int("items", len(result.Items)).
		Str("total_amount", result.Totals.TotalAmount.String()).
		Str("payment_status", string(result.Totals.PaymentStatus)).
		Msg("invoice committed")
	return result, nil
}

// applyScript runs every step of the script against the session and collects
// the steps that were rejected. A rejected step leaves the session unchanged.
func applyScript(session *core.EditSession, script EditScript) []string {
	var opErrors []string
	fail := func(step string, err error) {
		opErrors = append(opErrors, fmt.Sprintf("%s: %v", step, err))
	}

	for i, op := range script.Ops {
		step := fmt.Sprintf("op %d (%s)", i+1, op.Op)
		switch op.Op {
		case OpAdd:
			if op.Item == nil {
				fail(step, errors.New("item is required"))
				continue
			}
			if _, err := session.AddItem(toLineItem(*op.Item)); err != nil {
				fail(step, err)
			}
		case OpRemove:
			if err := session.RemoveItem(op.Index); err != nil {
				fail(step, err)
			}
		case OpEdit:
			field, err := core.ParseField(op.Field)
			if err != nil {
				fail(step, err)
				continue
			}
			if err := session.EditField(op.Index, field, op.Value); err != nil {
				fail(step, err)
			}
		default:
			fail(step, fmt.Errorf("unknown operation %q", op.Op))
		}
	}

	if script.AncillaryCost != nil {
		if err := session.SetAncillaryCost(core.ParseAmount(*script.AncillaryCost)); err != nil {
			fail("ancillary_cost", err)
		}
	}
	if script.PaidAmount != nil {
		if err := session.SetPaidAmount(core.ParseAmount(*script.PaidAmount)); err != nil {
			fail("paid_amount", err)
		}
	}
	if script.Broker != nil {
		if err := session.SetBroker(script.Broker.BrokerRef, core.ParseAmount(script.Broker.Percentage)); err != nil {
			fail("broker", err)
		}
	}
	return opErrors
}

func toLineItem(in ItemInput) core.LineItem {
	return core.LineItem{
		ItemRef:       in.ItemRef,
		DisplayName:   in.DisplayName,
		Quantity:      core.ParseAmount(in.Quantity),
		NetWeight:     core.ParseAmount(in.NetWeight),
		GrossWeight:   core.ParseAmount(in.GrossWeight),
		UnitPrice:     core.ParseAmount(in.UnitPrice),
		PackagingCost: core.ParseAmount(in.PackagingCost),
	}
}

// ── Payments ─────────────────────────────────────────────────────────────────

func (s *appService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	payload, err := core.RecordPayment(ctx, s.invoiceService, s.invoiceService,
		req.InvoiceID, req.Amount, req.Method, req.Date, s.rounding)
	if err != nil {
		if errors.Is(err, core.ErrCollaborator) {
			s.log.Error().Err(err).Int("invoice_id", req.InvoiceID).Msg("payment recording failed")
		}
		return nil, err
	}

	s.log.Info().Int("invoice_id", payload.InvoiceID).Str("amount", payload.Amount.String()).
		Str("method", payload.Method).Str("remaining_amount", payload.RemainingAmount.String()).
		Str("payment_status", string(payload.PaymentStatus)).Msg("payment recorded")
	return &PaymentResult{Payment: payload}, nil
}
