package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionState is the lifecycle state of an EditSession.
type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionCommitted SessionState = "committed"
	SessionCancelled SessionState = "cancelled"
)

// EditSession holds the working copy of one invoice while it is edited.
// It keeps an immutable copy of the original items as the baseline for stock
// deltas, and a sparse map of per-row errors that blocks Commit while non-empty.
// Derived totals are recomputed after every mutation.
//
// An EditSession is not safe for concurrent use.
type EditSession struct {
	invoiceID      int
	kind           InvoiceKind
	partyRef       string
	policy         RoundingPolicy
	idempotencyKey string

	inventory InventoryAvailability
	original  []LineItem
	baseline  map[string]LineItem

	working       []LineItem
	itemErrors    map[int]string
	ancillaryCost decimal.Decimal
	paidAmount    decimal.Decimal
	terms         CommissionTerms
	totals        DerivedTotals

	state SessionState
}

// OpenEditSession starts editing an existing invoice. For customer invoices
// the inventory snapshot is fetched once here and never refreshed.
func OpenEditSession(ctx context.Context, inv *Invoice, source InventorySource, policy RoundingPolicy) (*EditSession, error) {
	if inv == nil {
		return nil, errors.New("invoice is required")
	}
	if inv.Kind == nil {
		return nil, fmt.Errorf("%w: invoice %d has no kind", ErrUnknownKind, inv.ID)
	}

	inventory, err := fetchSnapshot(ctx, inv.Kind, source)
	if err != nil {
		return nil, err
	}

	original := cloneItems(inv.Items)
	if original == nil {
		original = []LineItem{}
	}
	s := &EditSession{
		invoiceID:      inv.ID,
		kind:           inv.Kind,
		partyRef:       inv.PartyRef,
		policy:         policy,
		idempotencyKey: uuid.NewString(),
		inventory:      inventory,
		original:       original,
		baseline:       baselineByRef(original),
		working:        cloneItems(original),
		itemErrors:     make(map[int]string),
		ancillaryCost:  inv.AncillaryCost,
		paidAmount:     inv.PaidAmount,
		terms:          inv.Terms(),
		state:          SessionOpen,
	}
	if !s.kind.CommissionApplies() {
		s.terms = CommissionTerms{}
	}
	s.recompute()
	return s, nil
}

// NewInvoiceSession starts a session for an invoice that does not exist yet.
func NewInvoiceSession(ctx context.Context, kind InvoiceKind, partyRef string, source InventorySource, policy RoundingPolicy) (*EditSession, error) {
	return OpenEditSession(ctx, &Invoice{Kind: kind, PartyRef: partyRef}, source, policy)
}

func fetchSnapshot(ctx context.Context, kind InvoiceKind, source InventorySource) (InventoryAvailability, error) {
	if !kind.ConsumesStock() {
		return InventoryAvailability{}, nil
	}
	if source == nil {
		return nil, errors.New("inventory source is required for customer invoices")
	}
	inventory, err := source.FetchInventoryAvailability(ctx, nil)
	if err != nil {
		return nil, collaboratorError("fetch inventory availability", err)
	}
	if inventory == nil {
		inventory = InventoryAvailability{}
	}
	return inventory, nil
}

// ── Accessors ─────────────────────────────────────────────────────────────────

func (s *EditSession) InvoiceID() int         { return s.invoiceID }
func (s *EditSession) Kind() InvoiceKind      { return s.kind }
func (s *EditSession) PartyRef() string       { return s.partyRef }
func (s *EditSession) State() SessionState    { return s.state }
func (s *EditSession) IdempotencyKey() string { return s.idempotencyKey }

// Totals returns the current derived totals.
func (s *EditSession) Totals() DerivedTotals { return s.totals }

// Items returns a copy of the working items.
func (s *EditSession) Items() []LineItem { return cloneItems(s.working) }

// OriginalItems returns a copy of the items as they were when the session opened.
func (s *EditSession) OriginalItems() []LineItem { return cloneItems(s.original) }

// ItemErrors returns a copy of the per-row error map.
func (s *EditSession) ItemErrors() map[int]string {
	out := make(map[int]string, len(s.itemErrors))
	for k, v := range s.itemErrors {
		out[k] = v
	}
	return out
}

// ItemError returns the outstanding error for one row.
func (s *EditSession) ItemError(index int) (string, bool) {
	msg, ok := s.itemErrors[index]
	return msg, ok
}

// ── Mutations ─────────────────────────────────────────────────────────────────

// AddItem appends candidate, or merges it into the existing row with the same
// item ref by adding its quantity and weights. The row is then re-validated
// against stock; an overdraw is recorded in the row's error entry, not returned.
// It returns the index of the affected row.
func (s *EditSession) AddItem(candidate LineItem) (int, error) {
	if err := s.ensureOpen(); err != nil {
		return -1, err
	}
	candidate.ItemRef = strings.TrimSpace(candidate.ItemRef)
	if candidate.ItemRef == "" {
		return -1, newFieldError(-1, FieldItemRef, "Item is required")
	}
	if !candidate.Quantity.IsPositive() {
		return -1, newFieldError(-1, FieldQuantity, "Quantity must be greater than zero")
	}
	for _, f := range []Field{FieldQuantity, FieldNetWeight, FieldGrossWeight, FieldUnitPrice, FieldPackagingCost} {
		if err := checkFieldValue(-1, f, f.value(candidate)); err != nil {
			return -1, err
		}
	}

	index := s.indexOf(candidate.ItemRef)
	if index < 0 {
		s.working = append(s.working, candidate)
		index = len(s.working) - 1
	} else {
		row := &s.working[index]
		row.Quantity = row.Quantity.Add(candidate.Quantity)
		row.NetWeight = row.NetWeight.Add(candidate.NetWeight)
		row.GrossWeight = row.GrossWeight.Add(candidate.GrossWeight)
	}

	s.revalidate(index)
	s.recompute()
	return index, nil
}

// RemoveItem deletes a row. Its error entry is dropped and the entries of later
// rows move down by one. Only the remaining rows with the same item ref are
// re-validated.
func (s *EditSession) RemoveItem(index int) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.checkIndex(index); err != nil {
		return err
	}

	removed := s.working[index].ItemRef
	s.working = append(s.working[:index], s.working[index+1:]...)

	shifted := make(map[int]string, len(s.itemErrors))
	for i, msg := range s.itemErrors {
		switch {
		case i < index:
			shifted[i] = msg
		case i > index:
			shifted[i-1] = msg
		}
	}
	s.itemErrors = shifted

	s.revalidateRef(removed)
	s.recompute()
	return nil
}

// EditField sets one field of a row from form text. Numbers are parsed
// leniently: blank or non-numeric input is zero. Negative values and fractional
// quantities are rejected with a *FieldError and the row is left unchanged.
func (s *EditSession) EditField(index int, field Field, value string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.checkIndex(index); err != nil {
		return err
	}

	row := &s.working[index]
	switch field {
	case FieldDisplayName:
		row.DisplayName = value
		return nil
	case FieldQuantity, FieldNetWeight, FieldGrossWeight, FieldUnitPrice, FieldPackagingCost:
	default:
		return unknownFieldError(string(field))
	}

	v := ParseAmount(value)
	if err := checkFieldValue(index, field, v); err != nil {
		return err
	}
	field.set(row, v)

	if field.AffectsStock() {
		s.revalidate(index)
	}
	s.recompute()
	return nil
}

// SetIdempotencyKey replaces the generated commit key. Callers retrying a
// commit that failed in an earlier process pass the key it reported.
func (s *EditSession) SetIdempotencyKey(key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("idempotency key cannot be blank")
	}
	s.idempotencyKey = key
	return nil
}

// SetAncillaryCost sets the combined labour and transport charge.
func (s *EditSession) SetAncillaryCost(v decimal.Decimal) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := checkMoney("ancillary cost", v); err != nil {
		return err
	}
	s.ancillaryCost = v
	s.recompute()
	return nil
}

// SetPaidAmount overrides the paid amount, as when reverting a payment.
// Recording a new payment goes through NewPaymentRecord instead.
func (s *EditSession) SetPaidAmount(v decimal.Decimal) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := checkMoney("paid amount", v); err != nil {
		return err
	}
	s.paidAmount = v
	s.recompute()
	return nil
}

// SetBroker attaches a broker and commission percentage. An empty ref detaches
// the broker. Only customer invoices carry a commission.
func (s *EditSession) SetBroker(brokerRef string, pct decimal.Decimal) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	brokerRef = strings.TrimSpace(brokerRef)
	if !s.kind.CommissionApplies() {
		if brokerRef == "" {
			return nil
		}
		return fmt.Errorf("%w: %s invoice", ErrCommissionNotApplicable, s.kind.Name())
	}
	if err := ValidateCommissionPercentage(pct); err != nil {
		return err
	}
	if brokerRef == "" {
		pct = decimal.Zero
	}
	s.terms = CommissionTerms{BrokerRef: brokerRef, Percentage: pct}
	s.recompute()
	return nil
}

// ── Commit / Cancel ───────────────────────────────────────────────────────────

// Validate reports whether the session may be committed. It returns ErrNoItems,
// ErrItemErrors, or the joined *FieldError values of rows missing a positive
// quantity, net weight or price.
func (s *EditSession) Validate() error {
	if len(s.working) == 0 {
		return ErrNoItems
	}
	if len(s.itemErrors) > 0 {
		rows := make([]int, 0, len(s.itemErrors))
		for i := range s.itemErrors {
			rows = append(rows, i)
		}
		sort.Ints(rows)
		first := rows[0]
		return fmt.Errorf("%w: %d row(s), first at item %d: %s", ErrItemErrors, len(rows), first+1, s.itemErrors[first])
	}

	var errs []error
	for i, item := range s.working {
		if !item.Quantity.IsPositive() {
			errs = append(errs, newFieldError(i, FieldQuantity, "Quantity must be greater than zero"))
		}
		if !item.NetWeight.IsPositive() {
			errs = append(errs, newFieldError(i, FieldNetWeight, "Net weight must be greater than zero"))
		}
		if !item.UnitPrice.IsPositive() {
			errs = append(errs, newFieldError(i, FieldUnitPrice, fmt.Sprintf("%s must be greater than zero", s.kind.PriceField())))
		}
	}
	return errors.Join(errs...)
}

// Payload validates the session and builds the update payload. Building it
// twice without intervening edits yields identical payloads.
func (s *EditSession) Payload() (InvoiceUpdatePayload, error) {
	if err := s.ensureOpen(); err != nil {
		return InvoiceUpdatePayload{}, err
	}
	if err := s.Validate(); err != nil {
		return InvoiceUpdatePayload{}, err
	}

	t := s.totals
	p := InvoiceUpdatePayload{
		InvoiceID:       s.invoiceID,
		IdempotencyKey:  s.idempotencyKey,
		Kind:            s.kind.Name(),
		PartyRef:        s.partyRef,
		Items:           cloneItems(s.working),
		OriginalItems:   cloneItems(s.original),
		Subtotal:        t.Subtotal,
		AncillaryCost:   s.ancillaryCost,
		TotalAmount:     t.TotalAmount,
		PaidAmount:      t.PaidAmount,
		RemainingAmount: t.RemainingAmount,
		PaymentStatus:   t.PaymentStatus,
	}
	if s.kind.CommissionApplies() {
		amount := t.CommissionAmount
		pct := s.terms.Percentage
		p.CommissionAmount = &amount
		p.CommissionPercentage = &pct
		p.BrokerRef = s.terms.BrokerRef
	}
	return p, nil
}

// Commit validates the session and hands the payload to committer. On success
// the session is closed and the persisted invoice id returned. A committer
// failure is returned as a *CollaboratorError and the session stays open and
// unchanged, so the caller may retry with the same idempotency key or cancel.
func (s *EditSession) Commit(ctx context.Context, committer InvoiceCommitter) (int, error) {
	payload, err := s.Payload()
	if err != nil {
		return 0, err
	}

	id, err := committer.CommitInvoiceUpdate(ctx, payload)
	if err != nil {
		return 0, collaboratorError("commit invoice update", err)
	}

	s.invoiceID = id
	s.state = SessionCommitted
	return id, nil
}

// Cancel discards the working copy. The original items are untouched.
func (s *EditSession) Cancel() error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.working = nil
	s.itemErrors = make(map[int]string)
	s.state = SessionCancelled
	s.recompute()
	return nil
}

// ── Internals ─────────────────────────────────────────────────────────────────

func (s *EditSession) ensureOpen() error {
	if s.state != SessionOpen {
		return fmt.Errorf("%w (%s)", ErrSessionClosed, s.state)
	}
	return nil
}

func (s *EditSession) checkIndex(index int) error {
	if index < 0 || index >= len(s.working) {
		return fmt.Errorf("%w: %d (items: %d)", ErrIndexOutOfRange, index, len(s.working))
	}
	return nil
}

func (s *EditSession) indexOf(itemRef string) int {
	for i, item := range s.working {
		if item.ItemRef == itemRef {
			return i
		}
	}
	return -1
}

// revalidate recomputes the stock errors of every row sharing the item ref of
// the given row.
func (s *EditSession) revalidate(index int) {
	s.revalidateRef(s.working[index].ItemRef)
}

// revalidateRef checks the combined change of all rows carrying itemRef
// against stock. Each row is measured against the part of the ref's baseline
// not already claimed by its siblings, so an overdraw is reported on every row
// of the ref and clears on all of them once any row is fixed.
func (s *EditSession) revalidateRef(itemRef string) {
	var rows []int
	drawn := LineItem{ItemRef: itemRef}
	for i, item := range s.working {
		if item.ItemRef == itemRef {
			rows = append(rows, i)
			drawn = addStock(drawn, item, 1)
		}
	}
	for _, i := range rows {
		delete(s.itemErrors, i)
		row := s.working[i]
		base := unclaimedBaseline(s.baseline[itemRef], drawn, row)
		if fe := ValidateItemDelta(s.kind, i, base, row, s.inventory); fe != nil {
			s.itemErrors[i] = fe.Message
		}
	}
}

func (s *EditSession) recompute() {
	s.totals = Recompute(s.kind, s.working, s.ancillaryCost, s.paidAmount, s.terms, s.policy)
}

func checkFieldValue(index int, field Field, v decimal.Decimal) error {
	if v.IsNegative() {
		return newFieldError(index, field, fmt.Sprintf("%s cannot be negative", field))
	}
	if field == FieldQuantity && !v.IsInteger() {
		return newFieldError(index, field, "Quantity must be a whole number")
	}
	if exceedsPlaces(v, field.places()) {
		return newFieldError(index, field, fmt.Sprintf("%s allows at most %d decimal places", field, field.places()))
	}
	return nil
}

func checkMoney(name string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: %s %s", ErrNegativeAmount, name, v)
	}
	if exceedsPlaces(v, moneyPlaces) {
		return fmt.Errorf("%w: %s %s allows at most %d", ErrTooPrecise, name, v, moneyPlaces)
	}
	return nil
}
