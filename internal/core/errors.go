package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrFieldValidation marks a bad value on a single line item.
	ErrFieldValidation = errors.New("field validation failed")

	// ErrItemErrors is returned by Commit while any row has an outstanding error.
	ErrItemErrors = errors.New("invoice has unresolved item errors")

	// ErrNoItems is returned by Commit for an invoice without line items.
	ErrNoItems = errors.New("invoice must have at least one item")

	// ErrPaymentOutOfRange is returned when a payment is not within (0, remaining].
	ErrPaymentOutOfRange = errors.New("payment amount out of range")

	// ErrPaymentMethodRequired is returned when a payment has no method.
	ErrPaymentMethodRequired = errors.New("payment method is required")

	// ErrCommissionOutOfRange is returned for a commission percentage outside [0, 100].
	ErrCommissionOutOfRange = errors.New("commission percentage must be between 0 and 100")

	// ErrCommissionNotApplicable is returned when a broker is attached to a vendor invoice.
	ErrCommissionNotApplicable = errors.New("commission applies to customer invoices only")

	// ErrNegativeAmount is returned for a negative invoice-level amount.
	ErrNegativeAmount = errors.New("amount cannot be negative")

	// ErrTooPrecise is returned for an amount with more decimal places than is stored.
	ErrTooPrecise = errors.New("amount has too many decimal places")

	// ErrSessionClosed is returned by any mutation on a committed or cancelled session.
	ErrSessionClosed = errors.New("edit session is closed")

	// ErrIndexOutOfRange is returned for an item index that does not exist.
	ErrIndexOutOfRange = errors.New("item index out of range")

	// ErrUnknownField is returned for a field name that is not editable.
	ErrUnknownField = errors.New("unknown line item field")

	// ErrUnknownKind is returned for an invoice kind other than customer or vendor.
	ErrUnknownKind = errors.New("unknown invoice kind")

	// ErrUnknownPaymentStatus is returned for a status other than paid, partially_paid or pending.
	ErrUnknownPaymentStatus = errors.New("unknown payment status")

	// ErrCollaborator marks a failure of an external collaborator (inventory or persistence).
	ErrCollaborator = errors.New("collaborator call failed")
)

// FieldError reports an invalid value on one line item.
type FieldError struct {
	Index   int // -1 for a candidate that was never added
	Field   Field
	Message string
}

func (e *FieldError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("item %d: %s: %s", e.Index+1, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrFieldValidation
}

func newFieldError(index int, field Field, message string) *FieldError {
	return &FieldError{Index: index, Field: field, Message: message}
}

// CollaboratorError wraps a failure returned by an inventory or persistence call.
// The engine never retries; the underlying error is kept intact for the caller.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the marker and the original error.
func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaborator, e.Err}
}

func collaboratorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Err: err}
}

func unknownFieldError(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownField, name)
}
