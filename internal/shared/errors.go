package shared

import "errors"

// Sentinel errors shared across the ledger packages. Domain packages wrap
// these with document and amount context so the HTTP boundary can map them
// while the detail still names the offending product, amount, or state.
var (
	// ErrNotFound indicates a missing invoice, credit note, purchase,
	// product, supplier, or report.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or incoherent input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a sale would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverRefund indicates a credit note exceeds the sold quantity.
	ErrOverRefund = errors.New("refund exceeds sold quantity")
	// ErrOverpayment indicates a payment exceeds the outstanding balance.
	ErrOverpayment = errors.New("payment exceeds outstanding balance")
	// ErrInvalidStateTransition indicates the requested lifecycle change
	// is not allowed from the document's current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrDuplicateOpenReport indicates an open daily report already
	// exists for the business and calendar day.
	ErrDuplicateOpenReport = errors.New("open daily report already exists")
)
