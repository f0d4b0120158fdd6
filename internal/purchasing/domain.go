package purchasing

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// Status is the purchase payment lifecycle. The vocabulary is kept in
// Spanish to stay wire-compatible with the systems that consume it.
type Status string

const (
	StatusPendiente Status = "pendiente"
	StatusParcial   Status = "parcial"
	StatusPagada    Status = "pagada"
	StatusCancelada Status = "cancelada"
)

// DeriveStatus is the pure function of balance vs total.
func DeriveStatus(balance, total float64) Status {
	switch {
	case balance <= 0:
		return StatusPagada
	case balance < total:
		return StatusParcial
	default:
		return StatusPendiente
	}
}

// Supplier is the creditor side of a purchase. Debt is the incrementally
// maintained sum of balances across its non-cancelled purchases.
type Supplier struct {
	ID   int64
	Name string
	Debt float64
}

// LineItem is one purchased product line.
type LineItem struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    float64 `json:"quantity"`
	UnitCost    float64 `json:"unitCost"`
	LineTotal   float64 `json:"lineTotal"`
}

// Payment is one installment against a purchase.
type Payment struct {
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Reference string    `json:"reference,omitempty"`
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actorId"`
}

// Purchase is a supplier purchase on credit terms, tracked until paid.
type Purchase struct {
	ID         string
	BusinessID int64
	Number     string
	SupplierID int64
	Items      []LineItem
	Subtotal   float64
	Discount   float64
	TaxLines   []tax.Line
	TaxAmount  float64
	Total      float64
	Balance    float64
	Payments   []Payment
	Status     Status
	Detail     string
	DueAt      *time.Time
	CreatedBy  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PaidTotal sums the purchase's payments.
func (p Purchase) PaidTotal() float64 {
	var sum float64
	for _, pay := range p.Payments {
		sum += pay.Amount
	}
	return tax.Round2(sum)
}

// ItemInput requests one purchased line.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	UnitCost  float64
}

// CreateInput carries a new credit purchase.
type CreateInput struct {
	BusinessID int64
	SupplierID int64
	Items      []ItemInput
	Discount   float64
	Taxes      []tax.Rate
	Detail     string
	DueAt      *time.Time
}

// Validate checks structural coherence.
func (in CreateInput) Validate() error {
	if in.BusinessID == 0 {
		return fmt.Errorf("%w: business id required", shared.ErrValidation)
	}
	if in.SupplierID == 0 {
		return fmt.Errorf("%w: supplier id required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if in.Discount < 0 {
		return fmt.Errorf("%w: discount cannot be negative", shared.ErrValidation)
	}
	for i, item := range in.Items {
		if item.ProductID == 0 {
			return fmt.Errorf("%w: item %d: product id required", shared.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i)
		}
		if item.UnitCost < 0 {
			return fmt.Errorf("%w: item %d: unit cost cannot be negative", shared.ErrValidation, i)
		}
	}
	return nil
}

// PaymentInput carries one installment.
type PaymentInput struct {
	Amount    float64
	Method    string
	Reference string
}

// Validate checks the installment.
func (in PaymentInput) Validate() error {
	if in.Amount <= 0 {
		return fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Method) == "" {
		return fmt.Errorf("%w: payment method required", shared.ErrValidation)
	}
	return nil
}

// UpdateInput carries a partial edit. A nil field is left untouched.
type UpdateInput struct {
	Total  *float64
	Detail *string
	DueAt  *time.Time
}

// ReconcileResult reports a supplier debt reconciliation pass.
type ReconcileResult struct {
	SupplierID   int64   `json:"supplierId"`
	StoredDebt   float64 `json:"storedDebt"`
	ComputedDebt float64 `json:"computedDebt"`
	Divergence   float64 `json:"divergence"`
	Corrected    bool    `json:"corrected"`
}

// NotFoundError reports a missing purchase.
type NotFoundError struct {
	PurchaseID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("purchasing: purchase %s not found", e.PurchaseID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }

// SupplierNotFoundError reports a missing supplier.
type SupplierNotFoundError struct {
	SupplierID int64
}

func (e *SupplierNotFoundError) Error() string {
	return fmt.Sprintf("purchasing: supplier %d not found", e.SupplierID)
}

func (e *SupplierNotFoundError) Unwrap() error { return shared.ErrNotFound }

// OverpaymentError reports an installment exceeding the open balance.
type OverpaymentError struct {
	PurchaseID string
	Balance    float64
	Requested  float64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("purchasing: payment of %.2f exceeds balance %.2f on purchase %s",
		e.Requested, e.Balance, e.PurchaseID)
}

func (e *OverpaymentError) Unwrap() error { return shared.ErrOverpayment }

// StateError reports a forbidden lifecycle transition.
type StateError struct {
	PurchaseID string
	Current    Status
	Attempted  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("purchasing: cannot %s purchase %s in state %q", e.Attempted, e.PurchaseID, e.Current)
}

func (e *StateError) Unwrap() error { return shared.ErrInvalidStateTransition }
