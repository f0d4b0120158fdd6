package creditnote

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/invoicing"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// Status is the credit note lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusCancelled Status = "cancelled"
)

// RefundMethod enumerates how the refund is returned to the customer.
type RefundMethod string

const (
	RefundMethodCash        RefundMethod = "cash"
	RefundMethodCard        RefundMethod = "card_reversal"
	RefundMethodStoreCredit RefundMethod = "store_credit"
	RefundMethodTransfer    RefundMethod = "transfer"
)

// Reason codes carried on the note; Detail holds the free text.
const (
	ReasonProductReturn = "product_return"
	ReasonDefective     = "defective_product"
	ReasonPriceError    = "price_error"
	ReasonOther         = "other"
)

// LineItem mirrors the refunded slice of an invoice line.
type LineItem struct {
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   float64    `json:"unitPrice"`
	Discount    float64    `json:"discount"`
	Taxes       []tax.Line `json:"taxes,omitempty"`
	TaxAmount   float64    `json:"taxAmount"`
	Subtotal    float64    `json:"subtotal"`
}

// CreditNote is a formal reversal of part or all of one invoice.
type CreditNote struct {
	ID           string
	BusinessID   int64
	Number       string
	FiscalNumber string
	InvoiceID    string
	Reason       string
	Detail       string
	Items        []LineItem
	Subtotal     float64
	Discount     float64
	TaxLines     []tax.Line
	TaxAmount    float64
	Total        float64
	RefundMethod RefundMethod
	Status       Status
	FiscalStatus invoicing.FiscalStatus
	CancelReason string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemInput requests a refund quantity for one invoice line.
type ItemInput struct {
	ProductID int64
	Quantity  float64
}

// CreateInput carries a refund request against an invoice.
type CreateInput struct {
	InvoiceID    string
	Items        []ItemInput
	Reason       string
	Detail       string
	RefundMethod RefundMethod
	Fiscal       bool
}

// Validate checks structural coherence.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.InvoiceID) == "" {
		return fmt.Errorf("%w: invoice id required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("%w: reason required", shared.ErrValidation)
	}
	switch in.RefundMethod {
	case RefundMethodCash, RefundMethodCard, RefundMethodStoreCredit, RefundMethodTransfer:
	default:
		return fmt.Errorf("%w: unknown refund method %q", shared.ErrValidation, in.RefundMethod)
	}
	for i, item := range in.Items {
		if item.ProductID == 0 {
			return fmt.Errorf("%w: item %d: product id required", shared.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i)
		}
	}
	return nil
}

// OverRefundError reports a refund quantity exceeding what was sold,
// counting refunds already granted by earlier credit notes.
type OverRefundError struct {
	ProductID       int64
	SoldQuantity    float64
	AlreadyRefunded float64
	Requested       float64
}

func (e *OverRefundError) Error() string {
	return fmt.Sprintf("creditnote: product %d: requested refund of %.2f exceeds sold %.2f (already refunded %.2f)",
		e.ProductID, e.Requested, e.SoldQuantity, e.AlreadyRefunded)
}

func (e *OverRefundError) Unwrap() error { return shared.ErrOverRefund }

// NotFoundError reports a missing credit note.
type NotFoundError struct {
	CreditNoteID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("creditnote: credit note %s not found", e.CreditNoteID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }

// StateError reports a forbidden lifecycle transition.
type StateError struct {
	CreditNoteID string
	Current      Status
	Attempted    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("creditnote: cannot %s credit note %s in state %q", e.Attempted, e.CreditNoteID, e.Current)
}

func (e *StateError) Unwrap() error { return shared.ErrInvalidStateTransition }
