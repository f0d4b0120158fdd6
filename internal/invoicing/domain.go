package invoicing

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// PaymentMethod enumerates how an invoice is settled.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodCredit   PaymentMethod = "credit"
)

// PaymentStatus is a pure function of paidAmount vs total (and the due
// date for credit invoices).
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusOverdue PaymentStatus = "overdue"
)

// FiscalStatus tracks the tax-authority sub-state, independent of the
// business status.
type FiscalStatus string

const (
	FiscalStatusNotFiscal FiscalStatus = "not_fiscal"
	FiscalStatusPending   FiscalStatus = "pending"
	FiscalStatusSent      FiscalStatus = "sent"
	FiscalStatusApproved  FiscalStatus = "approved"
	FiscalStatusRejected  FiscalStatus = "rejected"
	FiscalStatusCancelled FiscalStatus = "cancelled"
)

// Status is the overall invoice lifecycle state.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// CustomerSnapshot embeds the customer's identity at sale time. The
// invoice never points back at a mutable customer record.
type CustomerSnapshot struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
}

// LineItem is one sold product line with its own tax breakdown.
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

// RefundRecord is appended by the credit note engine. The credit note ID
// is the correlation key used when a credit note is cancelled.
type RefundRecord struct {
	CreditNoteID string    `json:"creditNoteId"`
	Amount       float64   `json:"amount"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
	ActorID      int64     `json:"actorId"`
}

// Invoice is a completed sale document.
type Invoice struct {
	ID            string
	BusinessID    int64
	Number        string
	FiscalNumber  string
	Customer      CustomerSnapshot
	Items         []LineItem
	Subtotal      float64
	Discount      float64
	TaxLines      []tax.Line
	TaxAmount     float64
	Total         float64
	PaymentMethod PaymentMethod
	PaidAmount    float64
	Change        float64
	PaymentStatus PaymentStatus
	FiscalStatus  FiscalStatus
	Status        Status
	Refunds       []RefundRecord
	CancelReason  string
	DueAt         *time.Time
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemInput is one requested line on a new invoice. UnitPrice zero means
// "use the product's sale price".
type ItemInput struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
	Discount  float64
}

// CreateInvoiceInput carries everything needed to create a sale.
type CreateInvoiceInput struct {
	BusinessID   int64
	Customer     CustomerSnapshot
	Items        []ItemInput
	Method       PaymentMethod
	CashReceived float64
	Taxes        []tax.Rate
	Fiscal       bool
	DueAt        *time.Time
}

// Validate checks structural coherence before any persistence happens.
func (in CreateInvoiceInput) Validate() error {
	if in.BusinessID == 0 {
		return fmt.Errorf("%w: business id required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	switch in.Method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodCredit:
	default:
		return fmt.Errorf("%w: unknown payment method %q", shared.ErrValidation, in.Method)
	}
	if in.CashReceived < 0 {
		return fmt.Errorf("%w: cash received must not be negative", shared.ErrValidation)
	}
	for i, item := range in.Items {
		if item.ProductID == 0 {
			return fmt.Errorf("%w: item %d: product id required", shared.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i)
		}
		if item.Discount < 0 {
			return fmt.Errorf("%w: item %d: discount must not be negative", shared.ErrValidation, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %d: unit price must not be negative", shared.ErrValidation, i)
		}
	}
	return nil
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	BusinessID int64
	Status     Status
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// OverpaymentError reports a payment exceeding the outstanding balance.
type OverpaymentError struct {
	InvoiceID   string
	Outstanding float64
	Requested   float64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("invoicing: payment %.2f exceeds outstanding %.2f on invoice %s",
		e.Requested, e.Outstanding, e.InvoiceID)
}

func (e *OverpaymentError) Unwrap() error { return shared.ErrOverpayment }

// StateError reports a forbidden lifecycle transition.
type StateError struct {
	InvoiceID string
	Current   Status
	Attempted string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invoicing: cannot %s invoice %s in state %q", e.Attempted, e.InvoiceID, e.Current)
}

func (e *StateError) Unwrap() error { return shared.ErrInvalidStateTransition }

// FiscalImmutableError reports an attempt to mutate a fiscally approved
// document; corrections must go through a credit note.
type FiscalImmutableError struct {
	InvoiceID string
}

func (e *FiscalImmutableError) Error() string {
	return fmt.Sprintf("invoicing: invoice %s is fiscally approved, issue a credit note instead", e.InvoiceID)
}

func (e *FiscalImmutableError) Unwrap() error { return shared.ErrInvalidStateTransition }

// NotFoundError reports a missing invoice.
type NotFoundError struct {
	InvoiceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("invoicing: invoice %s not found", e.InvoiceID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }

// DerivePaymentStatus is the pure paidAmount-vs-total function. Credit
// invoices past due with an outstanding balance are overdue.
func DerivePaymentStatus(paid, total float64, method PaymentMethod, dueAt *time.Time, now time.Time) PaymentStatus {
	switch {
	case total > 0 && paid >= total:
		return PaymentStatusPaid
	case method == PaymentMethodCredit && dueAt != nil && now.After(*dueAt):
		return PaymentStatusOverdue
	case paid > 0:
		return PaymentStatusPartial
	default:
		return PaymentStatusPending
	}
}

// RefundedTotal sums the refund records.
func RefundedTotal(refunds []RefundRecord) float64 {
	var sum float64
	for _, r := range refunds {
		sum += r.Amount
	}
	return sum
}

// StatusAfterRefunds recomputes the invoice status from its refunds.
// Cumulative refunds at or above the total flip the invoice to refunded.
func StatusAfterRefunds(total float64, refunds []RefundRecord) Status {
	refunded := RefundedTotal(refunds)
	switch {
	case len(refunds) == 0:
		return StatusCompleted
	case refunded >= total:
		return StatusRefunded
	default:
		return StatusPartiallyRefunded
	}
}
