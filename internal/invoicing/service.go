package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// TxRepository groups the writes that must commit atomically with an
// invoice: the document itself, its stock deltas, and the open daily
// report increments.
type TxRepository interface {
	AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error)
	NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error)
	UpdateInvoicePayment(ctx context.Context, id string, paid float64, status PaymentStatus, at time.Time) error
	MarkCancelled(ctx context.Context, id, reason string, at time.Time) error
	// RecordReportSale returns false when the business has no open
	// report; that is a skip, never an error.
	RecordReportSale(ctx context.Context, businessID int64, total float64, method PaymentMethod, at time.Time) (bool, error)
}

// RepositoryPort defines data access for the invoice engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	CountInvoices(ctx context.Context, filter ListFilter) (int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FiscalQueue enqueues fiscal submissions processed by the worker.
type FiscalQueue interface {
	EnqueueSubmission(ctx context.Context, docType, docID string) error
}

// Service creates invoices, tracks payment state, and cancels sales.
type Service struct {
	repo         RepositoryPort
	audit        AuditPort
	fiscal       FiscalQueue
	logger       *slog.Logger
	defaultRates []tax.Rate
	now          func() time.Time
}

// NewService builds Service. defaultRates apply when a sale submits no
// invoice-level tax list.
func NewService(repo RepositoryPort, audit AuditPort, fiscal FiscalQueue, logger *slog.Logger, defaultRates []tax.Rate) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		audit:        audit,
		fiscal:       fiscal,
		logger:       logger,
		defaultRates: defaultRates,
		now:          time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInvoice validates stock, computes totals, and persists the
// invoice together with its stock decrements and the daily report sale
// entry in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)

	inv := Invoice{
		ID:            uuid.NewString(),
		BusinessID:    in.BusinessID,
		Customer:      in.Customer,
		PaymentMethod: in.Method,
		DueAt:         in.DueAt,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	rates := in.Taxes
	if rates == nil {
		rates = s.defaultRates
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range in.Items {
			// The conditional decrement is the stock check: it fails
			// atomically when requested quantity exceeds on-hand stock.
			product, err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity, inventory.MovementRef{
				Type:    inventory.MovementTypeSale,
				Module:  "invoicing",
				DocID:   inv.ID,
				ActorID: actorID,
			})
			if err != nil {
				return err
			}

			price := item.UnitPrice
			if price == 0 {
				price = product.SalePrice
			}
			lineSubtotal := tax.Round2(price*item.Quantity - item.Discount)
			if lineSubtotal < 0 {
				return fmt.Errorf("%w: discount exceeds line amount for product %d", shared.ErrValidation, item.ProductID)
			}
			lineTax, err := tax.Compute(lineSubtotal, rates)
			if err != nil {
				return err
			}
			inv.Items = append(inv.Items, LineItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitPrice:   price,
				Discount:    item.Discount,
				Taxes:       lineTax.Lines,
				TaxAmount:   lineTax.TaxAmount,
				Subtotal:    lineSubtotal,
			})
			inv.Subtotal = tax.Round2(inv.Subtotal + lineSubtotal)
			inv.Discount = tax.Round2(inv.Discount + item.Discount)
		}

		breakdown, err := tax.Compute(inv.Subtotal, rates)
		if err != nil {
			return err
		}
		inv.TaxLines = breakdown.Lines
		inv.TaxAmount = breakdown.TaxAmount
		inv.Total = tax.Round2(inv.Subtotal + inv.TaxAmount)

		if in.Method == PaymentMethodCredit {
			inv.PaidAmount = 0
			inv.Change = 0
		} else {
			inv.PaidAmount = min(in.CashReceived, inv.Total)
			inv.Change = tax.Round2(max(0, in.CashReceived-inv.Total))
		}
		inv.PaymentStatus = DerivePaymentStatus(inv.PaidAmount, inv.Total, in.Method, in.DueAt, now)
		inv.Status = StatusCompleted
		if in.Fiscal {
			inv.FiscalStatus = FiscalStatusPending
		} else {
			inv.FiscalStatus = FiscalStatusNotFiscal
		}

		seq, err := tx.NextNumber(ctx, in.BusinessID, shared.DocTypeInvoice, now)
		if err != nil {
			return err
		}
		inv.Number = shared.FormatNumber(shared.DocTypeInvoice, in.BusinessID, seq)

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}

		recorded, err := tx.RecordReportSale(ctx, in.BusinessID, inv.Total, in.Method, now)
		if err != nil {
			return err
		}
		if !recorded {
			s.logger.Debug("no open daily report, sale not recorded", slog.String("invoice", inv.ID))
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	if inv.FiscalStatus == FiscalStatusPending && s.fiscal != nil {
		// Post-commit: the worker retries; a pending sweep picks up
		// anything that failed to enqueue.
		if err := s.fiscal.EnqueueSubmission(ctx, "invoice", inv.ID); err != nil {
			s.logger.Warn("enqueue fiscal submission", slog.String("invoice", inv.ID), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, actorID, "invoicing:create", inv.ID, map[string]any{
		"number": inv.Number,
		"total":  inv.Total,
		"method": string(inv.PaymentMethod),
	})
	return inv, nil
}

// AddPayment applies a partial or final payment to an invoice.
func (s *Service) AddPayment(ctx context.Context, invoiceID string, amount float64) (Invoice, error) {
	if amount <= 0 {
		return Invoice{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	now := s.now().UTC()
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled || inv.Status == StatusRefunded {
			return &StateError{InvoiceID: invoiceID, Current: inv.Status, Attempted: "pay"}
		}
		outstanding := tax.Round2(inv.Total - inv.PaidAmount)
		if amount > outstanding {
			return &OverpaymentError{InvoiceID: invoiceID, Outstanding: outstanding, Requested: amount}
		}
		inv.PaidAmount = tax.Round2(inv.PaidAmount + amount)
		inv.PaymentStatus = DerivePaymentStatus(inv.PaidAmount, inv.Total, inv.PaymentMethod, inv.DueAt, now)
		inv.UpdatedAt = now
		if err := tx.UpdateInvoicePayment(ctx, invoiceID, inv.PaidAmount, inv.PaymentStatus, now); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, shared.ActorFromContext(ctx), "invoicing:payment", invoiceID, map[string]any{"amount": amount})
	return updated, nil
}

// CancelInvoice reverses the sale's stock decrements and marks the
// invoice cancelled. Fiscally approved invoices are immutable, and an
// invoice with any refunds is past cancelling: the credit notes
// already restored their stock, so a cancel on top would restore it
// twice. The correction path for those is another credit note.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID, reason string) (Invoice, error) {
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCancelled, StatusRefunded, StatusPartiallyRefunded:
			return &StateError{InvoiceID: invoiceID, Current: inv.Status, Attempted: "cancel"}
		}
		if inv.FiscalStatus == FiscalStatusApproved {
			return &FiscalImmutableError{InvoiceID: invoiceID}
		}
		for _, item := range inv.Items {
			if _, err := tx.AdjustStock(ctx, item.ProductID, item.Quantity, inventory.MovementRef{
				Type:    inventory.MovementTypeReversal,
				Module:  "invoicing",
				DocID:   inv.ID,
				ActorID: actorID,
			}); err != nil {
				return err
			}
		}
		if err := tx.MarkCancelled(ctx, invoiceID, reason, now); err != nil {
			return err
		}
		inv.Status = StatusCancelled
		inv.CancelReason = reason
		inv.UpdatedAt = now
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actorID, "invoicing:cancel", invoiceID, map[string]any{"reason": reason})
	return updated, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns one page of invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error) {
	total, err := s.repo.CountInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	invoices, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, page, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: entityID,
		Meta:     meta,
	})
}
