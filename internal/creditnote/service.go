package creditnote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/dailyreport"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoicing"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// TxRepository groups the writes of one credit note event: the note, its
// stock restoration, the invoice refund rollup, and the daily report
// increments, all committed together.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, invoiceID string) (invoicing.Invoice, error)
	UpdateInvoiceRefunds(ctx context.Context, invoiceID string, refunds []invoicing.RefundRecord, status invoicing.Status, at time.Time) error
	// RefundedQuantities sums refunded quantities per product across the
	// invoice's non-cancelled credit notes.
	RefundedQuantities(ctx context.Context, invoiceID string) (map[int64]float64, error)
	AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error)
	NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error)
	InsertCreditNote(ctx context.Context, note CreditNote) error
	GetCreditNoteForUpdate(ctx context.Context, id string) (CreditNote, error)
	MarkCancelled(ctx context.Context, id, reason string, at time.Time) error
	RecordReportRefund(ctx context.Context, businessID int64, total float64, at time.Time) (bool, error)
	AppendReportMovement(ctx context.Context, businessID int64, entry dailyreport.MovementEntry) (bool, error)
}

// RepositoryPort defines data access for the credit note engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCreditNote(ctx context.Context, id string) (CreditNote, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]CreditNote, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FiscalQueue enqueues fiscal submissions.
type FiscalQueue interface {
	EnqueueSubmission(ctx context.Context, docType, docID string) error
}

// Service creates and cancels credit notes against invoices.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	fiscal FiscalQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, fiscal FiscalQueue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, fiscal: fiscal, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateCreditNote validates refund quantities against the referenced
// invoice, restores stock, and rolls the refund into the invoice's state.
func (s *Service) CreateCreditNote(ctx context.Context, in CreateInput) (CreditNote, error) {
	if err := in.Validate(); err != nil {
		return CreditNote{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)

	note := CreditNote{
		ID:           uuid.NewString(),
		InvoiceID:    in.InvoiceID,
		Reason:       in.Reason,
		Detail:       in.Detail,
		RefundMethod: in.RefundMethod,
		Status:       StatusProcessed,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Fiscal {
		note.FiscalStatus = invoicing.FiscalStatusPending
	} else {
		note.FiscalStatus = invoicing.FiscalStatusNotFiscal
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoicing.StatusCancelled {
			return fmt.Errorf("%w: invoice %s is cancelled", shared.ErrInvalidStateTransition, inv.ID)
		}
		note.BusinessID = inv.BusinessID

		refunded, err := tx.RefundedQuantities(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		rates := ratesFromLines(inv.TaxLines)
		for _, item := range in.Items {
			line, ok := findLine(inv.Items, item.ProductID)
			if !ok {
				return fmt.Errorf("%w: product %d is not on invoice %s", shared.ErrValidation, item.ProductID, inv.ID)
			}
			already := refunded[item.ProductID]
			if item.Quantity+already > line.Quantity {
				return &OverRefundError{
					ProductID:       item.ProductID,
					SoldQuantity:    line.Quantity,
					AlreadyRefunded: already,
					Requested:       item.Quantity,
				}
			}

			// Discount is refunded pro rata with the quantity. Tax is
			// recomputed from the credit note's own subtotal at the
			// invoice's original rates, not as a fraction of the original
			// tax amount; with per-item discounts this is a documented
			// approximation of a strict pro-rata refund.
			discount := tax.Round2(line.Discount * item.Quantity / line.Quantity)
			subtotal := tax.Round2(line.UnitPrice*item.Quantity - discount)
			lineTax, err := tax.Compute(subtotal, rates)
			if err != nil {
				return err
			}

			if _, err := tx.AdjustStock(ctx, item.ProductID, item.Quantity, inventory.MovementRef{
				Type:    inventory.MovementTypeRefund,
				Module:  "creditnote",
				DocID:   note.ID,
				ActorID: actorID,
			}); err != nil {
				return err
			}

			note.Items = append(note.Items, LineItem{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   line.UnitPrice,
				Discount:    discount,
				Taxes:       lineTax.Lines,
				TaxAmount:   lineTax.TaxAmount,
				Subtotal:    subtotal,
			})
			note.Subtotal = tax.Round2(note.Subtotal + subtotal)
			note.Discount = tax.Round2(note.Discount + discount)
		}

		breakdown, err := tax.Compute(note.Subtotal, rates)
		if err != nil {
			return err
		}
		note.TaxLines = breakdown.Lines
		note.TaxAmount = breakdown.TaxAmount
		note.Total = tax.Round2(note.Subtotal + note.TaxAmount)

		seq, err := tx.NextNumber(ctx, inv.BusinessID, shared.DocTypeCreditNote, now)
		if err != nil {
			return err
		}
		note.Number = shared.FormatNumber(shared.DocTypeCreditNote, inv.BusinessID, seq)

		if err := tx.InsertCreditNote(ctx, note); err != nil {
			return err
		}

		refunds := append(inv.Refunds, invoicing.RefundRecord{
			CreditNoteID: note.ID,
			Amount:       note.Total,
			Reason:       in.Reason,
			At:           now,
			ActorID:      actorID,
		})
		status := invoicing.StatusAfterRefunds(inv.Total, refunds)
		if err := tx.UpdateInvoiceRefunds(ctx, inv.ID, refunds, status, now); err != nil {
			return err
		}

		if _, err := tx.RecordReportRefund(ctx, inv.BusinessID, note.Total, now); err != nil {
			return err
		}
		for _, item := range note.Items {
			if _, err := tx.AppendReportMovement(ctx, inv.BusinessID, dailyreport.MovementEntry{
				Type:      string(inventory.MovementTypeRefund),
				ProductID: item.ProductID,
				Qty:       item.Quantity,
				Cost:      item.Subtotal,
				At:        now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CreditNote{}, err
	}

	if note.FiscalStatus == invoicing.FiscalStatusPending && s.fiscal != nil {
		if err := s.fiscal.EnqueueSubmission(ctx, "credit_note", note.ID); err != nil {
			s.logger.Warn("enqueue fiscal submission", slog.String("credit_note", note.ID), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, actorID, "creditnote:create", note.ID, map[string]any{
		"invoice": note.InvoiceID,
		"total":   note.Total,
		"reason":  note.Reason,
	})
	return note, nil
}

// CancelCreditNote reverses the note's stock restoration and removes its
// refund record from the invoice.
func (s *Service) CancelCreditNote(ctx context.Context, id, reason string) (CreditNote, error) {
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var cancelled CreditNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.GetCreditNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if note.Status == StatusCancelled {
			return &StateError{CreditNoteID: id, Current: note.Status, Attempted: "cancel"}
		}
		if note.FiscalStatus == invoicing.FiscalStatusApproved {
			return fmt.Errorf("%w: credit note %s is fiscally approved", shared.ErrInvalidStateTransition, id)
		}

		// Re-remove the stock the note had put back; the conditional
		// decrement fails if it was already sold on.
		for _, item := range note.Items {
			if _, err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity, inventory.MovementRef{
				Type:    inventory.MovementTypeReversal,
				Module:  "creditnote",
				DocID:   note.ID,
				ActorID: actorID,
			}); err != nil {
				return err
			}
		}

		inv, err := tx.GetInvoiceForUpdate(ctx, note.InvoiceID)
		if err != nil {
			return err
		}
		refunds := removeRefund(inv.Refunds, note.ID)
		status := invoicing.StatusAfterRefunds(inv.Total, refunds)
		if err := tx.UpdateInvoiceRefunds(ctx, inv.ID, refunds, status, now); err != nil {
			return err
		}

		if err := tx.MarkCancelled(ctx, id, reason, now); err != nil {
			return err
		}
		note.Status = StatusCancelled
		note.CancelReason = reason
		note.UpdatedAt = now
		cancelled = note
		return nil
	})
	if err != nil {
		return CreditNote{}, err
	}
	s.recordAudit(ctx, actorID, "creditnote:cancel", id, map[string]any{"reason": reason})
	return cancelled, nil
}

// GetCreditNote loads one credit note.
func (s *Service) GetCreditNote(ctx context.Context, id string) (CreditNote, error) {
	return s.repo.GetCreditNote(ctx, id)
}

// ListByInvoice returns the credit notes issued against an invoice.
func (s *Service) ListByInvoice(ctx context.Context, invoiceID string) ([]CreditNote, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "credit_note",
		EntityID: entityID,
		Meta:     meta,
	})
}

func findLine(items []invoicing.LineItem, productID int64) (invoicing.LineItem, bool) {
	for _, line := range items {
		if line.ProductID == productID {
			return line, true
		}
	}
	return invoicing.LineItem{}, false
}

func ratesFromLines(lines []tax.Line) []tax.Rate {
	rates := make([]tax.Rate, 0, len(lines))
	for _, l := range lines {
		rates = append(rates, tax.Rate{Name: l.Name, Rate: l.Rate})
	}
	return rates
}

func removeRefund(refunds []invoicing.RefundRecord, creditNoteID string) []invoicing.RefundRecord {
	out := make([]invoicing.RefundRecord, 0, len(refunds))
	for _, r := range refunds {
		if r.CreditNoteID != creditNoteID {
			out = append(out, r)
		}
	}
	return out
}
