package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// TxRepository groups the writes of one purchase ledger event: the
// purchase row, its stock deltas, and the supplier debt delta, all
// committed together.
type TxRepository interface {
	GetSupplierForUpdate(ctx context.Context, supplierID int64) (Supplier, error)
	// AdjustSupplierDebt applies a signed delta to the supplier's
	// aggregate debt. Every balance mutation applies the same delta here.
	AdjustSupplierDebt(ctx context.Context, supplierID int64, delta float64, at time.Time) error
	SetSupplierDebt(ctx context.Context, supplierID int64, debt float64, at time.Time) error
	AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error)
	NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error)
	InsertPurchase(ctx context.Context, p Purchase) error
	GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error)
	SavePurchase(ctx context.Context, p Purchase) error
	// ActiveBalanceSum totals balance across the supplier's
	// non-cancelled purchases.
	ActiveBalanceSum(ctx context.Context, supplierID int64) (float64, error)
}

// RepositoryPort defines data access for the purchase ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	ListBySupplier(ctx context.Context, supplierID int64) ([]Purchase, error)
	GetSupplier(ctx context.Context, supplierID int64) (Supplier, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains credit purchases and the supplier debt aggregate.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePurchase records a supplier purchase on credit: stock comes in,
// the full total goes onto the supplier's debt.
func (s *Service) CreatePurchase(ctx context.Context, in CreateInput) (Purchase, error) {
	if err := in.Validate(); err != nil {
		return Purchase{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)

	p := Purchase{
		ID:         uuid.NewString(),
		BusinessID: in.BusinessID,
		SupplierID: in.SupplierID,
		Discount:   in.Discount,
		Status:     StatusPendiente,
		Detail:     in.Detail,
		DueAt:      in.DueAt,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetSupplierForUpdate(ctx, in.SupplierID); err != nil {
			return err
		}

		for _, item := range in.Items {
			product, err := tx.AdjustStock(ctx, item.ProductID, item.Quantity, inventory.MovementRef{
				Type:     inventory.MovementTypePurchase,
				Module:   "purchasing",
				DocID:    p.ID,
				UnitCost: item.UnitCost,
				ActorID:  actorID,
			})
			if err != nil {
				return err
			}
			cost := item.UnitCost
			if cost == 0 {
				cost = product.PurchasePrice
			}
			lineTotal := tax.Round2(cost * item.Quantity)
			p.Items = append(p.Items, LineItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitCost:    cost,
				LineTotal:   lineTotal,
			})
			p.Subtotal = tax.Round2(p.Subtotal + lineTotal)
		}

		if in.Discount > p.Subtotal {
			return fmt.Errorf("%w: discount %.2f exceeds subtotal %.2f", shared.ErrValidation, in.Discount, p.Subtotal)
		}
		breakdown, err := tax.Compute(tax.Round2(p.Subtotal-p.Discount), in.Taxes)
		if err != nil {
			return err
		}
		p.TaxLines = breakdown.Lines
		p.TaxAmount = breakdown.TaxAmount
		p.Total = tax.Round2(p.Subtotal - p.Discount + p.TaxAmount)
		p.Balance = p.Total

		seq, err := tx.NextNumber(ctx, in.BusinessID, shared.DocTypePurchase, now)
		if err != nil {
			return err
		}
		p.Number = shared.FormatNumber(shared.DocTypePurchase, in.BusinessID, seq)

		if err := tx.InsertPurchase(ctx, p); err != nil {
			return err
		}
		return tx.AdjustSupplierDebt(ctx, in.SupplierID, p.Total, now)
	})
	if err != nil {
		return Purchase{}, err
	}

	s.recordAudit(ctx, actorID, "purchasing:create", p.ID, map[string]any{
		"supplier": p.SupplierID,
		"total":    p.Total,
	})
	return p, nil
}

// AddPayment applies an installment. The supplier's debt drops by the
// payment amount, not by the recomputed balance.
func (s *Service) AddPayment(ctx context.Context, id string, in PaymentInput) (Purchase, error) {
	if err := in.Validate(); err != nil {
		return Purchase{}, err
	}
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var updated Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCancelada {
			return &StateError{PurchaseID: id, Current: p.Status, Attempted: "pay"}
		}
		if in.Amount > p.Balance+0.005 {
			return &OverpaymentError{PurchaseID: id, Balance: p.Balance, Requested: in.Amount}
		}

		p.Payments = append(p.Payments, Payment{
			Amount:    in.Amount,
			Method:    in.Method,
			Reference: in.Reference,
			At:        now,
			ActorID:   actorID,
		})
		p.Balance = tax.Round2(p.Total - p.PaidTotal())
		p.Status = DeriveStatus(p.Balance, p.Total)
		p.UpdatedAt = now
		if err := tx.SavePurchase(ctx, p); err != nil {
			return err
		}
		if err := tx.AdjustSupplierDebt(ctx, p.SupplierID, -in.Amount, now); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, actorID, "purchasing:payment", id, map[string]any{
		"amount":  in.Amount,
		"balance": updated.Balance,
	})
	return updated, nil
}

// UpdatePurchase edits a purchase. A total change shifts balance and
// supplier debt by the same delta, preserving what was already paid.
func (s *Service) UpdatePurchase(ctx context.Context, id string, in UpdateInput) (Purchase, error) {
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	var updated Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCancelada {
			return &StateError{PurchaseID: id, Current: p.Status, Attempted: "update"}
		}

		if in.Total != nil {
			newTotal := *in.Total
			if newTotal < 0 {
				return fmt.Errorf("%w: total cannot be negative", shared.ErrValidation)
			}
			if newTotal < p.PaidTotal() {
				return fmt.Errorf("%w: total %.2f is below paid amount %.2f", shared.ErrValidation, newTotal, p.PaidTotal())
			}
			delta := tax.Round2(newTotal - p.Total)
			p.Total = tax.Round2(newTotal)
			p.Balance = tax.Round2(p.Balance + delta)
			if err := tx.AdjustSupplierDebt(ctx, p.SupplierID, delta, now); err != nil {
				return err
			}
		}
		if in.Detail != nil {
			p.Detail = *in.Detail
		}
		if in.DueAt != nil {
			p.DueAt = in.DueAt
		}
		p.Status = DeriveStatus(p.Balance, p.Total)
		p.UpdatedAt = now
		if err := tx.SavePurchase(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, actorID, "purchasing:update", id, map[string]any{"total": updated.Total})
	return updated, nil
}

// DeletePurchase cancels a purchase: stock goes back out and the
// supplier's debt drops by the remaining balance, not the total.
func (s *Service) DeletePurchase(ctx context.Context, id string) error {
	now := s.now().UTC()
	actorID := shared.ActorFromContext(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCancelada {
			return &StateError{PurchaseID: id, Current: p.Status, Attempted: "delete"}
		}

		for _, item := range p.Items {
			if _, err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity, inventory.MovementRef{
				Type:     inventory.MovementTypeReversal,
				Module:   "purchasing",
				DocID:    p.ID,
				UnitCost: item.UnitCost,
				ActorID:  actorID,
			}); err != nil {
				return err
			}
		}
		if err := tx.AdjustSupplierDebt(ctx, p.SupplierID, -p.Balance, now); err != nil {
			return err
		}
		p.Status = StatusCancelada
		p.Balance = 0
		p.UpdatedAt = now
		return tx.SavePurchase(ctx, p)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "purchasing:delete", id, nil)
	return nil
}

// ReconcileSupplierDebt recomputes the supplier's debt from the balances
// of its active purchases and corrects the stored aggregate when the
// incremental bookkeeping has drifted.
func (s *Service) ReconcileSupplierDebt(ctx context.Context, supplierID int64) (ReconcileResult, error) {
	now := s.now().UTC()
	var result ReconcileResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		supplier, err := tx.GetSupplierForUpdate(ctx, supplierID)
		if err != nil {
			return err
		}
		computed, err := tx.ActiveBalanceSum(ctx, supplierID)
		if err != nil {
			return err
		}
		computed = tax.Round2(computed)
		result = ReconcileResult{
			SupplierID:   supplierID,
			StoredDebt:   supplier.Debt,
			ComputedDebt: computed,
			Divergence:   tax.Round2(supplier.Debt - computed),
		}
		if math.Abs(result.Divergence) < 0.005 {
			return nil
		}
		result.Corrected = true
		return tx.SetSupplierDebt(ctx, supplierID, computed, now)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if result.Corrected {
		s.logger.Warn("supplier debt drift corrected",
			slog.Int64("supplier", supplierID),
			slog.Float64("stored", result.StoredDebt),
			slog.Float64("computed", result.ComputedDebt))
	}
	return result, nil
}

// GetPurchase loads one purchase.
func (s *Service) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListBySupplier returns the supplier's purchases.
func (s *Service) ListBySupplier(ctx context.Context, supplierID int64) ([]Purchase, error) {
	return s.repo.ListBySupplier(ctx, supplierID)
}

// GetSupplier loads one supplier with its current debt.
func (s *Service) GetSupplier(ctx context.Context, supplierID int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, supplierID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "credit_purchase",
		EntityID: entityID,
		Meta:     meta,
	})
}
