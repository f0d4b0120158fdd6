package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
	Adjust(ctx context.Context, productID int64, delta float64, ref MovementRef) (Product, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the inventory contract consumed by external callers:
// product reads and manual delta adjustments. Ledger services bypass it
// and use TxAdjuster inside their own transactions.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// GetProduct returns the product's stock and price snapshot.
func (s *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	if productID == 0 {
		return Product{}, fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, productID)
}

// AdjustQuantity applies a manual signed delta to a product.
func (s *Service) AdjustQuantity(ctx context.Context, productID int64, delta float64, note string) (Product, error) {
	if productID == 0 {
		return Product{}, fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	if math.Abs(delta) < 1e-9 {
		return Product{}, fmt.Errorf("%w: delta must be non zero", shared.ErrValidation)
	}
	actorID := shared.ActorFromContext(ctx)
	product, err := s.repo.Adjust(ctx, productID, delta, MovementRef{
		Type:    MovementTypeAdjust,
		Module:  "inventory",
		ActorID: actorID,
	})
	if err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory:adjust",
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", productID),
			Meta:     map[string]any{"delta": delta, "note": note},
		})
	}
	return product, nil
}

// GetMovements lists the movement log for a product, newest first.
func (s *Service) GetMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if productID == 0 {
		return nil, fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

// IsInsufficientStock reports whether err is a stock guard failure.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, shared.ErrInsufficientStock)
}
