package inventory

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// MovementType enumerates stock movement causes.
type MovementType string

const (
	// MovementTypeSale is the outbound movement of an invoice line.
	MovementTypeSale MovementType = "SALE"
	// MovementTypeRefund restores stock from a credit note line.
	MovementTypeRefund MovementType = "REFUND"
	// MovementTypePurchase is the inbound movement of a supplier purchase.
	MovementTypePurchase MovementType = "PURCHASE"
	// MovementTypeReversal undoes a prior movement when its document is
	// cancelled or deleted.
	MovementTypeReversal MovementType = "REVERSAL"
	// MovementTypeAdjust indicates a manual correction.
	MovementTypeAdjust MovementType = "ADJUST"
)

// Product is the slice of the catalogue the ledger needs: on-hand
// quantity and prices. Quantity is only ever mutated by delta.
type Product struct {
	ID            int64
	Name          string
	SKU           string
	Quantity      float64
	MinStock      float64
	LowStockAlert bool
	SalePrice     float64
	PurchasePrice float64
	UpdatedAt     time.Time
}

// Movement is an immutable entry in the stock movement log. Reversals
// create inverse entries, movements are never edited.
type Movement struct {
	ID        int64
	ProductID int64
	Type      MovementType
	Qty       float64
	UnitCost  float64
	RefModule string
	RefID     string
	ActorID   int64
	CreatedAt time.Time
}

// MovementRef identifies the ledger document that caused an adjustment.
type MovementRef struct {
	Type     MovementType
	Module   string
	DocID    string
	UnitCost float64
	ActorID  int64
}

// InsufficientStockError reports a sale that would drive stock negative.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   float64
	Requested   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %q (id=%d): available %.2f, requested %.2f",
		e.ProductName, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return shared.ErrInsufficientStock }

// ProductNotFoundError reports a missing product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("inventory: product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return shared.ErrNotFound }
