package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxAdjuster applies signed stock deltas inside a caller-owned
// transaction so a ledger document and its stock effect commit together.
// It is a dumb delta applier: the conditional update is the only guard,
// callers decide which deltas are legal for their document type.
type TxAdjuster struct{}

const productColumns = `id, name, sku, quantity, min_stock, low_stock_alert, sale_price, purchase_price, updated_at`

// Adjust atomically increments the product quantity by delta. Negative
// deltas that would drive quantity below zero fail with
// InsufficientStockError; the check and the write are a single statement,
// so two concurrent sales cannot both pass the stock check.
func (TxAdjuster) Adjust(ctx context.Context, tx pgx.Tx, productID int64, delta float64, ref MovementRef) (Product, error) {
	var p Product
	err := tx.QueryRow(ctx, `
		UPDATE products
		SET quantity = quantity + $2,
		    low_stock_alert = (quantity + $2) <= min_stock,
		    updated_at = NOW()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING `+productColumns,
		productID, delta).Scan(
		&p.ID, &p.Name, &p.SKU, &p.Quantity, &p.MinStock, &p.LowStockAlert,
		&p.SalePrice, &p.PurchasePrice, &p.UpdatedAt)
	if err == nil {
		if err := insertMovement(ctx, tx, productID, delta, ref); err != nil {
			return Product{}, err
		}
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("inventory: adjust product %d: %w", productID, err)
	}

	// No row updated: distinguish a missing product from the stock guard.
	current, err := GetProduct(ctx, tx, productID)
	if err != nil {
		return Product{}, err
	}
	return Product{}, &InsufficientStockError{
		ProductID:   current.ID,
		ProductName: current.Name,
		Available:   current.Quantity,
		Requested:   -delta,
	}
}

// GetProduct loads a product row via any pgx querier.
func GetProduct(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, productID int64) (Product, error) {
	var p Product
	err := q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID).Scan(
		&p.ID, &p.Name, &p.SKU, &p.Quantity, &p.MinStock, &p.LowStockAlert,
		&p.SalePrice, &p.PurchasePrice, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, &ProductNotFoundError{ProductID: productID}
		}
		return Product{}, fmt.Errorf("inventory: get product %d: %w", productID, err)
	}
	return p, nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, productID int64, delta float64, ref MovementRef) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, qty, unit_cost, ref_module, ref_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		productID, string(ref.Type), delta, ref.UnitCost, ref.Module, ref.DocID, ref.ActorID)
	if err != nil {
		return fmt.Errorf("inventory: insert movement: %w", err)
	}
	return nil
}
