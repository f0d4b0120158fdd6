package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists products and movements in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	adjuster TxAdjuster
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct loads a product.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return GetProduct(ctx, r.pool, productID)
}

// Adjust applies the delta inside its own transaction.
func (r *Repository) Adjust(ctx context.Context, productID int64, delta float64, ref MovementRef) (Product, error) {
	var product Product
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var e error
		product, e = r.adjuster.Adjust(ctx, tx, productID, delta, ref)
		return e
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// ListMovements returns the newest movement entries for a product.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, movement_type, qty, unit_cost, ref_module, ref_id, actor_id, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Qty, &m.UnitCost, &m.RefModule, &m.RefID, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
