package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryRepo struct {
	products  map[int64]Product
	movements []Movement
}

func newMemoryRepo(products ...Product) *memoryRepo {
	r := &memoryRepo{products: make(map[int64]Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *memoryRepo) GetProduct(ctx context.Context, productID int64) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, &ProductNotFoundError{ProductID: productID}
	}
	return p, nil
}

func (r *memoryRepo) Adjust(ctx context.Context, productID int64, delta float64, ref MovementRef) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, &ProductNotFoundError{ProductID: productID}
	}
	if p.Quantity+delta < 0 {
		return Product{}, &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Available: p.Quantity, Requested: -delta}
	}
	p.Quantity += delta
	p.LowStockAlert = p.Quantity <= p.MinStock
	r.products[productID] = p
	r.movements = append(r.movements, Movement{ProductID: productID, Type: ref.Type, Qty: delta})
	return p, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestAdjustQuantity(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Name: "Widget", Quantity: 10, MinStock: 2})
	svc := NewService(repo, nil)
	ctx := context.Background()

	p, err := svc.AdjustQuantity(ctx, 1, -3, "shrinkage")
	require.NoError(t, err)
	require.InDelta(t, 7, p.Quantity, 0.001)
	require.False(t, p.LowStockAlert)
}

func TestAdjustQuantityLowStockFlag(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Name: "Widget", Quantity: 5, MinStock: 4})
	svc := NewService(repo, nil)

	p, err := svc.AdjustQuantity(context.Background(), 1, -2, "")
	require.NoError(t, err)
	require.True(t, p.LowStockAlert)
}

func TestAdjustQuantityGuard(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Name: "Widget", Quantity: 2})
	svc := NewService(repo, nil)

	_, err := svc.AdjustQuantity(context.Background(), 1, -3, "")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.True(t, IsInsufficientStock(err))

	// Guard failure leaves stock unchanged.
	p, err := svc.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	require.InDelta(t, 2, p.Quantity, 0.001)
}

func TestAdjustQuantityValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.AdjustQuantity(context.Background(), 0, 1, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.AdjustQuantity(context.Background(), 1, 0, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetProductMissing(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.GetProduct(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
