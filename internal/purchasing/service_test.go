package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

type memStore struct {
	products  map[int64]inventory.Product
	suppliers map[int64]Supplier
	purchases map[string]Purchase
	seq       int64
}

func newMemStore() *memStore {
	return &memStore{
		products:  make(map[int64]inventory.Product),
		suppliers: make(map[int64]Supplier),
		purchases: make(map[string]Purchase),
	}
}

func (s *memStore) snapshot() *memStore {
	clone := &memStore{
		products:  make(map[int64]inventory.Product, len(s.products)),
		suppliers: make(map[int64]Supplier, len(s.suppliers)),
		purchases: make(map[string]Purchase, len(s.purchases)),
		seq:       s.seq,
	}
	for k, v := range s.products {
		clone.products[k] = v
	}
	for k, v := range s.suppliers {
		clone.suppliers[k] = v
	}
	for k, v := range s.purchases {
		clone.purchases[k] = v
	}
	return clone
}

func (s *memStore) restore(saved *memStore) {
	s.products = saved.products
	s.suppliers = saved.suppliers
	s.purchases = saved.purchases
	s.seq = saved.seq
}

type memTx struct {
	store *memStore
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := s.snapshot()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

func (s *memStore) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	p, ok := s.purchases[id]
	if !ok {
		return Purchase{}, &NotFoundError{PurchaseID: id}
	}
	return p, nil
}

func (s *memStore) ListBySupplier(ctx context.Context, supplierID int64) ([]Purchase, error) {
	var out []Purchase
	for _, p := range s.purchases {
		if p.SupplierID == supplierID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) GetSupplier(ctx context.Context, supplierID int64) (Supplier, error) {
	supplier, ok := s.suppliers[supplierID]
	if !ok {
		return Supplier{}, &SupplierNotFoundError{SupplierID: supplierID}
	}
	return supplier, nil
}

func (t *memTx) GetSupplierForUpdate(ctx context.Context, supplierID int64) (Supplier, error) {
	return t.store.GetSupplier(ctx, supplierID)
}

func (t *memTx) AdjustSupplierDebt(ctx context.Context, supplierID int64, delta float64, at time.Time) error {
	supplier, ok := t.store.suppliers[supplierID]
	if !ok {
		return &SupplierNotFoundError{SupplierID: supplierID}
	}
	supplier.Debt = tax.Round2(supplier.Debt + delta)
	t.store.suppliers[supplierID] = supplier
	return nil
}

func (t *memTx) SetSupplierDebt(ctx context.Context, supplierID int64, debt float64, at time.Time) error {
	supplier, ok := t.store.suppliers[supplierID]
	if !ok {
		return &SupplierNotFoundError{SupplierID: supplierID}
	}
	supplier.Debt = debt
	t.store.suppliers[supplierID] = supplier
	return nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return inventory.Product{}, &inventory.ProductNotFoundError{ProductID: productID}
	}
	if p.Quantity+delta < 0 {
		return inventory.Product{}, &inventory.InsufficientStockError{
			ProductID: p.ID, ProductName: p.Name, Available: p.Quantity, Requested: -delta,
		}
	}
	p.Quantity += delta
	t.store.products[productID] = p
	return p, nil
}

func (t *memTx) NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error) {
	t.store.seq++
	return t.store.seq, nil
}

func (t *memTx) InsertPurchase(ctx context.Context, p Purchase) error {
	t.store.purchases[p.ID] = p
	return nil
}

func (t *memTx) GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error) {
	return t.store.GetPurchase(ctx, id)
}

func (t *memTx) SavePurchase(ctx context.Context, p Purchase) error {
	if _, ok := t.store.purchases[p.ID]; !ok {
		return &NotFoundError{PurchaseID: p.ID}
	}
	t.store.purchases[p.ID] = p
	return nil
}

func (t *memTx) ActiveBalanceSum(ctx context.Context, supplierID int64) (float64, error) {
	var sum float64
	for _, p := range t.store.purchases {
		if p.SupplierID == supplierID && p.Status != StatusCancelada {
			sum += p.Balance
		}
	}
	return sum, nil
}

func seedStore() *memStore {
	store := newMemStore()
	store.products[1] = inventory.Product{ID: 1, Name: "Widget", Quantity: 2, PurchasePrice: 50}
	store.suppliers[7] = Supplier{ID: 7, Name: "Acme Distribuciones"}
	return store
}

func purchaseInput(qty, unitCost float64) CreateInput {
	return CreateInput{
		BusinessID: 1,
		SupplierID: 7,
		Items:      []ItemInput{{ProductID: 1, Quantity: qty, UnitCost: unitCost}},
	}
}

// debtMatchesBalances asserts the supplier debt invariant against the
// active purchases in the store.
func debtMatchesBalances(t *testing.T, store *memStore, supplierID int64) {
	t.Helper()
	var sum float64
	for _, p := range store.purchases {
		if p.SupplierID == supplierID && p.Status != StatusCancelada {
			sum += p.Balance
		}
	}
	require.InDelta(t, sum, store.suppliers[supplierID].Debt, 0.001)
}

func TestCreatePurchase(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)

	require.InDelta(t, 500, p.Total, 0.001)
	require.InDelta(t, 500, p.Balance, 0.001)
	require.Equal(t, StatusPendiente, p.Status)
	require.NotEmpty(t, p.Number)

	// Stock comes in and the supplier carries the full total.
	require.InDelta(t, 12, store.products[1].Quantity, 0.001)
	require.InDelta(t, 500, store.suppliers[7].Debt, 0.001)
	debtMatchesBalances(t, store, 7)
}

func TestCreatePurchaseDefaultsToCatalogCost(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(4, 0))
	require.NoError(t, err)
	require.InDelta(t, 200, p.Total, 0.001)
	require.InDelta(t, 50, p.Items[0].UnitCost, 0.001)
}

func TestCreatePurchaseUnknownSupplier(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	in := purchaseInput(1, 50)
	in.SupplierID = 99
	_, err := svc.CreatePurchase(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.InDelta(t, 2, store.products[1].Quantity, 0.001)
}

func TestCreatePurchaseUnknownProduct(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	in := purchaseInput(1, 50)
	in.Items[0].ProductID = 99
	_, err := svc.CreatePurchase(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.purchases)
}

func TestAddPaymentPartialThenPaid(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)

	p, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 200, Method: "transfer"})
	require.NoError(t, err)
	require.InDelta(t, 300, p.Balance, 0.001)
	require.Equal(t, StatusParcial, p.Status)
	require.InDelta(t, 300, store.suppliers[7].Debt, 0.001)
	debtMatchesBalances(t, store, 7)

	p, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 300, Method: "cash"})
	require.NoError(t, err)
	require.Zero(t, p.Balance)
	require.Equal(t, StatusPagada, p.Status)
	require.Zero(t, store.suppliers[7].Debt)
	debtMatchesBalances(t, store, 7)
}

func TestAddPaymentOverBalance(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(2, 50))
	require.NoError(t, err)

	_, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 150, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrOverpayment)

	current, err := svc.GetPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	require.InDelta(t, 100, current.Balance, 0.001)
	require.Empty(t, current.Payments)
	require.InDelta(t, 100, store.suppliers[7].Debt, 0.001)
}

func TestUpdatePurchaseShiftsBalanceAndDebt(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)
	_, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 200, Method: "cash"})
	require.NoError(t, err)

	// Raising the total keeps the 200 already paid.
	newTotal := 600.0
	p, err = svc.UpdatePurchase(context.Background(), p.ID, UpdateInput{Total: &newTotal})
	require.NoError(t, err)
	require.InDelta(t, 400, p.Balance, 0.001)
	require.Equal(t, StatusParcial, p.Status)
	require.InDelta(t, 400, store.suppliers[7].Debt, 0.001)
	debtMatchesBalances(t, store, 7)

	// Lowering it below the paid amount is rejected.
	tooLow := 150.0
	_, err = svc.UpdatePurchase(context.Background(), p.ID, UpdateInput{Total: &tooLow})
	require.ErrorIs(t, err, shared.ErrValidation)
	debtMatchesBalances(t, store, 7)
}

func TestDeletePurchaseRemovesBalanceNotTotal(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)
	_, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 200, Method: "cash"})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePurchase(context.Background(), p.ID))

	// Only the 300 still owed leaves the debt; stock goes back out.
	require.Zero(t, store.suppliers[7].Debt)
	require.InDelta(t, 2, store.products[1].Quantity, 0.001)
	require.Equal(t, StatusCancelada, store.purchases[p.ID].Status)
	debtMatchesBalances(t, store, 7)

	err = svc.DeletePurchase(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestDeletePurchaseBlockedWhenStockSold(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)

	// The purchased units were sold on; reversal cannot cover them.
	prod := store.products[1]
	prod.Quantity = 3
	store.products[1] = prod

	err = svc.DeletePurchase(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, StatusPendiente, store.purchases[p.ID].Status)
	require.InDelta(t, 500, store.suppliers[7].Debt, 0.001)
}

func TestReconcileSupplierDebt(t *testing.T) {
	store := seedStore()
	svc := NewService(store, nil, nil)

	p1, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)
	_, err = svc.CreatePurchase(context.Background(), purchaseInput(2, 25))
	require.NoError(t, err)
	_, err = svc.AddPayment(context.Background(), p1.ID, PaymentInput{Amount: 100, Method: "cash"})
	require.NoError(t, err)

	// In sync: no correction.
	result, err := svc.ReconcileSupplierDebt(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, result.Corrected)
	require.Zero(t, result.Divergence)

	// Simulated drift gets detected and corrected.
	supplier := store.suppliers[7]
	supplier.Debt += 42
	store.suppliers[7] = supplier

	result, err = svc.ReconcileSupplierDebt(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, result.Corrected)
	require.InDelta(t, 42, result.Divergence, 0.001)
	debtMatchesBalances(t, store, 7)
}

func TestScenarioCreditPurchase(t *testing.T) {
	// Purchase of 500 from a zero-debt supplier, then a payment of 200.
	store := seedStore()
	svc := NewService(store, nil, nil)
	require.Zero(t, store.suppliers[7].Debt)

	p, err := svc.CreatePurchase(context.Background(), purchaseInput(10, 50))
	require.NoError(t, err)
	require.InDelta(t, 500, store.suppliers[7].Debt, 0.001)

	p, err = svc.AddPayment(context.Background(), p.ID, PaymentInput{Amount: 200, Method: "transfer"})
	require.NoError(t, err)
	require.InDelta(t, 300, p.Balance, 0.001)
	require.Equal(t, StatusParcial, p.Status)
	require.InDelta(t, 300, store.suppliers[7].Debt, 0.001)
}

func TestCreatePurchaseValidation(t *testing.T) {
	svc := NewService(newMemStore(), nil, nil)

	_, err := svc.CreatePurchase(context.Background(), CreateInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	in := purchaseInput(0, 50)
	_, err = svc.CreatePurchase(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusPendiente, DeriveStatus(100, 100))
	require.Equal(t, StatusParcial, DeriveStatus(40, 100))
	require.Equal(t, StatusPagada, DeriveStatus(0, 100))
	require.Equal(t, StatusPagada, DeriveStatus(-0.01, 100))
}
