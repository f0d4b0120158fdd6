package creditnote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/dailyreport"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoicing"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

type memStore struct {
	products   map[int64]inventory.Product
	invoices   map[string]invoicing.Invoice
	notes      map[string]CreditNote
	seq        int64
	reportOpen bool
	refunds    []float64
	movements  []dailyreport.MovementEntry
}

func newMemStore() *memStore {
	return &memStore{
		products:   make(map[int64]inventory.Product),
		invoices:   make(map[string]invoicing.Invoice),
		notes:      make(map[string]CreditNote),
		reportOpen: true,
	}
}

func (s *memStore) snapshot() *memStore {
	clone := &memStore{
		products:   make(map[int64]inventory.Product, len(s.products)),
		invoices:   make(map[string]invoicing.Invoice, len(s.invoices)),
		notes:      make(map[string]CreditNote, len(s.notes)),
		seq:        s.seq,
		reportOpen: s.reportOpen,
		refunds:    append([]float64(nil), s.refunds...),
		movements:  append([]dailyreport.MovementEntry(nil), s.movements...),
	}
	for k, v := range s.products {
		clone.products[k] = v
	}
	for k, v := range s.invoices {
		clone.invoices[k] = v
	}
	for k, v := range s.notes {
		clone.notes[k] = v
	}
	return clone
}

func (s *memStore) restore(saved *memStore) {
	s.products = saved.products
	s.invoices = saved.invoices
	s.notes = saved.notes
	s.seq = saved.seq
	s.reportOpen = saved.reportOpen
	s.refunds = saved.refunds
	s.movements = saved.movements
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

func (s *memStore) GetCreditNote(ctx context.Context, id string) (CreditNote, error) {
	note, ok := s.notes[id]
	if !ok {
		return CreditNote{}, &NotFoundError{CreditNoteID: id}
	}
	return note, nil
}

func (s *memStore) ListByInvoice(ctx context.Context, invoiceID string) ([]CreditNote, error) {
	var out []CreditNote
	for _, note := range s.notes {
		if note.InvoiceID == invoiceID {
			out = append(out, note)
		}
	}
	return out, nil
}

func (t *memTx) GetInvoiceForUpdate(ctx context.Context, invoiceID string) (invoicing.Invoice, error) {
	inv, ok := t.store.invoices[invoiceID]
	if !ok {
		return invoicing.Invoice{}, &invoicing.NotFoundError{InvoiceID: invoiceID}
	}
	return inv, nil
}

func (t *memTx) UpdateInvoiceRefunds(ctx context.Context, invoiceID string, refunds []invoicing.RefundRecord, status invoicing.Status, at time.Time) error {
	inv, ok := t.store.invoices[invoiceID]
	if !ok {
		return &invoicing.NotFoundError{InvoiceID: invoiceID}
	}
	inv.Refunds = refunds
	inv.Status = status
	inv.UpdatedAt = at
	t.store.invoices[invoiceID] = inv
	return nil
}

func (t *memTx) RefundedQuantities(ctx context.Context, invoiceID string) (map[int64]float64, error) {
	totals := make(map[int64]float64)
	for _, note := range t.store.notes {
		if note.InvoiceID != invoiceID || note.Status == StatusCancelled {
			continue
		}
		for _, item := range note.Items {
			totals[item.ProductID] += item.Quantity
		}
	}
	return totals, nil
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

func (t *memTx) InsertCreditNote(ctx context.Context, note CreditNote) error {
	t.store.notes[note.ID] = note
	return nil
}

func (t *memTx) GetCreditNoteForUpdate(ctx context.Context, id string) (CreditNote, error) {
	return t.store.GetCreditNote(ctx, id)
}

func (t *memTx) MarkCancelled(ctx context.Context, id, reason string, at time.Time) error {
	note, ok := t.store.notes[id]
	if !ok {
		return &NotFoundError{CreditNoteID: id}
	}
	note.Status = StatusCancelled
	note.CancelReason = reason
	note.UpdatedAt = at
	t.store.notes[id] = note
	return nil
}

func (t *memTx) RecordReportRefund(ctx context.Context, businessID int64, total float64, at time.Time) (bool, error) {
	if !t.store.reportOpen {
		return false, nil
	}
	t.store.refunds = append(t.store.refunds, total)
	return true, nil
}

func (t *memTx) AppendReportMovement(ctx context.Context, businessID int64, entry dailyreport.MovementEntry) (bool, error) {
	if !t.store.reportOpen {
		return false, nil
	}
	t.store.movements = append(t.store.movements, entry)
	return true, nil
}

// seedSale installs a completed cash invoice of 3 units at 100 and the
// post-sale shelf count of 7.
func seedSale(store *memStore) invoicing.Invoice {
	store.products[1] = inventory.Product{ID: 1, Name: "Widget", Quantity: 7, SalePrice: 100}
	inv := invoicing.Invoice{
		ID:         "inv-1",
		BusinessID: 1,
		Customer:   invoicing.CustomerSnapshot{Name: "Ana Perez"},
		Items: []invoicing.LineItem{{
			ProductID: 1, ProductName: "Widget", Quantity: 3, UnitPrice: 100, Subtotal: 300,
		}},
		Subtotal:      300,
		Total:         300,
		PaidAmount:    300,
		PaymentMethod: invoicing.PaymentMethodCash,
		PaymentStatus: invoicing.PaymentStatusPaid,
		Status:        invoicing.StatusCompleted,
	}
	store.invoices[inv.ID] = inv
	return inv
}

func returnInput(qty float64) CreateInput {
	return CreateInput{
		InvoiceID:    "inv-1",
		Items:        []ItemInput{{ProductID: 1, Quantity: qty}},
		Reason:       ReasonProductReturn,
		RefundMethod: RefundMethodCash,
	}
}

func TestCreateCreditNotePartialReturn(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.NoError(t, err)

	require.Equal(t, StatusProcessed, note.Status)
	require.InDelta(t, 100, note.Total, 0.001)
	require.NotEmpty(t, note.Number)

	// Stock goes back on the shelf and the invoice turns partial.
	require.InDelta(t, 8, store.products[1].Quantity, 0.001)
	inv := store.invoices["inv-1"]
	require.Equal(t, invoicing.StatusPartiallyRefunded, inv.Status)
	require.Len(t, inv.Refunds, 1)
	require.Equal(t, note.ID, inv.Refunds[0].CreditNoteID)
	require.InDelta(t, 100, inv.Refunds[0].Amount, 0.001)

	require.Len(t, store.refunds, 1)
	require.InDelta(t, 100, store.refunds[0], 0.001)
	require.Len(t, store.movements, 1)
}

func TestCreateCreditNoteFullReturn(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(3))
	require.NoError(t, err)
	require.InDelta(t, 300, note.Total, 0.001)

	require.InDelta(t, 10, store.products[1].Quantity, 0.001)
	require.Equal(t, invoicing.StatusRefunded, store.invoices["inv-1"].Status)
}

func TestCreateCreditNoteCumulativeOverRefund(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	_, err := svc.CreateCreditNote(context.Background(), returnInput(2))
	require.NoError(t, err)

	// Two more would exceed the three sold.
	_, err = svc.CreateCreditNote(context.Background(), returnInput(2))
	require.ErrorIs(t, err, shared.ErrOverRefund)
	var overErr *OverRefundError
	require.ErrorAs(t, err, &overErr)
	require.InDelta(t, 2, overErr.AlreadyRefunded, 0.001)

	// The failed note leaves stock and the invoice untouched.
	require.InDelta(t, 9, store.products[1].Quantity, 0.001)
	require.Len(t, store.invoices["inv-1"].Refunds, 1)
	require.Len(t, store.notes, 1)
}

func TestCreateCreditNoteCancelledInvoice(t *testing.T) {
	store := newMemStore()
	inv := seedSale(store)
	inv.Status = invoicing.StatusCancelled
	store.invoices[inv.ID] = inv
	svc := NewService(store, nil, nil, nil)

	_, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestCreateCreditNoteProductNotOnInvoice(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	in := returnInput(1)
	in.Items[0].ProductID = 99
	_, err := svc.CreateCreditNote(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateCreditNoteProRataDiscountAndTax(t *testing.T) {
	store := newMemStore()
	store.products[1] = inventory.Product{ID: 1, Name: "Widget", Quantity: 0, SalePrice: 100}
	store.invoices["inv-1"] = invoicing.Invoice{
		ID:         "inv-1",
		BusinessID: 1,
		Items: []invoicing.LineItem{{
			ProductID: 1, ProductName: "Widget", Quantity: 2, UnitPrice: 100, Discount: 20, Subtotal: 180,
		}},
		Subtotal:  180,
		TaxLines:  []tax.Line{{Name: "IVA", Rate: 15, Amount: 27}},
		TaxAmount: 27,
		Total:     207,
		Status:    invoicing.StatusCompleted,
	}
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.NoError(t, err)

	// Half the quantity carries half the line discount; tax applies to
	// the refunded subtotal at the invoice's rate.
	require.InDelta(t, 10, note.Discount, 0.001)
	require.InDelta(t, 90, note.Subtotal, 0.001)
	require.InDelta(t, 13.5, note.TaxAmount, 0.001)
	require.InDelta(t, 103.5, note.Total, 0.001)
}

func TestCreateCreditNoteSkipsClosedReport(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	store.reportOpen = false
	svc := NewService(store, nil, nil, nil)

	_, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.NoError(t, err)
	require.Empty(t, store.refunds)
	require.Empty(t, store.movements)
}

func TestCancelCreditNoteReversesExactDelta(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(2))
	require.NoError(t, err)
	require.InDelta(t, 9, store.products[1].Quantity, 0.001)

	cancelled, err := svc.CancelCreditNote(context.Background(), note.ID, "entered by mistake")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Stock returns to the post-sale count and the invoice recovers.
	require.InDelta(t, 7, store.products[1].Quantity, 0.001)
	inv := store.invoices["inv-1"]
	require.Equal(t, invoicing.StatusCompleted, inv.Status)
	require.Empty(t, inv.Refunds)

	_, err = svc.CancelCreditNote(context.Background(), note.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestCancelCreditNoteBlockedWhenStockResold(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.NoError(t, err)

	// The returned unit was sold on; the shelf cannot cover the reversal.
	p := store.products[1]
	p.Quantity = 0
	store.products[1] = p

	_, err = svc.CancelCreditNote(context.Background(), note.ID, "undo")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, StatusProcessed, store.notes[note.ID].Status)
	require.Len(t, store.invoices["inv-1"].Refunds, 1)
}

func TestCancelCreditNoteFiscalApproved(t *testing.T) {
	store := newMemStore()
	seedSale(store)
	svc := NewService(store, nil, nil, nil)

	note, err := svc.CreateCreditNote(context.Background(), returnInput(1))
	require.NoError(t, err)

	stored := store.notes[note.ID]
	stored.FiscalStatus = invoicing.FiscalStatusApproved
	store.notes[note.ID] = stored

	_, err = svc.CancelCreditNote(context.Background(), note.ID, "mistake")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestCreateCreditNoteValidation(t *testing.T) {
	svc := NewService(newMemStore(), nil, nil, nil)

	_, err := svc.CreateCreditNote(context.Background(), CreateInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	in := returnInput(0)
	_, err = svc.CreateCreditNote(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = returnInput(1)
	in.RefundMethod = "cheque"
	_, err = svc.CreateCreditNote(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}
