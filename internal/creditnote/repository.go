package creditnote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/dailyreport"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoicing"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository persists credit notes in PostgreSQL. It also owns the
// invoice refund rollup writes so a note and its invoice state change
// share one transaction.
type Repository struct {
	pool      *pgxpool.Pool
	sequences *shared.SequenceStore
	invoices  *invoicing.Repository
	adjuster  inventory.TxAdjuster
	recorder  dailyreport.TxRecorder
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, sequences *shared.SequenceStore, invoices *invoicing.Repository) *Repository {
	return &Repository{pool: pool, sequences: sequences, invoices: invoices}
}

type txRepo struct {
	repo *Repository
	tx   pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{repo: r, tx: tx})
	})
}

const noteColumns = `id, business_id, number, fiscal_number, invoice_id, reason, detail, items,
	subtotal, discount, tax_lines, tax_amount, total, refund_method, status, fiscal_status,
	cancel_reason, created_by, created_at, updated_at`

// GetCreditNote loads one credit note.
func (r *Repository) GetCreditNote(ctx context.Context, id string) (CreditNote, error) {
	return scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM credit_notes WHERE id = $1`, id), id)
}

// ListByInvoice returns all credit notes against an invoice.
func (r *Repository) ListByInvoice(ctx context.Context, invoiceID string) ([]CreditNote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+noteColumns+` FROM credit_notes WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("creditnote: list by invoice: %w", err)
	}
	defer rows.Close()

	var notes []CreditNote
	for rows.Next() {
		note, err := scanNote(rows, "")
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, invoiceID string) (invoicing.Invoice, error) {
	return invoicing.ScanForUpdate(ctx, t.tx, invoiceID)
}

func (t *txRepo) UpdateInvoiceRefunds(ctx context.Context, invoiceID string, refunds []invoicing.RefundRecord, status invoicing.Status, at time.Time) error {
	if refunds == nil {
		refunds = []invoicing.RefundRecord{}
	}
	encoded, err := json.Marshal(refunds)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET refunds = $2, status = $3, updated_at = $4 WHERE id = $1`,
		invoiceID, encoded, string(status), at)
	if err != nil {
		return fmt.Errorf("creditnote: update invoice refunds %s: %w", invoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s", shared.ErrNotFound, invoiceID)
	}
	return nil
}

func (t *txRepo) RefundedQuantities(ctx context.Context, invoiceID string) (map[int64]float64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT items FROM credit_notes WHERE invoice_id = $1 AND status <> 'cancelled'`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("creditnote: refunded quantities: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]float64)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var items []LineItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			totals[item.ProductID] += item.Quantity
		}
	}
	return totals, rows.Err()
}

func (t *txRepo) AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error) {
	return t.repo.adjuster.Adjust(ctx, t.tx, productID, delta, ref)
}

func (t *txRepo) NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error) {
	return t.repo.sequences.Next(ctx, t.tx, businessID, docType, at)
}

func (t *txRepo) InsertCreditNote(ctx context.Context, note CreditNote) error {
	items, err := json.Marshal(note.Items)
	if err != nil {
		return err
	}
	taxLines, err := json.Marshal(note.TaxLines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO credit_notes (id, business_id, number, fiscal_number, invoice_id, reason,
			detail, items, subtotal, discount, tax_lines, tax_amount, total, refund_method,
			status, fiscal_status, cancel_reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		note.ID, note.BusinessID, note.Number, note.FiscalNumber, note.InvoiceID, note.Reason,
		note.Detail, items, note.Subtotal, note.Discount, taxLines, note.TaxAmount, note.Total,
		string(note.RefundMethod), string(note.Status), string(note.FiscalStatus),
		note.CancelReason, note.CreatedBy, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creditnote: insert credit note %s: %w", note.ID, err)
	}
	return nil
}

func (t *txRepo) GetCreditNoteForUpdate(ctx context.Context, id string) (CreditNote, error) {
	return scanNote(t.tx.QueryRow(ctx, `SELECT `+noteColumns+` FROM credit_notes WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *txRepo) MarkCancelled(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE credit_notes SET status = 'cancelled', cancel_reason = $2, updated_at = $3 WHERE id = $1`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("creditnote: mark cancelled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{CreditNoteID: id}
	}
	return nil
}

func (t *txRepo) RecordReportRefund(ctx context.Context, businessID int64, total float64, at time.Time) (bool, error) {
	return t.repo.recorder.RecordRefund(ctx, t.tx, businessID, total, at)
}

func (t *txRepo) AppendReportMovement(ctx context.Context, businessID int64, entry dailyreport.MovementEntry) (bool, error) {
	return t.repo.recorder.AppendMovement(ctx, t.tx, businessID, entry)
}

func scanNote(row pgx.Row, id string) (CreditNote, error) {
	var note CreditNote
	var items, taxLines []byte
	err := row.Scan(&note.ID, &note.BusinessID, &note.Number, &note.FiscalNumber, &note.InvoiceID,
		&note.Reason, &note.Detail, &items, &note.Subtotal, &note.Discount, &taxLines,
		&note.TaxAmount, &note.Total, &note.RefundMethod, &note.Status, &note.FiscalStatus,
		&note.CancelReason, &note.CreatedBy, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditNote{}, &NotFoundError{CreditNoteID: id}
		}
		return CreditNote{}, fmt.Errorf("creditnote: scan credit note: %w", err)
	}
	if err := json.Unmarshal(items, &note.Items); err != nil {
		return CreditNote{}, err
	}
	if len(taxLines) > 0 {
		if err := json.Unmarshal(taxLines, &note.TaxLines); err != nil {
			return CreditNote{}, err
		}
	}
	return note, nil
}
