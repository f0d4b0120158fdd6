package invoicing

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
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository persists invoices in PostgreSQL. Customer snapshot, line
// items, tax lines, and refund records live in JSONB columns: they are
// document state, never queried relationally.
type Repository struct {
	pool      *pgxpool.Pool
	sequences *shared.SequenceStore
	adjuster  inventory.TxAdjuster
	recorder  dailyreport.TxRecorder
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, sequences *shared.SequenceStore) *Repository {
	return &Repository{pool: pool, sequences: sequences}
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

const invoiceColumns = `id, business_id, number, fiscal_number, customer, items, subtotal, discount,
	tax_lines, tax_amount, total, payment_method, paid_amount, change_due, payment_status,
	fiscal_status, status, refunds, cancel_reason, due_at, created_by, created_at, updated_at`

// GetInvoice loads one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id), id)
}

// ListInvoices returns invoices matching the filter, newest first.
func (r *Repository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = 0 OR business_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`,
		filter.BusinessID, string(filter.Status), nullTime(filter.From), nullTime(filter.To),
		filter.PerPage, (filter.Page-1)*filter.PerPage)
	if err != nil {
		return nil, fmt.Errorf("invoicing: list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows, "")
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// CountInvoices counts invoices matching the filter for pagination metadata.
func (r *Repository) CountInvoices(ctx context.Context, filter ListFilter) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM invoices
		WHERE ($1 = 0 OR business_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)`,
		filter.BusinessID, string(filter.Status), nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("invoicing: count invoices: %w", err)
	}
	return total, nil
}

func (t *txRepo) AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error) {
	return t.repo.adjuster.Adjust(ctx, t.tx, productID, delta, ref)
}

func (t *txRepo) NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error) {
	return t.repo.sequences.Next(ctx, t.tx, businessID, docType, at)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	customer, err := json.Marshal(inv.Customer)
	if err != nil {
		return err
	}
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return err
	}
	taxLines, err := json.Marshal(inv.TaxLines)
	if err != nil {
		return err
	}
	refunds, err := json.Marshal(nonNilRefunds(inv.Refunds))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO invoices (id, business_id, number, fiscal_number, customer, items, subtotal,
			discount, tax_lines, tax_amount, total, payment_method, paid_amount, change_due,
			payment_status, fiscal_status, status, refunds, cancel_reason, due_at, created_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23)`,
		inv.ID, inv.BusinessID, inv.Number, inv.FiscalNumber, customer, items, inv.Subtotal,
		inv.Discount, taxLines, inv.TaxAmount, inv.Total, string(inv.PaymentMethod),
		inv.PaidAmount, inv.Change, string(inv.PaymentStatus), string(inv.FiscalStatus),
		string(inv.Status), refunds, inv.CancelReason, inv.DueAt, inv.CreatedBy,
		inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoicing: insert invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error) {
	return ScanForUpdate(ctx, t.tx, id)
}

// ScanForUpdate loads an invoice with a row lock inside an existing
// transaction. Callers that settle refunds against an invoice use it to
// share the lock ordering of invoice writes.
func ScanForUpdate(ctx context.Context, tx pgx.Tx, id string) (Invoice, error) {
	return scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *txRepo) UpdateInvoicePayment(ctx context.Context, id string, paid float64, status PaymentStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET paid_amount = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
		id, paid, string(status), at)
	if err != nil {
		return fmt.Errorf("invoicing: update payment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{InvoiceID: id}
	}
	return nil
}

func (t *txRepo) MarkCancelled(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET status = 'cancelled', cancel_reason = $2, updated_at = $3 WHERE id = $1`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("invoicing: mark cancelled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{InvoiceID: id}
	}
	return nil
}

func (t *txRepo) RecordReportSale(ctx context.Context, businessID int64, total float64, method PaymentMethod, at time.Time) (bool, error) {
	return t.repo.recorder.RecordSale(ctx, t.tx, businessID, total, string(method), at)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNilRefunds(refunds []RefundRecord) []RefundRecord {
	if refunds == nil {
		return []RefundRecord{}
	}
	return refunds
}

func scanInvoice(row pgx.Row, id string) (Invoice, error) {
	var inv Invoice
	var customer, items, taxLines, refunds []byte
	err := row.Scan(&inv.ID, &inv.BusinessID, &inv.Number, &inv.FiscalNumber, &customer, &items,
		&inv.Subtotal, &inv.Discount, &taxLines, &inv.TaxAmount, &inv.Total, &inv.PaymentMethod,
		&inv.PaidAmount, &inv.Change, &inv.PaymentStatus, &inv.FiscalStatus, &inv.Status,
		&refunds, &inv.CancelReason, &inv.DueAt, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, &NotFoundError{InvoiceID: id}
		}
		return Invoice{}, fmt.Errorf("invoicing: scan invoice: %w", err)
	}
	if err := json.Unmarshal(customer, &inv.Customer); err != nil {
		return Invoice{}, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return Invoice{}, err
	}
	if len(taxLines) > 0 {
		if err := json.Unmarshal(taxLines, &inv.TaxLines); err != nil {
			return Invoice{}, err
		}
	}
	if len(refunds) > 0 {
		if err := json.Unmarshal(refunds, &inv.Refunds); err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}
