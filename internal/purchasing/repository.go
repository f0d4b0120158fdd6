package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository persists purchases and suppliers in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	sequences *shared.SequenceStore
	adjuster  inventory.TxAdjuster
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

const purchaseColumns = `id, business_id, number, supplier_id, items, subtotal, discount, tax_lines,
	tax_amount, total, balance, payments, status, detail, due_at, created_by, created_at, updated_at`

// GetPurchase loads one purchase.
func (r *Repository) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = $1`, id), id)
}

// ListBySupplier returns the supplier's purchases, newest first.
func (r *Repository) ListBySupplier(ctx context.Context, supplierID int64) ([]Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+` FROM credit_purchases WHERE supplier_id = $1 ORDER BY created_at DESC`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("purchasing: list by supplier: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows, "")
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, supplierID int64) (Supplier, error) {
	return scanSupplier(r.pool.QueryRow(ctx, `SELECT id, name, debt FROM suppliers WHERE id = $1`, supplierID), supplierID)
}

func (t *txRepo) GetSupplierForUpdate(ctx context.Context, supplierID int64) (Supplier, error) {
	return scanSupplier(t.tx.QueryRow(ctx, `SELECT id, name, debt FROM suppliers WHERE id = $1 FOR UPDATE`, supplierID), supplierID)
}

func (t *txRepo) AdjustSupplierDebt(ctx context.Context, supplierID int64, delta float64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE suppliers SET debt = round((debt + $2)::numeric, 2), updated_at = $3 WHERE id = $1`,
		supplierID, delta, at)
	if err != nil {
		return fmt.Errorf("purchasing: adjust supplier %d debt: %w", supplierID, err)
	}
	if tag.RowsAffected() == 0 {
		return &SupplierNotFoundError{SupplierID: supplierID}
	}
	return nil
}

func (t *txRepo) SetSupplierDebt(ctx context.Context, supplierID int64, debt float64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE suppliers SET debt = $2, updated_at = $3 WHERE id = $1`, supplierID, debt, at)
	if err != nil {
		return fmt.Errorf("purchasing: set supplier %d debt: %w", supplierID, err)
	}
	if tag.RowsAffected() == 0 {
		return &SupplierNotFoundError{SupplierID: supplierID}
	}
	return nil
}

func (t *txRepo) AdjustStock(ctx context.Context, productID int64, delta float64, ref inventory.MovementRef) (inventory.Product, error) {
	return t.repo.adjuster.Adjust(ctx, t.tx, productID, delta, ref)
}

func (t *txRepo) NextNumber(ctx context.Context, businessID int64, docType shared.DocType, at time.Time) (int64, error) {
	return t.repo.sequences.Next(ctx, t.tx, businessID, docType, at)
}

func (t *txRepo) InsertPurchase(ctx context.Context, p Purchase) error {
	items, payments, taxLines, err := encodePurchase(p)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO credit_purchases (id, business_id, number, supplier_id, items, subtotal,
			discount, tax_lines, tax_amount, total, balance, payments, status, detail, due_at,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.BusinessID, p.Number, p.SupplierID, items, p.Subtotal, p.Discount, taxLines,
		p.TaxAmount, p.Total, p.Balance, payments, string(p.Status), p.Detail, p.DueAt,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: insert purchase %s: %w", p.ID, err)
	}
	return nil
}

func (t *txRepo) GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *txRepo) SavePurchase(ctx context.Context, p Purchase) error {
	items, payments, taxLines, err := encodePurchase(p)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE credit_purchases
		SET items = $2, subtotal = $3, discount = $4, tax_lines = $5, tax_amount = $6,
			total = $7, balance = $8, payments = $9, status = $10, detail = $11, due_at = $12,
			updated_at = $13
		WHERE id = $1`,
		p.ID, items, p.Subtotal, p.Discount, taxLines, p.TaxAmount, p.Total, p.Balance,
		payments, string(p.Status), p.Detail, p.DueAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: save purchase %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{PurchaseID: p.ID}
	}
	return nil
}

func (t *txRepo) ActiveBalanceSum(ctx context.Context, supplierID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM credit_purchases
		WHERE supplier_id = $1 AND status <> 'cancelada'`, supplierID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("purchasing: active balance sum: %w", err)
	}
	return sum, nil
}

func encodePurchase(p Purchase) (items, payments, taxLines []byte, err error) {
	if items, err = json.Marshal(p.Items); err != nil {
		return nil, nil, nil, err
	}
	if p.Payments == nil {
		p.Payments = []Payment{}
	}
	if payments, err = json.Marshal(p.Payments); err != nil {
		return nil, nil, nil, err
	}
	if taxLines, err = json.Marshal(p.TaxLines); err != nil {
		return nil, nil, nil, err
	}
	return items, payments, taxLines, nil
}

func scanPurchase(row pgx.Row, id string) (Purchase, error) {
	var p Purchase
	var items, payments, taxLines []byte
	err := row.Scan(&p.ID, &p.BusinessID, &p.Number, &p.SupplierID, &items, &p.Subtotal,
		&p.Discount, &taxLines, &p.TaxAmount, &p.Total, &p.Balance, &payments, &p.Status,
		&p.Detail, &p.DueAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, &NotFoundError{PurchaseID: id}
		}
		return Purchase{}, fmt.Errorf("purchasing: scan purchase: %w", err)
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return Purchase{}, err
	}
	if err := json.Unmarshal(payments, &p.Payments); err != nil {
		return Purchase{}, err
	}
	if len(taxLines) > 0 {
		if err := json.Unmarshal(taxLines, &p.TaxLines); err != nil {
			return Purchase{}, err
		}
	}
	return p, nil
}

func scanSupplier(row pgx.Row, supplierID int64) (Supplier, error) {
	var s Supplier
	if err := row.Scan(&s.ID, &s.Name, &s.Debt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, &SupplierNotFoundError{SupplierID: supplierID}
		}
		return Supplier{}, fmt.Errorf("purchasing: scan supplier: %w", err)
	}
	return s, nil
}
