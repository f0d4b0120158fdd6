package dailyreport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists daily reports in PostgreSQL. The singleton
// invariant rides on a partial unique index over (business_id) where
// status = 'open': one open register per business, whatever day it
// was opened on.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const reportColumns = `id, business_id, report_date, status, total_sales, sales_count, cash_sales,
	refunds_total, refunds_count, per_method, expenses, initial_amount, final_amount, difference,
	movements, closing_notes, opened_by, closed_by, opened_at, closed_at`

// GetOpenReport loads the business's open report. The partial unique
// index guarantees at most one.
func (r *Repository) GetOpenReport(ctx context.Context, businessID int64) (Report, error) {
	report, err := scanReport(r.pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM daily_reports
		WHERE business_id = $1 AND status = 'open'`, businessID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, &NotFoundError{BusinessID: businessID}
		}
		return Report{}, err
	}
	return report, nil
}

// GetReport loads one report by id.
func (r *Repository) GetReport(ctx context.Context, id int64) (Report, error) {
	report, err := scanReport(r.pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM daily_reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, &NotFoundError{}
		}
		return Report{}, err
	}
	return report, nil
}

func (t *txRepo) InsertOpenReport(ctx context.Context, r Report) (Report, error) {
	perMethod, err := json.Marshal(r.Sales.PerMethod)
	if err != nil {
		return Report{}, err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO daily_reports (business_id, report_date, status, per_method, expenses,
			initial_amount, final_amount, movements, opened_by, opened_at, updated_at)
		VALUES ($1, $2, 'open', $3, '[]', $4, $5, '[]', $6, $7, $7)
		RETURNING id`,
		r.BusinessID, r.Date, perMethod, r.CashRegister.InitialAmount,
		r.CashRegister.FinalAmount, r.OpenedBy, r.OpenedAt).Scan(&r.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Report{}, &DuplicateOpenError{BusinessID: r.BusinessID, Date: r.Date}
		}
		return Report{}, fmt.Errorf("dailyreport: insert open report: %w", err)
	}
	return r, nil
}

func (t *txRepo) GetOpenForUpdate(ctx context.Context, businessID int64) (Report, error) {
	report, err := scanReport(t.tx.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM daily_reports
		WHERE business_id = $1 AND status = 'open'
		FOR UPDATE`, businessID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, &NotFoundError{BusinessID: businessID}
		}
		return Report{}, err
	}
	return report, nil
}

func (t *txRepo) AppendExpense(ctx context.Context, reportID int64, e Expense) error {
	encoded, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE daily_reports
		SET expenses = expenses || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`, reportID, encoded)
	if err != nil {
		return fmt.Errorf("dailyreport: append expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ClosedError{ReportID: reportID}
	}
	return nil
}

func (t *txRepo) RebuildSalesSummary(ctx context.Context, businessID int64, from, to time.Time) (SalesSummary, error) {
	summary := SalesSummary{PerMethod: map[string]MethodTotals{}}

	rows, err := t.tx.Query(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		FROM invoices
		WHERE business_id = $1 AND created_at >= $2 AND created_at <= $3
		  AND status NOT IN ('draft', 'cancelled')
		GROUP BY payment_method`, businessID, from, to)
	if err != nil {
		return SalesSummary{}, fmt.Errorf("dailyreport: rebuild sales summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var totals MethodTotals
		if err := rows.Scan(&method, &totals.Count, &totals.Amount); err != nil {
			return SalesSummary{}, err
		}
		summary.PerMethod[method] = totals
		summary.TotalSales += totals.Amount
		summary.SalesCount += totals.Count
		if method == "cash" {
			summary.CashSales += totals.Amount
		}
	}
	if err := rows.Err(); err != nil {
		return SalesSummary{}, err
	}

	err = t.tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0)
		FROM credit_notes
		WHERE business_id = $1 AND created_at >= $2 AND created_at <= $3
		  AND status <> 'cancelled'`, businessID, from, to).
		Scan(&summary.RefundsCount, &summary.RefundsTotal)
	if err != nil {
		return SalesSummary{}, fmt.Errorf("dailyreport: rebuild refunds summary: %w", err)
	}
	return summary, nil
}

func (t *txRepo) MarkClosed(ctx context.Context, r Report) error {
	perMethod, err := json.Marshal(r.Sales.PerMethod)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE daily_reports
		SET status = 'closed', total_sales = $2, sales_count = $3, cash_sales = $4,
			refunds_total = $5, refunds_count = $6, per_method = $7, final_amount = $8,
			difference = $9, closing_notes = $10, closed_by = $11, closed_at = $12,
			updated_at = $12
		WHERE id = $1 AND status = 'open'`,
		r.ID, r.Sales.TotalSales, r.Sales.SalesCount, r.Sales.CashSales,
		r.Sales.RefundsTotal, r.Sales.RefundsCount, perMethod,
		r.CashRegister.FinalAmount, r.CashRegister.Difference,
		r.ClosingNotes, r.ClosedBy, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("dailyreport: mark closed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ClosedError{ReportID: r.ID}
	}
	return nil
}

func scanReport(row pgx.Row) (Report, error) {
	var r Report
	var perMethod, expenses, movements []byte
	err := row.Scan(&r.ID, &r.BusinessID, &r.Date, &r.Status, &r.Sales.TotalSales,
		&r.Sales.SalesCount, &r.Sales.CashSales, &r.Sales.RefundsTotal, &r.Sales.RefundsCount,
		&perMethod, &expenses, &r.CashRegister.InitialAmount, &r.CashRegister.FinalAmount,
		&r.CashRegister.Difference, &movements, &r.ClosingNotes, &r.OpenedBy, &r.ClosedBy,
		&r.OpenedAt, &r.ClosedAt)
	if err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(perMethod, &r.Sales.PerMethod); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(expenses, &r.Expenses); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(movements, &r.Movements); err != nil {
		return Report{}, err
	}
	return r, nil
}
