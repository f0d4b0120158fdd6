package dailyreport

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxRecorder appends sale, refund, and movement entries to the
// business's open report inside a caller-owned transaction, so ledger
// documents and their report increments commit together. The open
// report is matched by status alone: a shift left open past midnight
// keeps collecting until it is closed. All methods return false (not
// an error) when the business has no open report.
type TxRecorder struct{}

// RecordSale increments the sales counters for the payment method.
func (TxRecorder) RecordSale(ctx context.Context, tx pgx.Tx, businessID int64, total float64, method string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE daily_reports
		SET total_sales = total_sales + $2,
		    sales_count = sales_count + 1,
		    cash_sales = cash_sales + CASE WHEN $3 = 'cash' THEN $2 ELSE 0 END,
		    per_method = per_method || jsonb_build_object($3::text, jsonb_build_object(
		        'amount', COALESCE((per_method->$3->>'amount')::numeric, 0) + $2::numeric,
		        'count', COALESCE((per_method->$3->>'count')::bigint, 0) + 1)),
		    updated_at = $4
		WHERE business_id = $1 AND status = 'open'`,
		businessID, total, method, at)
	if err != nil {
		return false, fmt.Errorf("dailyreport: record sale: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordRefund increments the refund counters.
func (TxRecorder) RecordRefund(ctx context.Context, tx pgx.Tx, businessID int64, total float64, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE daily_reports
		SET refunds_total = refunds_total + $2,
		    refunds_count = refunds_count + 1,
		    updated_at = $3
		WHERE business_id = $1 AND status = 'open'`,
		businessID, total, at)
	if err != nil {
		return false, fmt.Errorf("dailyreport: record refund: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendMovement appends an inventory movement entry to the report log.
func (TxRecorder) AppendMovement(ctx context.Context, tx pgx.Tx, businessID int64, entry MovementEntry) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE daily_reports
		SET movements = movements || jsonb_build_array(jsonb_build_object(
		        'type', $2::text, 'productId', $3::bigint, 'qty', $4::numeric,
		        'cost', $5::numeric, 'at', to_jsonb($6::timestamptz))),
		    updated_at = $6
		WHERE business_id = $1 AND status = 'open'`,
		businessID, entry.Type, entry.ProductID, entry.Qty, entry.Cost, entry.At)
	if err != nil {
		return false, fmt.Errorf("dailyreport: append movement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
