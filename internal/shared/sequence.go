package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DocType identifies a document series for numbering purposes.
type DocType string

const (
	DocTypeInvoice    DocType = "INVOICE"
	DocTypeCreditNote DocType = "CREDIT_NOTE"
	DocTypePurchase   DocType = "PURCHASE"
	DocTypeReport     DocType = "REPORT"
)

// SequenceStore hands out gap-free sequential document numbers per
// (business, document type, period). The row is locked for the duration
// of the calling transaction, so two writers cannot mint the same number.
type SequenceStore struct{}

// NewSequenceStore constructs the store.
func NewSequenceStore() *SequenceStore {
	return &SequenceStore{}
}

// Next increments and returns the counter for the series within tx. The
// period buckets counters by year so each fiscal year restarts at 1.
func (s *SequenceStore) Next(ctx context.Context, tx pgx.Tx, businessID int64, docType DocType, at time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("shared: sequence requires a transaction")
	}
	period := at.UTC().Format("2006")
	var value int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (business_id, doc_type, period, value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (business_id, doc_type, period)
		DO UPDATE SET value = document_sequences.value + 1
		RETURNING value`,
		businessID, string(docType), period).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("shared: next sequence %s/%s: %w", docType, period, err)
	}
	return value, nil
}

// FormatNumber renders the human-facing document number.
func FormatNumber(docType DocType, businessID, seq int64) string {
	prefix := map[DocType]string{
		DocTypeInvoice:    "REC",
		DocTypeCreditNote: "NC",
		DocTypePurchase:   "CP",
		DocTypeReport:     "RPT",
	}[docType]
	if prefix == "" {
		prefix = "DOC"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, businessID, seq)
}
