package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store is the PostgreSQL DocumentStore over the invoice and credit
// note tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func tableFor(docType string) (string, error) {
	switch docType {
	case DocTypeInvoice:
		return "invoices", nil
	case DocTypeCreditNote:
		return "credit_notes", nil
	default:
		return "", fmt.Errorf("%w: unknown fiscal document type %q", shared.ErrValidation, docType)
	}
}

// LoadDocument implements DocumentStore.
func (s *Store) LoadDocument(ctx context.Context, docType, docID string) (Document, string, error) {
	table, err := tableFor(docType)
	if err != nil {
		return Document{}, "", err
	}
	doc := Document{Type: docType, ID: docID}
	var status string
	err = s.pool.QueryRow(ctx, `
		SELECT number, business_id, total, fiscal_status, created_at
		FROM `+table+` WHERE id = $1`, docID).
		Scan(&doc.Number, &doc.BusinessID, &doc.Total, &status, &doc.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, "", fmt.Errorf("%w: %s %s", shared.ErrNotFound, docType, docID)
		}
		return Document{}, "", fmt.Errorf("fiscal: load %s %s: %w", docType, docID, err)
	}
	return doc, status, nil
}

// MarkSent implements DocumentStore. The attempt counter tracks how
// many times the document has gone out.
func (s *Store) MarkSent(ctx context.Context, docType, docID string, at time.Time) error {
	table, err := tableFor(docType)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE `+table+`
		SET fiscal_status = 'sent', fiscal_attempts = fiscal_attempts + 1, updated_at = $2
		WHERE id = $1 AND fiscal_status IN ('pending', 'sent')`, docID, at)
	if err != nil {
		return fmt.Errorf("fiscal: mark sent %s %s: %w", docType, docID, err)
	}
	return nil
}

// SaveResult implements DocumentStore.
func (s *Store) SaveResult(ctx context.Context, docType, docID string, approved bool, authorizationID string, at time.Time) error {
	table, err := tableFor(docType)
	if err != nil {
		return err
	}
	status := "rejected"
	if approved {
		status = "approved"
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE `+table+`
		SET fiscal_status = $2, fiscal_number = $3, updated_at = $4
		WHERE id = $1 AND fiscal_status = 'sent'`, docID, status, authorizationID, at)
	if err != nil {
		return fmt.Errorf("fiscal: save result %s %s: %w", docType, docID, err)
	}
	return nil
}

// ListPending implements DocumentStore.
func (s *Store) ListPending(ctx context.Context, olderThan time.Time) ([]PendingSubmission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT 'invoice', id FROM invoices
		WHERE fiscal_status IN ('pending', 'sent') AND updated_at < $1
		UNION ALL
		SELECT 'credit_note', id FROM credit_notes
		WHERE fiscal_status IN ('pending', 'sent') AND updated_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list pending: %w", err)
	}
	defer rows.Close()

	var pending []PendingSubmission
	for rows.Next() {
		var p PendingSubmission
		if err := rows.Scan(&p.DocType, &p.DocID); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
