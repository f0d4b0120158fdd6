// Package fiscal integrates ledger documents with the tax authority.
// Submission runs on the job queue so a slow or failing authority never
// blocks or loses a sale.
package fiscal

import (
	"context"
	"fmt"
	"time"
)

// Document types accepted by the authority.
const (
	DocTypeInvoice    = "invoice"
	DocTypeCreditNote = "credit_note"
)

// Document is the slice of a ledger document the authority sees.
type Document struct {
	Type       string
	ID         string
	Number     string
	BusinessID int64
	Total      float64
	IssuedAt   time.Time
}

// Result is the authority's verdict on a submission.
type Result struct {
	Approved        bool
	Code            string
	Message         string
	AuthorizationID string
}

// Authority submits one document for fiscal approval. Implementations
// wrap the jurisdiction's wire protocol; a non-nil error means the
// submission should be retried, a rejection comes back in the Result.
type Authority interface {
	Submit(ctx context.Context, doc Document) (Result, error)
}

// AutoApprove is the development authority: every document is approved
// with a deterministic authorization id.
type AutoApprove struct{}

// Submit implements Authority.
func (AutoApprove) Submit(ctx context.Context, doc Document) (Result, error) {
	return Result{
		Approved:        true,
		Code:            "00",
		Message:         "AUTORIZADO",
		AuthorizationID: fmt.Sprintf("AUT-%s-%s", doc.Type, doc.ID),
	}, nil
}
