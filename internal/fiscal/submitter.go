package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// PendingSubmission is a document waiting on the authority.
type PendingSubmission struct {
	DocType string
	DocID   string
}

// DocumentStore loads submittable documents and persists their fiscal
// transitions.
type DocumentStore interface {
	// LoadDocument returns the document and its current fiscal status.
	LoadDocument(ctx context.Context, docType, docID string) (Document, string, error)
	MarkSent(ctx context.Context, docType, docID string, at time.Time) error
	SaveResult(ctx context.Context, docType, docID string, approved bool, authorizationID string, at time.Time) error
	// ListPending returns documents still in fiscal status pending or
	// sent, for the sweep that re-enqueues stalled submissions.
	ListPending(ctx context.Context, olderThan time.Time) ([]PendingSubmission, error)
}

// Submitter drives one document through pending → sent → approved or
// rejected. It is invoked from the job queue handler, so a returned
// error triggers the queue's retry/backoff.
type Submitter struct {
	store     DocumentStore
	authority Authority
	logger    *slog.Logger
	now       func() time.Time
}

// NewSubmitter builds Submitter.
func NewSubmitter(store DocumentStore, authority Authority, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, authority: authority, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Submitter) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Submit processes one queued submission. Documents already decided
// are skipped, which makes redelivery harmless.
func (s *Submitter) Submit(ctx context.Context, docType, docID string) error {
	doc, status, err := s.store.LoadDocument(ctx, docType, docID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// The document was cancelled or removed before submission.
			s.logger.Warn("fiscal submission dropped", slog.String("doc", docID), slog.Any("error", err))
			return nil
		}
		return err
	}
	switch status {
	case "pending":
	case "sent":
		// A previous attempt died between send and verdict; resubmit.
	default:
		s.logger.Debug("fiscal submission skipped",
			slog.String("doc", docID), slog.String("status", status))
		return nil
	}

	now := s.now().UTC()
	if err := s.store.MarkSent(ctx, docType, docID, now); err != nil {
		return err
	}

	result, err := s.authority.Submit(ctx, doc)
	if err != nil {
		return fmt.Errorf("fiscal: submit %s %s: %w", docType, docID, err)
	}

	if err := s.store.SaveResult(ctx, docType, docID, result.Approved, result.AuthorizationID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("fiscal submission decided",
		slog.String("doc", docID),
		slog.String("type", docType),
		slog.Bool("approved", result.Approved),
		slog.String("code", result.Code))
	return nil
}

// Pending lists stalled submissions older than the cutoff.
func (s *Submitter) Pending(ctx context.Context, olderThan time.Time) ([]PendingSubmission, error) {
	return s.store.ListPending(ctx, olderThan)
}
