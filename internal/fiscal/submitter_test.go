package fiscal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type docState struct {
	doc      Document
	status   string
	attempts int
	authID   string
}

type memDocStore struct {
	docs map[string]*docState
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: make(map[string]*docState)}
}

func (s *memDocStore) LoadDocument(ctx context.Context, docType, docID string) (Document, string, error) {
	d, ok := s.docs[docID]
	if !ok {
		return Document{}, "", fmt.Errorf("%w: %s %s", shared.ErrNotFound, docType, docID)
	}
	return d.doc, d.status, nil
}

func (s *memDocStore) MarkSent(ctx context.Context, docType, docID string, at time.Time) error {
	d := s.docs[docID]
	d.status = "sent"
	d.attempts++
	return nil
}

func (s *memDocStore) SaveResult(ctx context.Context, docType, docID string, approved bool, authorizationID string, at time.Time) error {
	d := s.docs[docID]
	if approved {
		d.status = "approved"
	} else {
		d.status = "rejected"
	}
	d.authID = authorizationID
	return nil
}

func (s *memDocStore) ListPending(ctx context.Context, olderThan time.Time) ([]PendingSubmission, error) {
	var out []PendingSubmission
	for id, d := range s.docs {
		if d.status == "pending" || d.status == "sent" {
			out = append(out, PendingSubmission{DocType: d.doc.Type, DocID: id})
		}
	}
	return out, nil
}

type rejectingAuthority struct{}

func (rejectingAuthority) Submit(ctx context.Context, doc Document) (Result, error) {
	return Result{Approved: false, Code: "45", Message: "RECHAZADO"}, nil
}

type flakyAuthority struct {
	calls int
}

func (a *flakyAuthority) Submit(ctx context.Context, doc Document) (Result, error) {
	a.calls++
	if a.calls == 1 {
		return Result{}, errors.New("authority timeout")
	}
	return AutoApprove{}.Submit(ctx, doc)
}

func pendingInvoice(store *memDocStore, id string) {
	store.docs[id] = &docState{
		doc:    Document{Type: DocTypeInvoice, ID: id, Number: "REC-1-000001", BusinessID: 1, Total: 300},
		status: "pending",
	}
}

func TestSubmitApproves(t *testing.T) {
	store := newMemDocStore()
	pendingInvoice(store, "inv-1")
	sub := NewSubmitter(store, AutoApprove{}, nil)

	require.NoError(t, sub.Submit(context.Background(), DocTypeInvoice, "inv-1"))
	require.Equal(t, "approved", store.docs["inv-1"].status)
	require.Equal(t, 1, store.docs["inv-1"].attempts)
	require.NotEmpty(t, store.docs["inv-1"].authID)
}

func TestSubmitRejection(t *testing.T) {
	store := newMemDocStore()
	pendingInvoice(store, "inv-1")
	sub := NewSubmitter(store, rejectingAuthority{}, nil)

	require.NoError(t, sub.Submit(context.Background(), DocTypeInvoice, "inv-1"))
	require.Equal(t, "rejected", store.docs["inv-1"].status)
}

func TestSubmitRetriesOnAuthorityError(t *testing.T) {
	store := newMemDocStore()
	pendingInvoice(store, "inv-1")
	authority := &flakyAuthority{}
	sub := NewSubmitter(store, authority, nil)

	// First pass fails after marking sent; the queue redelivers.
	err := sub.Submit(context.Background(), DocTypeInvoice, "inv-1")
	require.Error(t, err)
	require.Equal(t, "sent", store.docs["inv-1"].status)

	require.NoError(t, sub.Submit(context.Background(), DocTypeInvoice, "inv-1"))
	require.Equal(t, "approved", store.docs["inv-1"].status)
	require.Equal(t, 2, store.docs["inv-1"].attempts)
}

func TestSubmitSkipsDecidedDocument(t *testing.T) {
	store := newMemDocStore()
	pendingInvoice(store, "inv-1")
	store.docs["inv-1"].status = "approved"
	sub := NewSubmitter(store, rejectingAuthority{}, nil)

	require.NoError(t, sub.Submit(context.Background(), DocTypeInvoice, "inv-1"))
	require.Equal(t, "approved", store.docs["inv-1"].status)
	require.Zero(t, store.docs["inv-1"].attempts)
}

func TestSubmitMissingDocumentIsDropped(t *testing.T) {
	sub := NewSubmitter(newMemDocStore(), AutoApprove{}, nil)
	require.NoError(t, sub.Submit(context.Background(), DocTypeInvoice, "gone"))
}
