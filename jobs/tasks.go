package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/fiscal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFiscalSubmit submits one ledger document to the tax authority.
	TaskFiscalSubmit = "fiscal:submit"
	// TaskFiscalSweep re-enqueues submissions that stalled in pending
	// or sent, typically after worker downtime.
	TaskFiscalSweep = "fiscal:sweep"
)

// FiscalSubmitPayload identifies the document to submit.
type FiscalSubmitPayload struct {
	DocType string `json:"docType"`
	DocID   string `json:"docId"`
}

// NewFiscalSubmitTask constructs the submission task with retry and
// backoff suited to a flaky authority endpoint.
func NewFiscalSubmitTask(payload FiscalSubmitPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFiscalSubmit, data,
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second)), nil
}

// NewFiscalSweepTask constructs the periodic sweep task.
func NewFiscalSweepTask() *asynq.Task {
	return asynq.NewTask(TaskFiscalSweep, nil)
}

// NewFiscalSubmitHandler processes TaskFiscalSubmit tasks.
func NewFiscalSubmitHandler(submitter *fiscal.Submitter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload FiscalSubmitPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return submitter.Submit(ctx, payload.DocType, payload.DocID)
	}
}

// NewFiscalSweepHandler re-enqueues submissions older than the cutoff.
func NewFiscalSweepHandler(submitter *fiscal.Submitter, client *Client, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		cutoff := time.Now().Add(-10 * time.Minute)
		pending, err := submitter.Pending(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if err := client.EnqueueSubmission(ctx, p.DocType, p.DocID); err != nil {
				logger.Warn("fiscal sweep enqueue",
					slog.String("doc", p.DocID), slog.Any("error", err))
			}
		}
		if len(pending) > 0 {
			logger.Info("fiscal sweep re-enqueued", slog.Int("count", len(pending)))
		}
		return nil
	}
}
