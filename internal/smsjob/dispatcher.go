package smsjob

import (
	"context"
	"fmt"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/pkg/logging"
)

// Dispatcher hands an end-of-call SMS to async delivery: it writes a
// pending job-status row (if a JobStore is configured) and sends the
// job payload to the queue. It implements dialog.SMSDispatcher.
type Dispatcher struct {
	queue  queueClient
	jobs   *JobStore
	logger *logging.Logger
}

// NewDispatcher builds a Dispatcher. jobs is optional: a nil JobStore
// skips status tracking and only enqueues the send.
func NewDispatcher(queue queueClient, jobs *JobStore, logger *logging.Logger) *Dispatcher {
	if queue == nil {
		panic("smsjob: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{queue: queue, jobs: jobs, logger: logger}
}

var _ dialog.SMSDispatcher = (*Dispatcher)(nil)

// Enqueue durably queues an SMS send and returns once it is queued, not
// once it is delivered, per dialog.SMSDispatcher's contract.
func (d *Dispatcher) Enqueue(ctx context.Context, callID, to, body string) error {
	payload, encoded, err := encodePayload(callID, to, body)
	if err != nil {
		return err
	}

	if d.jobs != nil {
		if err := d.jobs.PutPending(ctx, payload.JobID, callID, to); err != nil {
			return fmt.Errorf("smsjob: failed to record pending job: %w", err)
		}
	}

	if err := d.queue.Send(ctx, encoded); err != nil {
		if d.jobs != nil {
			if markErr := d.jobs.MarkFailed(ctx, payload.JobID, err.Error()); markErr != nil {
				d.logger.Warn("smsjob: failed to mark job failed", "job_id", payload.JobID, "error", markErr)
			}
		}
		return fmt.Errorf("smsjob: failed to enqueue sms: %w", err)
	}

	return nil
}
