package jobqueue

import (
	"context"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
)

// Dispatcher turns billing side effects into queued jobs so that mail or S3
// outages never hold up reconciliation.
type Dispatcher struct {
	queue          *Queue
	archiveEnabled bool
}

func NewDispatcher(queue *Queue, archiveEnabled bool) *Dispatcher {
	return &Dispatcher{queue: queue, archiveEnabled: archiveEnabled}
}

func (d *Dispatcher) Notify(ctx context.Context, msg billing.Message) error {
	payload := NotifyUserPayload{UserID: msg.UserID, Kind: msg.Kind, Data: msg.Data}
	_, err := d.queue.EnqueueJob(ctx, JobTypeNotifyUser, payload.ToMap())
	return err
}

func (d *Dispatcher) ScheduleArchive(ctx context.Context, attempt *models.WebhookAttempt) error {
	if !d.archiveEnabled {
		return nil
	}
	payload := ArchivePayload{AttemptID: attempt.ID, Provider: attempt.Provider}
	_, err := d.queue.EnqueueJob(ctx, JobTypeArchivePayload, payload.ToMap())
	return err
}
